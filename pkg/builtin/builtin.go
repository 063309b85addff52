// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package builtin provides the cells shipped with the kinkernel binary.
package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/jllopis/kinkernel/pkg/cell"
	"github.com/jllopis/kinkernel/pkg/config"
	"github.com/jllopis/kinkernel/pkg/shape"
	"github.com/jllopis/kinkernel/pkg/tool"
)

// Roles of the built-in cells.
const (
	RoleSum           = "sum"
	RoleProcessor     = "processor"
	RoleShippingLabel = "shipping_label"
)

// Cell is a runnable cell that can also describe its output.
type Cell interface {
	tool.Runner
	OutputSchemaJSON() (string, error)
}

// SumInput holds the two operands of sum.
type SumInput struct {
	X int `json:"x" jsonschema:"description=First operand"`
	Y int `json:"y" jsonschema:"description=Second operand"`
}

type SumOutput struct {
	Result int `json:"result"`
}

// Sum adds two integers.
var Sum = cell.MustDefine(cell.Config[SumInput, SumOutput]{
	Role:        RoleSum,
	Description: "Adds two integers",
	Input:       shape.MustOf[SumInput](),
	Output:      shape.MustOf[SumOutput](),
	Execute: func(_ context.Context, in SumInput) (SumOutput, error) {
		return SumOutput{Result: in.X + in.Y}, nil
	},
})

type ProcessorInput struct {
	Value1 int    `json:"value1"`
	Value2 string `json:"value2"`
}

type ProcessorOutput struct {
	ProcessedValue int `json:"processed_value"`
}

// ProcessorEnv are the variables every processor instance starts with.
// Settings under cells.processor.env_vars override them.
var ProcessorEnv = []config.EnvVar{
	{Key: "ENV_VAR_1", Value: "value1"},
	{Key: "ENV_VAR_2", Value: "value2"},
}

// Processor doubles value1. It refuses to run without ENV_VAR_1.
var Processor = cell.MustDefine(cell.Config[ProcessorInput, ProcessorOutput]{
	Role:        RoleProcessor,
	Description: "Processes input data",
	Input:       shape.MustOf[ProcessorInput](),
	Output:      shape.MustOf[ProcessorOutput](),
	Execute: func(ctx context.Context, in ProcessorInput) (ProcessorOutput, error) {
		if v, ok := cell.ArgsFrom(ctx).Getenv("ENV_VAR_1"); !ok || v == "" {
			return ProcessorOutput{}, fmt.Errorf("ENV_VAR_1 is not set")
		}
		return ProcessorOutput{ProcessedValue: in.Value1 * 2}, nil
	},
})

type Country struct {
	Code string `json:"code" jsonschema:"description=ISO 3166-1 alpha-2 code"`
	Name string `json:"name,omitempty"`
}

type Address struct {
	Street     string  `json:"street"`
	City       string  `json:"city"`
	PostalCode string  `json:"postal_code"`
	Country    Country `json:"country"`
}

type ShippingRequest struct {
	Recipient string  `json:"recipient"`
	To        Address `json:"to"`
	WeightKg  float64 `json:"weight_kg"`
}

func (r ShippingRequest) Validate() error {
	if r.WeightKg <= 0 {
		return fmt.Errorf("weight_kg must be positive")
	}
	if len(r.To.Country.Code) != 2 {
		return fmt.Errorf("country code must have two letters")
	}
	return nil
}

type Label struct {
	Text string `json:"text"`
	Zone string `json:"zone"` // domestic, international
}

const defaultOrigin = "ES"

// ShippingLabel renders a postal label. The origin country comes from the
// ORIGIN_COUNTRY variable and decides the zone.
var ShippingLabel = cell.MustDefine(cell.Config[ShippingRequest, Label]{
	Role:        RoleShippingLabel,
	Description: "Renders a shipping label for a parcel",
	Input:       shape.MustOf[ShippingRequest](),
	Output:      shape.MustOf[Label](),
	Execute: func(ctx context.Context, in ShippingRequest) (Label, error) {
		origin, ok := cell.ArgsFrom(ctx).Getenv("ORIGIN_COUNTRY")
		if !ok || origin == "" {
			origin = defaultOrigin
		}
		code := strings.ToUpper(in.To.Country.Code)
		country := in.To.Country.Name
		if country == "" {
			country = code
		}

		zone := "international"
		if strings.EqualFold(code, origin) {
			zone = "domestic"
		}
		text := strings.Join([]string{
			in.Recipient,
			in.To.Street,
			strings.TrimSpace(in.To.PostalCode + " " + in.To.City),
			strings.ToUpper(country),
		}, "\n")
		return Label{Text: text, Zone: zone}, nil
	},
})

// Cells creates one instance of every built-in cell, configured by cfg.
// A nil cfg uses the defaults.
func Cells(cfg *config.Config, opts ...cell.Option) []Cell {
	common := func(role string) []cell.Option {
		out := append([]cell.Option(nil), opts...)
		if cfg != nil && cfg.Cell.TimeoutSeconds > 0 {
			out = append(out, cell.WithTimeout(cfg.Cell.Timeout()))
		}
		return append(out, cell.WithEnv(cfg.CellFor(role).EnvVars...))
	}

	return []Cell{
		Sum.New(common(RoleSum)...),
		Processor.New(append([]cell.Option{cell.WithEnv(ProcessorEnv...)}, common(RoleProcessor)...)...),
		ShippingLabel.New(common(RoleShippingLabel)...),
	}
}

// Catalog registers cells in a new catalog.
func Catalog(cells []Cell) (*tool.Catalog, error) {
	catalog := tool.NewCatalog()
	for _, c := range cells {
		if _, err := catalog.Add(c); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}
