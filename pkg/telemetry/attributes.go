// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/jllopis/kinkernel/pkg/errors"
)

// Attribute keys for cell spans and metrics.
const (
	AttrCellRole    = "cell.role"
	AttrCellRunID   = "cell.run_id"
	AttrCellOutcome = "cell.outcome"
	AttrCellStage   = "cell.stage"
	AttrCellInput   = "cell.input"
	AttrCellContent = "cell.content"
	AttrErrorCode   = "error.code"
	AttrToolName    = "tool.name"
	AttrToolSource  = "tool.source" // "local" or "mcp"
)

// Outcomes recorded under AttrCellOutcome.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

const defaultMaxAttrLen = 500

// CellAttributes returns the attributes every cell span carries.
func CellAttributes(role, runID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrCellRole, role)}
	if runID != "" {
		attrs = append(attrs, attribute.String(AttrCellRunID, runID))
	}
	return attrs
}

// PayloadAttributes records the raw input and envelope content, truncated to maxLen.
func PayloadAttributes(input, content string, maxLen int) []attribute.KeyValue {
	if maxLen <= 0 {
		maxLen = defaultMaxAttrLen
	}
	var attrs []attribute.KeyValue
	if input != "" {
		attrs = append(attrs, attribute.String(AttrCellInput, truncate(input, maxLen)))
	}
	if content != "" {
		attrs = append(attrs, attribute.String(AttrCellContent, truncate(content, maxLen)))
	}
	return attrs
}

// ToolAttributes describes a cell invoked through a tool-call surface.
func ToolAttributes(name, source string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrToolName, name),
		attribute.String(AttrToolSource, source),
	}
}

// ErrorAttributes returns the error code of err, if any.
func ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{attribute.String(AttrErrorCode, string(errors.CodeOf(err)))}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
