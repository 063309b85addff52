// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kinkernel/pkg/cell"
	"github.com/jllopis/kinkernel/pkg/errors"
	"github.com/jllopis/kinkernel/pkg/schema"
	"github.com/jllopis/kinkernel/pkg/telemetry"
	"github.com/jllopis/kinkernel/pkg/tool"
)

// ToolCaller executes a named tool on an MCP server.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// RemoteCell runs a tool hosted by an MCP server as if it were a local
// cell: it describes itself through the tool definition and answers every
// run with a JSON envelope.
type RemoteCell struct {
	tool   mcp.Tool
	caller ToolCaller
	source string
}

var _ tool.Runner = (*RemoteCell)(nil)

// NewRemoteCell wraps t, called through caller. Source names the server in
// traces; it may be empty.
func NewRemoteCell(t mcp.Tool, caller ToolCaller, source string) (*RemoteCell, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, errors.New(errors.CodeInvalidDefinition, "remote cell requires a tool name", nil)
	}
	if caller == nil {
		return nil, errors.New(errors.CodeInvalidDefinition, "remote cell requires a tool caller", nil)
	}
	return &RemoteCell{tool: t, caller: caller, source: source}, nil
}

// RemoteCells lists the tools of c and wraps each one.
func RemoteCells(ctx context.Context, c *Client, source string) ([]*RemoteCell, error) {
	tools, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*RemoteCell, 0, len(tools))
	for _, t := range tools {
		rc, err := NewRemoteCell(t, c, source)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}

func (r *RemoteCell) Role() (string, error) { return r.tool.Name, nil }

func (r *RemoteCell) Description() (string, error) {
	if r.tool.Description == "" {
		return "", errors.New(errors.CodeInvalidDefinition, fmt.Sprintf("remote cell %s: description is not defined", r.tool.Name), nil)
	}
	return r.tool.Description, nil
}

// InputSchemaJSON returns the tool's input schema titled with the tool
// name, so it can be dereferenced like a local cell's schema.
func (r *RemoteCell) InputSchemaJSON() (string, error) {
	raw := []byte(r.tool.RawInputSchema)
	if len(raw) == 0 {
		encoded, err := json.Marshal(r.tool.InputSchema)
		if err != nil {
			return "", errors.New(errors.CodeInvalidSchema, fmt.Sprintf("remote cell %s: encode input schema", r.tool.Name), err)
		}
		raw = encoded
	}
	doc, err := schema.Parse(raw)
	if err != nil {
		return "", errors.New(errors.CodeInvalidSchema, fmt.Sprintf("remote cell %s: invalid input schema", r.tool.Name), err)
	}
	if title, _ := doc["title"].(string); title == "" {
		doc["title"] = r.tool.Name
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", errors.New(errors.CodeInvalidSchema, fmt.Sprintf("remote cell %s: encode input schema", r.tool.Name), err)
	}
	return string(out), nil
}

// RunJSON calls the remote tool. Transport failures and tool errors both
// come back as error envelopes.
func (r *RemoteCell) RunJSON(ctx context.Context, input string) string {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "RemoteCell.Run",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.ToolAttributes(r.tool.Name, r.sourceName())...),
	)
	defer span.End()

	resp := r.run(ctx, input)
	span.SetAttributes(telemetry.PayloadAttributes(input, resp.Content, 0)...)
	outcome := telemetry.OutcomeSuccess
	if !resp.OK() {
		outcome = telemetry.OutcomeError
		span.SetStatus(codes.Error, resp.Content)
	}
	span.SetAttributes(attribute.String(telemetry.AttrCellOutcome, outcome))
	return resp.JSON()
}

func (r *RemoteCell) run(ctx context.Context, input string) cell.Response {
	var args map[string]any
	if trimmed := strings.TrimSpace(input); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
			return cell.Fail(errors.New(errors.CodeInvalidInput, fmt.Sprintf("remote cell %s: input must be a JSON object", r.tool.Name), err))
		}
	}

	result, err := r.caller.CallTool(ctx, r.tool.Name, args)
	if err != nil {
		return cell.Fail(err)
	}
	if result == nil {
		return cell.Fail(errors.New(errors.CodeMissingContent, fmt.Sprintf("remote cell %s returned no result", r.tool.Name), nil))
	}
	if result.IsError {
		return cell.Fail(errors.New(errors.CodeExecutionFailure, textContent(result.Content), nil))
	}
	if result.StructuredContent != nil {
		data, err := json.Marshal(result.StructuredContent)
		if err != nil {
			return cell.Fail(errors.New(errors.CodeInvalidOutput, fmt.Sprintf("remote cell %s: encode structured content", r.tool.Name), err))
		}
		return cell.Succeed(string(data))
	}
	return cell.Succeed(textContent(result.Content))
}

func (r *RemoteCell) sourceName() string {
	if r.source == "" {
		return "mcp"
	}
	return "mcp:" + r.source
}

func textContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
