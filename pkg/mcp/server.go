// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp exposes cells as Model Context Protocol tools and runs cells
// hosted by other MCP servers.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kinkernel/pkg/errors"
	"github.com/jllopis/kinkernel/pkg/telemetry"
	"github.com/jllopis/kinkernel/pkg/tool"
)

const tracerName = "github.com/jllopis/kinkernel/pkg/mcp"

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger used for tool calls.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server publishes function cells as MCP tools.
type Server struct {
	mcpServer *server.MCPServer
	logger    *slog.Logger

	mu         sync.Mutex
	httpServer *server.StreamableHTTPServer
}

// NewServer creates a new MCP server.
func NewServer(name, version string, opts ...ServerOption) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// RegisterCell publishes fc as a tool named after its role. The tool's
// input schema is the cell's dereferenced parameters.
func (s *Server) RegisterCell(fc *tool.FunctionCell) error {
	params, err := json.Marshal(fc.Parameters())
	if err != nil {
		return errors.New(errors.CodeInvalidSchema, fmt.Sprintf("cell %s: encode parameters", fc.Name()), err)
	}
	s.mcpServer.AddTool(mcp.NewToolWithRawSchema(fc.Name(), fc.Description(), params), s.handler(fc))
	s.logger.Debug("mcp tool registered", "tool", fc.Name())
	return nil
}

// RegisterCatalog publishes every cell of c.
func (s *Server) RegisterCatalog(c *tool.Catalog) error {
	for _, fc := range c.List() {
		if err := s.RegisterCell(fc); err != nil {
			return err
		}
	}
	return nil
}

// ServeStdio serves on stdin/stdout until the input is closed.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeStreamableHTTP serves the streamable HTTP transport on addr. It
// blocks until Shutdown is called or the listener fails.
func (s *Server) ServeStreamableHTTP(addr string) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return fmt.Errorf("mcp: http transport already started")
	}
	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	s.httpServer = httpServer
	s.mu.Unlock()

	s.logger.Info("mcp http transport listening", "addr", addr)
	return httpServer.Start(addr)
}

// Shutdown stops the HTTP transport, if running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}

func (s *Server) handler(fc *tool.FunctionCell) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := otel.Tracer(tracerName).Start(ctx, "MCP.CallTool",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(telemetry.ToolAttributes(fc.Name(), "mcp")...),
		)
		defer span.End()

		var input any
		if args := request.GetArguments(); args != nil {
			input = args
		}

		out, err := fc.Call(ctx, input)
		if err != nil {
			span.SetStatus(codes.Error, "tool call failed")
			span.SetAttributes(telemetry.ErrorAttributes(err)...)
			s.logger.DebugContext(ctx, "mcp tool call failed", "tool", fc.Name(), "error", err)
			return mcp.NewToolResultError(errors.Diagnostic(err)), nil
		}
		span.SetStatus(codes.Ok, "")
		return mcp.NewToolResultText(fmt.Sprint(out)), nil
	}
}
