package mcp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/kinkernel/pkg/cell"
	"github.com/jllopis/kinkernel/pkg/shape"
	"github.com/jllopis/kinkernel/pkg/tool"
)

type AddInput struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type AddOutput struct {
	Result int `json:"result"`
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func sumFunction(t testing.TB) *tool.FunctionCell {
	t.Helper()
	c := cell.MustDefine(cell.Config[AddInput, AddOutput]{
		Role:        "sum",
		Description: "Adds two integers",
		Input:       shape.MustOf[AddInput](),
		Output:      shape.MustOf[AddOutput](),
		Execute: func(_ context.Context, in AddInput) (AddOutput, error) {
			if in.X < 0 {
				return AddOutput{}, fmt.Errorf("General error")
			}
			return AddOutput{Result: in.X + in.Y}, nil
		},
	}).New(cell.WithLogger(quietLogger()), cell.WithMetrics(nil))

	fc, err := tool.New(c)
	if err != nil {
		t.Fatalf("tool.New error: %v", err)
	}
	return fc
}

func newSumServer(t testing.TB) *Server {
	t.Helper()
	s := NewServer("test-cells", "1.0.0", WithServerLogger(quietLogger()))
	if err := s.RegisterCell(sumFunction(t)); err != nil {
		t.Fatalf("RegisterCell error: %v", err)
	}
	return s
}

func connectHTTP(t *testing.T, s *mcpserver.MCPServer, opts ...ClientOption) *Client {
	t.Helper()
	httpServer := mcpserver.NewTestStreamableHTTPServer(s)
	t.Cleanup(httpServer.Close)

	client, err := NewClientWithStreamableHTTPProtocol(httpServer.URL, mcpgo.LATEST_PROTOCOL_VERSION, opts...)
	if err != nil {
		t.Fatalf("NewClientWithStreamableHTTPProtocol error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestServer_ListsCellsAsTools(t *testing.T) {
	client := connectHTTP(t, newSumServer(t).MCPServer())

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools error: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "sum" || tools[0].Description != "Adds two integers" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
	props := tools[0].InputSchema.Properties
	for _, name := range []string{"x", "y"} {
		if _, ok := props[name]; !ok {
			t.Fatalf("expected property %s in %+v", name, tools[0].InputSchema)
		}
	}
}

func TestServer_CallTool(t *testing.T) {
	client := connectHTTP(t, newSumServer(t).MCPServer())

	tests := []struct {
		name    string
		args    map[string]any
		isError bool
		want    string
	}{
		{name: "success", args: map[string]any{"x": 1, "y": 2}, want: `{"result":3}`},
		{name: "invalid input", args: map[string]any{"x": "a", "y": 2}, isError: true, want: "1 validation error for AddInput"},
		{name: "execution failure", args: map[string]any{"x": -1, "y": 2}, isError: true, want: "General error"},
		{name: "no arguments", args: nil, isError: true, want: "2 validation errors for AddInput"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := client.CallTool(context.Background(), "sum", tt.args)
			if err != nil {
				t.Fatalf("CallTool error: %v", err)
			}
			if result.IsError != tt.isError {
				t.Fatalf("expected IsError=%v, got %+v", tt.isError, result)
			}
			text := textContent(result.Content)
			if tt.isError {
				if !strings.Contains(text, tt.want) {
					t.Fatalf("expected %q in %q", tt.want, text)
				}
				return
			}
			if text != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, text)
			}
		})
	}
}

func TestServer_RegisterCatalog(t *testing.T) {
	catalog := tool.NewCatalog()
	if err := catalog.Register(sumFunction(t)); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	s := NewServer("catalog", "1.0.0", WithServerLogger(quietLogger()))
	if err := s.RegisterCatalog(catalog); err != nil {
		t.Fatalf("RegisterCatalog error: %v", err)
	}

	tools, err := connectHTTP(t, s.MCPServer()).ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools error: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "sum" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestServer_ShutdownWithoutHTTP(t *testing.T) {
	s := NewServer("idle", "1.0.0")
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
}
