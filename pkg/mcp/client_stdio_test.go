package mcp

import (
	"context"
	"os"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

const mcpStdioHelperEnv = "KINKERNEL_MCP_STDIO_HELPER"

func TestHelperMCPStdioServer(t *testing.T) {
	if os.Getenv(mcpStdioHelperEnv) != "1" {
		return
	}

	if err := newSumServer(t).ServeStdio(); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestClient_Stdio_ListToolsAndCall(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}

	client, err := NewClientWithStdioProtocol(exe,
		[]string{"-test.run", "TestHelperMCPStdioServer"},
		map[string]string{mcpStdioHelperEnv: "1"},
		mcpgo.LATEST_PROTOCOL_VERSION,
	)
	if err != nil {
		t.Fatalf("NewClientWithStdioProtocol error: %v", err)
	}
	defer client.Close()

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools error: %v", err)
	}
	if len(tools) == 0 || tools[0].Name != "sum" {
		t.Fatalf("Expected tool 'sum', got %+v", tools)
	}

	result, err := client.CallTool(context.Background(), "sum", map[string]any{"x": 4, "y": 5})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if result == nil || result.IsError {
		t.Fatalf("Expected successful tool result, got %+v", result)
	}
	if got := textContent(result.Content); got != `{"result":9}` {
		t.Fatalf("unexpected content: %q", got)
	}
}
