package llm

import (
	"encoding/json"
	"testing"
)

func TestToolWireForm(t *testing.T) {
	tool := Tool{
		Type: ToolTypeFunction,
		Function: FunctionDef{
			Name:       "sum",
			Parameters: map[string]any{"type": "object"},
		},
	}
	data, err := json.Marshal(tool)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"function","function":{"name":"sum","parameters":{"type":"object"}}}`
	if string(data) != want {
		t.Fatalf("unexpected encoding:\n got %s\nwant %s", data, want)
	}
}

func TestToolResult(t *testing.T) {
	msg := ToolResult(ToolCall{ID: "call_1"}, `{"result":3}`)
	if msg.Role != RoleTool || msg.ToolCallID != "call_1" || msg.Content != `{"result":3}` {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
