package tools

import (
	"context"
	"encoding/json"
	"testing"
)

func echoTool() Tool {
	return &FuncTool{
		ToolName:        "echo",
		ToolDescription: "echoes the input back",
		Schema:          json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			var payload struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(args, &payload); err != nil {
				return "", err
			}
			return payload.Text, nil
		},
	}
}

func TestRegistryInvoke(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool())

	got, err := r.Invoke(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if got != "hi" {
		t.Errorf("Invoke = %q, want %q", got, "hi")
	}

	if _, err := r.Invoke(context.Background(), "missing", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestRegistryListOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&FuncTool{ToolName: "b"})
	r.Register(&FuncTool{ToolName: "a"})
	r.Register(&FuncTool{ToolName: "b"}) // 重复注册不重复列出

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("List returned %d tools, want 2", len(list))
	}
	if list[0].Name() != "b" || list[1].Name() != "a" {
		t.Errorf("List order = %s, %s", list[0].Name(), list[1].Name())
	}
}
