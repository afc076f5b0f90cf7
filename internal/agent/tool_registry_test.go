package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type echoTool struct{ name string }

func (e echoTool) Name() string            { return e.name }
func (e echoTool) Description() string     { return "echoes input" }
func (e echoTool) Schema() json.RawMessage { return OpenObjectSchema }
func (e echoTool) Execute(_ context.Context, params json.RawMessage) (*ToolOutput, error) {
	return &ToolOutput{Content: string(params)}, nil
}

func TestRegistryRegisterAndExecute(t *testing.T) {
	r := NewToolRegistry()
	r.Register(echoTool{name: "echo"})

	out, err := r.Execute(context.Background(), "echo", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if out.IsError || out.Content != `{"x":1}` {
		t.Errorf("output = %+v", out)
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewToolRegistry()
	out, err := r.Execute(context.Background(), "missing", nil)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !out.IsError {
		t.Error("unknown tool must produce an error output")
	}
}

func TestRegistryOversizedParams(t *testing.T) {
	r := NewToolRegistry()
	r.Register(echoTool{name: "echo"})

	big := json.RawMessage(strings.Repeat("x", MaxToolParamsSize+1))
	out, err := r.Execute(context.Background(), "echo", big)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !out.IsError {
		t.Error("oversized params must produce an error output")
	}
}

func TestRegistryListPreservesOrder(t *testing.T) {
	r := NewToolRegistry()
	r.Register(echoTool{name: "b"})
	r.Register(echoTool{name: "a"})
	r.Register(echoTool{name: "b"}) // re-register keeps position

	tools := r.List()
	if len(tools) != 2 {
		t.Fatalf("len = %d, want 2", len(tools))
	}
	if tools[0].Name() != "b" || tools[1].Name() != "a" {
		t.Errorf("order = [%s %s], want [b a]", tools[0].Name(), tools[1].Name())
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}
