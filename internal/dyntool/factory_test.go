package dyntool

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/tpmjs/omega/internal/executor"
	"github.com/tpmjs/omega/pkg/models"
)

type fakeRunner struct {
	lastReq *executor.ExecuteRequest
	resp    *executor.ExecuteResponse
	err     error
}

func (f *fakeRunner) Execute(_ context.Context, req *executor.ExecuteRequest) (*executor.ExecuteResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

func testMeta() models.ToolMetadata {
	return models.ToolMetadata{
		ToolID:      "@tpmjs/math::add",
		Name:        "add",
		PackageName: "@tpmjs/math",
		Version:     "1.0.0",
		ImportURL:   "https://esm.sh/@tpmjs/math@1.0.0",
	}
}

func TestCreateDynamicToolSchemaFallback(t *testing.T) {
	f := NewFactory(&fakeRunner{}, nil)

	for _, schema := range []json.RawMessage{nil, json.RawMessage("null"), json.RawMessage(`{"type": 42}`)} {
		meta := testMeta()
		meta.InputSchema = schema
		tool, err := f.CreateDynamicTool("tpmjs_math_add", meta, nil)
		if err != nil {
			t.Fatalf("CreateDynamicTool: %v", err)
		}
		var parsed map[string]any
		if err := json.Unmarshal(tool.Schema(), &parsed); err != nil {
			t.Fatalf("schema is not valid JSON: %v", err)
		}
		if schema == nil || string(schema) == "null" {
			if parsed["type"] != "object" {
				t.Errorf("fallback schema type = %v, want object", parsed["type"])
			}
		}
	}
}

func TestDynamicToolExecuteSuccess(t *testing.T) {
	runner := &fakeRunner{resp: &executor.ExecuteResponse{
		Success:         true,
		Output:          json.RawMessage(`{"sum":7}`),
		ExecutionTimeMs: 42,
	}}
	f := NewFactory(runner, nil)
	env := map[string]string{"MATH_API_KEY": "secret"}

	tool, err := f.CreateDynamicTool("tpmjs_math_add", testMeta(), env)
	if err != nil {
		t.Fatalf("CreateDynamicTool: %v", err)
	}
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"a":3,"b":4}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.IsError {
		t.Errorf("unexpected error output: %s", out.Content)
	}
	if out.Content != `{"sum":7}` {
		t.Errorf("Content = %q", out.Content)
	}
	if out.DurationMs != 42 {
		t.Errorf("DurationMs = %d, want 42", out.DurationMs)
	}
	if runner.lastReq.PackageName != "@tpmjs/math" || runner.lastReq.Name != "add" {
		t.Errorf("request routed wrong: %+v", runner.lastReq)
	}
	if runner.lastReq.Env["MATH_API_KEY"] != "secret" {
		t.Error("env vars not forwarded to executor")
	}
}

func TestDynamicToolExecuteNullOutput(t *testing.T) {
	runner := &fakeRunner{resp: &executor.ExecuteResponse{Success: true}}
	f := NewFactory(runner, nil)

	tool, _ := f.CreateDynamicTool("tpmjs_math_add", testMeta(), nil)
	out, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Content != "null" {
		t.Errorf("Content = %q, want \"null\"", out.Content)
	}
	if string(runner.lastReq.Params) != "{}" {
		t.Errorf("empty params should default to {}, got %q", runner.lastReq.Params)
	}
}

func TestDynamicToolExecuteFailure(t *testing.T) {
	runner := &fakeRunner{
		resp: &executor.ExecuteResponse{Success: false, Error: "boom"},
		err:  errors.New("tool execution failed: boom"),
	}
	f := NewFactory(runner, nil)

	tool, _ := f.CreateDynamicTool("tpmjs_math_add", testMeta(), nil)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("executor failure must be an error output, not an error: %v", err)
	}
	if !out.IsError {
		t.Fatal("expected IsError output")
	}
	if out.Content != "boom" {
		t.Errorf("Content = %q, want executor error message", out.Content)
	}
}

func TestDynamicToolSchemaValidation(t *testing.T) {
	runner := &fakeRunner{resp: &executor.ExecuteResponse{Success: true}}
	f := NewFactory(runner, nil)

	meta := testMeta()
	meta.InputSchema = json.RawMessage(`{
		"type": "object",
		"properties": {"a": {"type": "number"}},
		"required": ["a"],
		"additionalProperties": false
	}`)
	tool, err := f.CreateDynamicTool("tpmjs_math_add", meta, nil)
	if err != nil {
		t.Fatalf("CreateDynamicTool: %v", err)
	}

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"b":1}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.IsError || !strings.Contains(out.Content, "schema") {
		t.Errorf("expected schema validation failure, got %+v", out)
	}
	if runner.lastReq != nil {
		t.Error("executor must not be called for invalid arguments")
	}

	out, err = tool.Execute(context.Background(), json.RawMessage(`{"a":2}`))
	if err != nil || out.IsError {
		t.Errorf("valid arguments rejected: out=%+v err=%v", out, err)
	}
}
