package omega

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/tpmjs/omega/pkg/models"
)

func TestAccumulatorFold(t *testing.T) {
	acc := NewTurnAccumulator()

	acc.Apply(StepEvent{Kind: StepTextDelta, Delta: "Hel"})
	acc.Apply(StepEvent{Kind: StepTextDelta, Delta: "lo"})
	call := models.ToolCall{ID: "c1", Name: "t", Input: json.RawMessage(`{}`)}
	acc.Apply(StepEvent{Kind: StepToolCall, ToolCall: &call})
	acc.Apply(StepEvent{Kind: StepToolCall, ToolCall: &call}) // duplicate id
	acc.Apply(StepEvent{Kind: StepToolResult, ToolResult: &models.ToolResult{ToolCallID: "c1", ToolName: "t", Content: "ok"}})
	acc.Apply(StepEvent{Kind: StepUsage, InputTokens: 10, OutputTokens: 4})
	acc.Apply(StepEvent{Kind: StepUsage, InputTokens: 3, OutputTokens: 2})

	if acc.Text() != "Hello" {
		t.Errorf("Text = %q", acc.Text())
	}
	if len(acc.ToolCalls()) != 1 {
		t.Errorf("ToolCalls = %d, want duplicate ids collapsed", len(acc.ToolCalls()))
	}
	if len(acc.ToolResults()) != 1 {
		t.Errorf("ToolResults = %d", len(acc.ToolResults()))
	}
	if u := acc.Usage(); u.InputTokens != 13 || u.OutputTokens != 6 {
		t.Errorf("Usage = %+v, want summed across steps", u)
	}
}

func TestBuildHistoryRoles(t *testing.T) {
	msgs := []*models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "calling a tool", ToolCalls: []models.ToolCall{{ID: "c1", Name: "t"}}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{{ToolCallID: "c1", ToolName: "t", Content: "out"}}},
		{Role: models.RoleTool}, // empty tool message is dropped
		{Role: models.RoleAssistant, Content: "done"},
	}
	history := buildHistory(msgs)
	if len(history) != 4 {
		t.Fatalf("len = %d, want 4", len(history))
	}
	if history[1].Role != "assistant" || len(history[1].ToolCalls) != 1 {
		t.Errorf("assistant entry = %+v", history[1])
	}
	if history[2].Role != "tool" || history[2].ToolResults[0].ToolCallID != "c1" {
		t.Errorf("tool entry = %+v", history[2])
	}
}

func TestBuildSystemPromptOverrides(t *testing.T) {
	settings := &models.UserSettings{
		SystemPrompt:  "always answer in French",
		PinnedToolIDs: []string{"@tpmjs/math::add"},
	}
	prompt := BuildSystemPrompt("base prompt", settings, nil, nil)
	if !strings.Contains(prompt, "always answer in French") {
		t.Errorf("prompt missing override: %q", prompt)
	}
	if !strings.Contains(prompt, "@tpmjs/math::add") {
		t.Error("prompt missing pinned tool hint")
	}
	if strings.Contains(prompt, "base prompt") {
		t.Error("override should replace the base prompt")
	}

	plain := BuildSystemPrompt("base prompt", nil, nil, nil)
	if !strings.Contains(plain, "base prompt") {
		t.Errorf("plain prompt = %q", plain)
	}
}
