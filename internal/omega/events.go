// Package omega drives conversation turns: it authenticates the caller,
// loads history, discovers registry tools, streams a tool-calling LLM
// completion, and persists the outcome while emitting a typed event stream.
package omega

import (
	"github.com/tpmjs/omega/pkg/models"
)

// Stream event names, matched by clients.
const (
	EventEnvWarning    = "env.warning"
	EventMessageDelta  = "message.delta"
	EventToolStarted   = "run.step.tool.started"
	EventToolCompleted = "run.step.tool.completed"
	EventToolsLoaded   = "tools.loaded"
	EventRunCompleted  = "run.completed"
	EventRunFailed     = "run.failed"
)

// EnvWarningPayload lists required credentials the caller has not stored.
type EnvWarningPayload struct {
	Warnings []models.EnvVarWarning `json:"warnings"`
}

// DeltaPayload carries one text fragment of the assistant response.
type DeltaPayload struct {
	Delta string `json:"delta"`
}

// ToolStartedPayload announces a tool invocation the model requested.
type ToolStartedPayload struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Args       string `json:"args,omitempty"`
}

// ToolCompletedPayload reports the terminal state of one tool invocation.
type ToolCompletedPayload struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Status     string `json:"status"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// ToolsLoadedPayload announces dynamic tools newly registered mid-turn.
type ToolsLoadedPayload struct {
	Tools []string `json:"tools"`
}

// Usage totals for one turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// RunCompletedPayload is the terminal success event: usage totals plus the
// discovery snapshot for the conversation.
type RunCompletedPayload struct {
	MessageID          string   `json:"message_id"`
	Usage              Usage    `json:"usage"`
	ToolCallCount      int      `json:"tool_call_count"`
	StaticTools        []string `json:"static_tools"`
	DynamicToolsLoaded []string `json:"dynamic_tools_loaded"`
	AutoDiscovered     []string `json:"auto_discovered"`
}

// RunFailedPayload is the terminal failure event.
type RunFailedPayload struct {
	Error string `json:"error"`
}

// Sink receives stream events as the turn progresses. The HTTP layer
// implements it over SSE; tests record events in memory. Send errors are
// treated as a disconnected client: the turn keeps running and persists
// its result regardless.
type Sink interface {
	Send(event string, payload any) error
}
