// Package agent defines the LLM provider abstraction and the tool interface
// the Omega orchestrator drives.
package agent

import (
	"context"
	"encoding/json"

	"github.com/tpmjs/omega/pkg/models"
)

// LLMProvider is the interface for streaming model backends.
//
// Implementations must be safe for concurrent use; multiple goroutines may
// call Complete simultaneously for different turns.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Configured reports whether the provider has credentials to serve
	// requests. Unconfigured providers must be rejected before streaming.
	Configured() bool
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Model specifies which model to use; empty selects the provider default.
	Model string `json:"model"`

	// System is the system prompt, handled separately from messages.
	System string `json:"system,omitempty"`

	// Messages contains the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools defines callable tools the model may request.
	Tools []Tool `json:"tools,omitempty"`

	// MaxTokens limits the maximum length of the generated response.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage represents a single message in a conversation.
// Role values: "user", "assistant", "tool".
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk is a single unit in a streaming model response. Exactly
// one of Text, ToolCall, Done, or Error is meaningful per chunk; token
// counts are populated on the final (Done) chunk when the provider reports
// usage.
type CompletionChunk struct {
	Text         string           `json:"text,omitempty"`
	ToolCall     *models.ToolCall `json:"tool_call,omitempty"`
	Done         bool             `json:"done,omitempty"`
	Error        error            `json:"-"`
	InputTokens  int              `json:"input_tokens,omitempty"`
	OutputTokens int              `json:"output_tokens,omitempty"`
}

// Tool is an executable capability exposed to the model.
type Tool interface {
	// Name returns the model-facing callable name.
	Name() string

	// Description returns a natural-language description.
	Description() string

	// Schema returns the JSON Schema for the tool's input.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters.
	Execute(ctx context.Context, params json.RawMessage) (*ToolOutput, error)
}

// ToolOutput is the result of a tool execution.
type ToolOutput struct {
	// Content is the serialized result handed back to the model.
	Content string `json:"content"`
	// IsError marks the result as a tool failure the model should see.
	IsError bool `json:"is_error,omitempty"`
	// DurationMs is the execution time reported by the backing runtime.
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// OpenObjectSchema is the accept-anything fallback schema used for registry
// entries without a declared input schema.
var OpenObjectSchema = json.RawMessage(`{"type":"object","properties":{},"additionalProperties":true}`)
