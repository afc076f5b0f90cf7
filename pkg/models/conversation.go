package models

import (
	"encoding/json"
	"time"
)

// ExecutionState tracks whether a conversation currently has a turn in flight.
type ExecutionState string

const (
	ExecutionIdle    ExecutionState = "idle"
	ExecutionRunning ExecutionState = "running"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Conversation is a durable chat thread between a user and the Omega agent.
type Conversation struct {
	ID             string         `json:"id"`
	OwnerID        string         `json:"owner_id"`
	ParticipantIDs []string       `json:"participant_ids,omitempty"`
	Title          string         `json:"title,omitempty"`
	ExecutionState ExecutionState `json:"execution_state"`
	InputTokens    int            `json:"input_tokens"`
	OutputTokens   int            `json:"output_tokens"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// HasParticipant reports whether the given user owns or participates in the
// conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	if c == nil || userID == "" {
		return false
	}
	if c.OwnerID == userID {
		return true
	}
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Message is an append-only entry in a conversation transcript.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Role           Role         `json:"role"`
	Content        string       `json:"content"`
	ToolCalls      []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults    []ToolResult `json:"tool_results,omitempty"`
	InputTokens    int          `json:"input_tokens,omitempty"`
	OutputTokens   int          `json:"output_tokens,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ToolCall represents the model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution, keyed back to the
// originating call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// RunStatus is the lifecycle state of a single tool invocation.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// ToolRun is the durable record of one tool invocation within a conversation.
type ToolRun struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	ToolName       string          `json:"tool_name"`
	Input          json.RawMessage `json:"input,omitempty"`
	Status         RunStatus       `json:"status"`
	Output         string          `json:"output,omitempty"`
	Error          string          `json:"error,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    time.Time       `json:"completed_at,omitempty"`
	DurationMs     int64           `json:"duration_ms,omitempty"`
}
