package omega

import (
	"strings"

	"github.com/tpmjs/omega/pkg/models"
)

// StepEventKind discriminates the events produced while a turn streams.
type StepEventKind int

const (
	StepTextDelta StepEventKind = iota
	StepToolCall
	StepToolResult
	StepUsage
)

// StepEvent is one unit of turn progress. The orchestrator produces a
// sequence of these; the accumulator folds them into the turn result while
// the stream sink forwards them to the client.
type StepEvent struct {
	Kind         StepEventKind
	Delta        string
	ToolCall     *models.ToolCall
	ToolResult   *models.ToolResult
	InputTokens  int
	OutputTokens int
}

// TurnAccumulator folds step events into the durable outcome of a turn:
// the assistant text, the deduplicated tool-call list, the bundled tool
// results, and token usage.
type TurnAccumulator struct {
	text        strings.Builder
	toolCalls   []models.ToolCall
	seenCalls   map[string]bool
	toolResults []models.ToolResult
	usage       Usage
}

// NewTurnAccumulator returns an empty accumulator.
func NewTurnAccumulator() *TurnAccumulator {
	return &TurnAccumulator{seenCalls: make(map[string]bool)}
}

// Apply folds one step event into the accumulated result.
func (a *TurnAccumulator) Apply(ev StepEvent) {
	switch ev.Kind {
	case StepTextDelta:
		a.text.WriteString(ev.Delta)
	case StepToolCall:
		if ev.ToolCall == nil || a.seenCalls[ev.ToolCall.ID] {
			return
		}
		a.seenCalls[ev.ToolCall.ID] = true
		a.toolCalls = append(a.toolCalls, *ev.ToolCall)
	case StepToolResult:
		if ev.ToolResult == nil {
			return
		}
		a.toolResults = append(a.toolResults, *ev.ToolResult)
	case StepUsage:
		a.usage.InputTokens += ev.InputTokens
		a.usage.OutputTokens += ev.OutputTokens
	}
}

// Text returns the full assistant response accumulated so far.
func (a *TurnAccumulator) Text() string { return a.text.String() }

// ToolCalls returns the deduplicated tool calls in emission order.
func (a *TurnAccumulator) ToolCalls() []models.ToolCall { return a.toolCalls }

// ToolResults returns all tool results in completion order.
func (a *TurnAccumulator) ToolResults() []models.ToolResult { return a.toolResults }

// Usage returns the summed token usage across steps.
func (a *TurnAccumulator) Usage() Usage { return a.usage }
