package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tpmjs/omega/internal/agent"
	"github.com/tpmjs/omega/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicProvider implements agent.LLMProvider for Claude models.
type AnthropicProvider struct {
	client     anthropic.Client
	configured bool
}

// NewAnthropicProvider creates an Anthropic provider. An empty API key
// yields an unconfigured provider that rejects Complete calls.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	if apiKey == "" {
		return &AnthropicProvider{}
	}
	return &AnthropicProvider{
		client:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		configured: true,
	}
}

// Name returns the provider identifier used for routing and metrics.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Configured reports whether an API key is present.
func (p *AnthropicProvider) Configured() bool {
	return p != nil && p.configured
}

// Complete sends a streaming completion request.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if !p.Configured() {
		return nil, errors.New("anthropic api key not configured")
	}

	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	model := req.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)

		var currentToolCall *models.ToolCall
		var currentToolInput strings.Builder
		var inputTokens, outputTokens int

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				start := event.AsMessageStart()
				if start.Message.Usage.InputTokens > 0 {
					inputTokens = int(start.Message.Usage.InputTokens)
				}

			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					toolUse := block.AsToolUse()
					currentToolCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
					currentToolInput.Reset()
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						chunks <- &agent.CompletionChunk{Text: delta.Text}
					}
				case "input_json_delta":
					currentToolInput.WriteString(delta.PartialJSON)
				}

			case "content_block_stop":
				if currentToolCall != nil {
					input := currentToolInput.String()
					if input == "" {
						input = "{}"
					}
					currentToolCall.Input = json.RawMessage(input)
					chunks <- &agent.CompletionChunk{ToolCall: currentToolCall}
					currentToolCall = nil
				}

			case "message_delta":
				delta := event.AsMessageDelta()
				if delta.Usage.OutputTokens > 0 {
					outputTokens = int(delta.Usage.OutputTokens)
				}

			case "message_stop":
				chunks <- &agent.CompletionChunk{
					Done:         true,
					InputTokens:  inputTokens,
					OutputTokens: outputTokens,
				}
				return
			}
		}
		if err := stream.Err(); err != nil {
			chunks <- &agent.CompletionChunk{Error: err, Done: true}
			return
		}
		chunks <- &agent.CompletionChunk{
			Done:         true,
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
		}
	}()

	return chunks, nil
}

func convertAnthropicMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			// Tool results travel as user messages in the Anthropic API.
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func convertAnthropicTools(tools []agent.Tool) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name(), err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name())
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name())
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description())
		result = append(result, toolParam)
	}
	return result, nil
}
