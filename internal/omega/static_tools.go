package omega

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tpmjs/omega/internal/agent"
	"github.com/tpmjs/omega/internal/dyntool"
	"github.com/tpmjs/omega/internal/executor"
	"github.com/tpmjs/omega/internal/registry"
	"github.com/tpmjs/omega/pkg/models"
)

// The two static registry tools available on every turn.
const (
	RegistrySearchToolName  = "registrySearchTool"
	RegistryExecuteToolName = "registryExecuteTool"
)

// searchToolOutput is the JSON body registrySearchTool hands to the model.
// The orchestrator parses the same shape to register discovered tools.
type searchToolOutput struct {
	Query string                `json:"query"`
	Count int                   `json:"count"`
	Tools []models.ToolMetadata `json:"tools"`
}

// registrySearchTool lets the model search the tool index explicitly.
type registrySearchTool struct {
	client *registry.Client
	limit  int
}

func newRegistrySearchTool(client *registry.Client, limit int) *registrySearchTool {
	if limit <= 0 {
		limit = 10
	}
	return &registrySearchTool{client: client, limit: limit}
}

func (t *registrySearchTool) Name() string { return RegistrySearchToolName }

func (t *registrySearchTool) Description() string {
	return "Search the TPMJS registry for tools matching a free-text query. Found tools become callable on this conversation."
}

func (t *registrySearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Free-text description of the capability needed"}
		},
		"required": ["query"]
	}`)
}

func (t *registrySearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return &agent.ToolOutput{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(args.Query) == "" {
		return &agent.ToolOutput{Content: "query is required", IsError: true}, nil
	}

	result := t.client.SearchRelevantTools(ctx, args.Query, t.limit)
	out := searchToolOutput{
		Query: args.Query,
		Count: len(result.Tools),
		Tools: result.Tools,
	}
	if out.Tools == nil {
		out.Tools = []models.ToolMetadata{}
	}
	body, err := json.Marshal(out)
	if err != nil {
		return &agent.ToolOutput{Content: fmt.Sprintf("encode search result: %v", err), IsError: true}, nil
	}
	return &agent.ToolOutput{Content: string(body)}, nil
}

// registryExecuteTool lets the model execute a registry tool by package and
// name without loading it first. It carries the caller's decrypted env vars
// for the duration of one turn.
type registryExecuteTool struct {
	runner dyntool.Runner
	env    map[string]string
}

func newRegistryExecuteTool(runner dyntool.Runner, env map[string]string) *registryExecuteTool {
	return &registryExecuteTool{runner: runner, env: env}
}

func (t *registryExecuteTool) Name() string { return RegistryExecuteToolName }

func (t *registryExecuteTool) Description() string {
	return "Execute a TPMJS registry tool directly by package and tool name. Use when a tool is known but not loaded."
}

func (t *registryExecuteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"packageName": {"type": "string", "description": "npm package name, e.g. @tpmjs/weather"},
			"toolName": {"type": "string", "description": "Exported tool name within the package"},
			"version": {"type": "string", "description": "Package version, defaults to latest"},
			"importUrl": {"type": "string", "description": "Override module URL"},
			"params": {"type": "object", "description": "Arguments for the tool"}
		},
		"required": ["packageName", "toolName"]
	}`)
}

func (t *registryExecuteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	var args struct {
		PackageName string          `json:"packageName"`
		ToolName    string          `json:"toolName"`
		Version     string          `json:"version"`
		ImportURL   string          `json:"importUrl"`
		Params      json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return &agent.ToolOutput{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}
	if args.PackageName == "" || args.ToolName == "" {
		return &agent.ToolOutput{Content: "packageName and toolName are required", IsError: true}, nil
	}

	importURL := args.ImportURL
	if importURL == "" {
		version := args.Version
		if version == "" {
			version = "latest"
		}
		importURL = fmt.Sprintf("https://esm.sh/%s@%s", args.PackageName, version)
	}
	callParams := args.Params
	if len(callParams) == 0 {
		callParams = json.RawMessage(`{}`)
	}

	resp, err := t.runner.Execute(ctx, &executor.ExecuteRequest{
		PackageName: args.PackageName,
		Name:        args.ToolName,
		Version:     args.Version,
		ImportURL:   importURL,
		Params:      callParams,
		Env:         t.env,
	})
	if err != nil {
		msg := err.Error()
		if resp != nil && resp.Error != "" {
			msg = resp.Error
		}
		return &agent.ToolOutput{Content: msg, IsError: true}, nil
	}

	out := &agent.ToolOutput{Content: "null"}
	if len(resp.Output) > 0 {
		out.Content = string(resp.Output)
	}
	out.DurationMs = resp.ExecutionTimeMs
	return out, nil
}
