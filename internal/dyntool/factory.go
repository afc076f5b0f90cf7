package dyntool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tpmjs/omega/internal/agent"
	"github.com/tpmjs/omega/internal/executor"
	"github.com/tpmjs/omega/internal/observability"
	"github.com/tpmjs/omega/pkg/models"
)

// Runner is the executor-side contract the factory binds tools to.
type Runner interface {
	Execute(ctx context.Context, req *executor.ExecuteRequest) (*executor.ExecuteResponse, error)
}

// Factory builds dynamic tools whose execution delegates to the executor
// service.
type Factory struct {
	runner  Runner
	metrics *observability.Metrics
}

// NewFactory creates a dynamic tool factory.
func NewFactory(runner Runner, metrics *observability.Metrics) *Factory {
	return &Factory{runner: runner, metrics: metrics}
}

// CreateDynamicTool wraps registry metadata and a user's decrypted env vars
// into an invocable tool. The declared input schema is compiled for
// validation when present; entries without a schema fall back to an
// accept-anything object schema.
func (f *Factory) CreateDynamicTool(name string, meta models.ToolMetadata, env map[string]string) (agent.Tool, error) {
	if f == nil || f.runner == nil {
		return nil, fmt.Errorf("dynamic tool factory has no runner")
	}
	if name == "" {
		return nil, fmt.Errorf("dynamic tool requires a sanitized name")
	}

	schema := meta.InputSchema
	var validator *jsonschema.Schema
	if len(schema) > 0 && !bytes.Equal(bytes.TrimSpace(schema), []byte("null")) {
		compiler := jsonschema.NewCompiler()
		resource := "tpmjs://" + meta.ToolID
		if err := compiler.AddResource(resource, bytes.NewReader(schema)); err == nil {
			// A schema that fails to compile is treated as absent rather
			// than rejecting the tool; some registry entries carry junk.
			validator, _ = compiler.Compile(resource)
		}
	}
	if len(schema) == 0 || bytes.Equal(bytes.TrimSpace(schema), []byte("null")) {
		schema = agent.OpenObjectSchema
	}

	envCopy := make(map[string]string, len(env))
	for k, v := range env {
		envCopy[k] = v
	}

	return &dynamicTool{
		name:      name,
		meta:      meta,
		schema:    schema,
		validator: validator,
		env:       envCopy,
		runner:    f.runner,
		metrics:   f.metrics,
	}, nil
}

// dynamicTool is an executor-backed tool handle bound to one conversation's
// credential set.
type dynamicTool struct {
	name      string
	meta      models.ToolMetadata
	schema    json.RawMessage
	validator *jsonschema.Schema
	env       map[string]string
	runner    Runner
	metrics   *observability.Metrics
}

// Metadata returns the registry metadata this handle wraps.
func (d *dynamicTool) Metadata() models.ToolMetadata {
	return d.meta
}

func (d *dynamicTool) Name() string { return d.name }

func (d *dynamicTool) Description() string {
	if d.meta.Description != "" {
		return d.meta.Description
	}
	return fmt.Sprintf("Tool %s from npm package %s", d.meta.Name, d.meta.PackageName)
}

func (d *dynamicTool) Schema() json.RawMessage { return d.schema }

// Execute validates the arguments against the declared schema and proxies
// the call to the executor service. Executor-reported errors come back as
// error outputs so the model sees a failed call, never a null success.
func (d *dynamicTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	if d.validator != nil {
		var decoded any
		if err := json.Unmarshal(params, &decoded); err != nil {
			return d.errorOutput(fmt.Sprintf("invalid JSON arguments: %v", err)), nil
		}
		if err := d.validator.Validate(decoded); err != nil {
			return d.errorOutput(fmt.Sprintf("arguments do not match tool schema: %v", err)), nil
		}
	}

	start := time.Now()
	resp, err := d.runner.Execute(ctx, &executor.ExecuteRequest{
		PackageName: d.meta.PackageName,
		Name:        d.meta.Name,
		Version:     d.meta.Version,
		ImportURL:   d.meta.ImportURL,
		Params:      params,
		Env:         d.env,
	})
	if d.metrics != nil {
		d.metrics.ToolExecutionDuration.WithLabelValues(d.name).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		if d.metrics != nil {
			d.metrics.ToolExecutionCounter.WithLabelValues(d.name, "error").Inc()
		}
		msg := err.Error()
		if resp != nil && resp.Error != "" {
			msg = resp.Error
		}
		return d.errorOutput(msg), nil
	}

	if d.metrics != nil {
		d.metrics.ToolExecutionCounter.WithLabelValues(d.name, "success").Inc()
	}

	output := &agent.ToolOutput{Content: "null"}
	if len(resp.Output) > 0 {
		output.Content = string(resp.Output)
	}
	output.DurationMs = resp.ExecutionTimeMs
	return output, nil
}

func (d *dynamicTool) errorOutput(msg string) *agent.ToolOutput {
	return &agent.ToolOutput{Content: msg, IsError: true}
}
