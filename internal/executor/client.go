// Package executor calls the external TPMJS executor service, which runs
// tool code inside a sandbox. Only the HTTP contract lives here; execution
// itself is entirely external.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultURL is the public executor endpoint used when none is configured.
const DefaultURL = "https://executor.tpmjs.com"

// ErrExecution wraps an explicit error reported by the executor. Callers
// surface it to the model as a failed tool call rather than a null success.
var ErrExecution = errors.New("tool execution failed")

// ExecuteRequest is the wire request for POST /execute-tool.
type ExecuteRequest struct {
	PackageName string            `json:"packageName"`
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	ImportURL   string            `json:"importUrl"`
	Params      json.RawMessage   `json:"params"`
	Env         map[string]string `json:"env"`
}

// ExecuteResponse is the wire response for POST /execute-tool.
type ExecuteResponse struct {
	Success         bool            `json:"success"`
	Output          json.RawMessage `json:"output,omitempty"`
	Error           string          `json:"error,omitempty"`
	ExecutionTimeMs int64           `json:"executionTimeMs,omitempty"`
}

// HealthResponse is the wire response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Client calls the executor service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an executor client. An empty baseURL falls back to the
// public endpoint.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured executor endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Execute runs a tool in the sandbox. An explicit error field in the
// response is returned as an error wrapping ErrExecution so the tool-calling
// loop treats it as a tool failure, never as a success with null output.
func (c *Client) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute-tool", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executor request: %w", err)
	}
	defer resp.Body.Close()

	var out ExecuteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode executor response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if out.Error != "" {
			return &out, fmt.Errorf("%w: %s", ErrExecution, out.Error)
		}
		return &out, fmt.Errorf("executor returned status %d", resp.StatusCode)
	}
	if !out.Success || out.Error != "" {
		msg := out.Error
		if msg == "" {
			msg = "executor reported failure without detail"
		}
		return &out, fmt.Errorf("%w: %s", ErrExecution, msg)
	}
	return &out, nil
}

// Health checks the executor service.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executor health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("executor health returned status %d", resp.StatusCode)
	}
	var out HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode executor health: %w", err)
	}
	return &out, nil
}
