// Package registry queries the TPMJS tool index for relevant tools.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tpmjs/omega/internal/observability"
	"github.com/tpmjs/omega/pkg/models"
)

// Outcome tags a search result so discovery failures stay distinguishable
// from genuinely empty result sets.
type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeEmpty Outcome = "empty"
	OutcomeError Outcome = "error"
)

// Result is the tagged outcome of a relevance search. Tools is always
// non-nil; Err is set only when Outcome is OutcomeError.
type Result struct {
	Outcome Outcome
	Tools   []models.ToolMetadata
	Err     error
}

// Client issues relevance queries against the internal tool search endpoint.
// Searches are best-effort: transport and non-2xx failures degrade to an
// empty result so tool discovery never blocks a conversation turn.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewClient creates a search client for the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		metrics: metrics,
	}
}

// searchResponse mirrors the wire format of the internal search endpoint.
type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	PackageName string          `json:"packageName"`
	Version     string          `json:"version"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	ImportURL   string          `json:"importUrl"`
	RequiredEnv []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"requiredEnvVars"`
}

// SearchRelevantTools runs a free-text relevance query and returns up to
// limit normalized tool candidates.
func (c *Client) SearchRelevantTools(ctx context.Context, query string, limit int) Result {
	if c == nil || c.baseURL == "" {
		return c.report(Result{Outcome: OutcomeEmpty, Tools: []models.ToolMetadata{}})
	}
	if limit <= 0 {
		limit = 10
	}

	endpoint := fmt.Sprintf("%s/tools/search?q=%s&limit=%s",
		c.baseURL, url.QueryEscape(query), strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return c.degrade(ctx, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return c.degrade(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.degrade(ctx, fmt.Errorf("tool search returned status %d", resp.StatusCode))
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return c.degrade(ctx, fmt.Errorf("decode tool search response: %w", err))
	}

	tools := make([]models.ToolMetadata, 0, len(payload.Results))
	for _, r := range payload.Results {
		if r.PackageName == "" || r.Name == "" {
			continue
		}
		tools = append(tools, normalize(r))
	}

	if len(tools) == 0 {
		return c.report(Result{Outcome: OutcomeEmpty, Tools: tools})
	}
	return c.report(Result{Outcome: OutcomeOK, Tools: tools})
}

// normalize maps a raw search hit into tool metadata with the composite
// "<packageName>::<toolName>" identifier.
func normalize(r searchResult) models.ToolMetadata {
	meta := models.ToolMetadata{
		ToolID:      r.PackageName + "::" + r.Name,
		Name:        r.Name,
		PackageName: r.PackageName,
		Version:     r.Version,
		Description: r.Description,
		ImportURL:   r.ImportURL,
		InputSchema: r.InputSchema,
	}
	if meta.ImportURL == "" {
		version := r.Version
		if version == "" {
			version = "latest"
		}
		meta.ImportURL = "https://esm.sh/" + r.PackageName + "@" + version
	}
	for _, env := range r.RequiredEnv {
		if env.Name == "" {
			continue
		}
		meta.RequiredEnv = append(meta.RequiredEnv, models.EnvVarSpec{
			Name:        env.Name,
			Description: env.Description,
		})
	}
	return meta
}

func (c *Client) degrade(ctx context.Context, err error) Result {
	if c.logger != nil {
		c.logger.Warn(ctx, "tool search degraded to empty result", "error", err)
	}
	return c.report(Result{Outcome: OutcomeError, Tools: []models.ToolMetadata{}, Err: err})
}

func (c *Client) report(r Result) Result {
	if c != nil && c.metrics != nil {
		c.metrics.RegistrySearchCounter.WithLabelValues(string(r.Outcome)).Inc()
	}
	return r
}
