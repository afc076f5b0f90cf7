package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSearchRelevantTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tools/search" {
			t.Errorf("path = %q, want /tools/search", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "sum two numbers" {
			t.Errorf("q = %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "10" {
			t.Errorf("limit = %q, want 10", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"packageName":"@tpmjs/math","version":"1.2.0","name":"add",
			 "description":"Adds numbers",
			 "inputSchema":{"type":"object","properties":{"a":{"type":"number"}}},
			 "requiredEnvVars":[{"name":"MATH_KEY","description":"api key"}]},
			{"packageName":"","version":"0.1.0","name":"broken"}
		]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, nil, nil)
	result := client.SearchRelevantTools(context.Background(), "sum two numbers", 10)

	if result.Outcome != OutcomeOK {
		t.Fatalf("outcome = %q, want ok (err=%v)", result.Outcome, result.Err)
	}
	if len(result.Tools) != 1 {
		t.Fatalf("tools = %d, want 1 (entries without a package are dropped)", len(result.Tools))
	}

	tool := result.Tools[0]
	if tool.ToolID != "@tpmjs/math::add" {
		t.Errorf("tool id = %q, want @tpmjs/math::add", tool.ToolID)
	}
	if tool.ImportURL != "https://esm.sh/@tpmjs/math@1.2.0" {
		t.Errorf("import url = %q", tool.ImportURL)
	}
	if len(tool.RequiredEnv) != 1 || tool.RequiredEnv[0].Name != "MATH_KEY" {
		t.Errorf("required env = %+v", tool.RequiredEnv)
	}
	if len(tool.InputSchema) == 0 {
		t.Error("input schema dropped")
	}
}

func TestSearchEmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	result := NewClient(srv.URL, time.Second, nil, nil).
		SearchRelevantTools(context.Background(), "hello", 10)
	if result.Outcome != OutcomeEmpty {
		t.Errorf("outcome = %q, want empty", result.Outcome)
	}
	if result.Tools == nil {
		t.Error("tools must be non-nil")
	}
}

func TestSearchServerErrorDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	result := NewClient(srv.URL, time.Second, nil, nil).
		SearchRelevantTools(context.Background(), "hello", 10)
	if result.Outcome != OutcomeError {
		t.Errorf("outcome = %q, want error", result.Outcome)
	}
	if result.Err == nil {
		t.Error("error outcome must carry the cause")
	}
	if len(result.Tools) != 0 {
		t.Error("degraded result must be empty")
	}
}

func TestSearchUnreachableDegrades(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 100*time.Millisecond, nil, nil)
	result := client.SearchRelevantTools(context.Background(), "hello", 5)
	if result.Outcome != OutcomeError {
		t.Errorf("outcome = %q, want error", result.Outcome)
	}
}

func TestSearchNoBaseURL(t *testing.T) {
	client := NewClient("", time.Second, nil, nil)
	result := client.SearchRelevantTools(context.Background(), "hello", 5)
	if result.Outcome != OutcomeEmpty {
		t.Errorf("outcome = %q, want empty", result.Outcome)
	}
}
