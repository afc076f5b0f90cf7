package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tpmjs/omega/internal/auth"
	"github.com/tpmjs/omega/internal/convstate"
	"github.com/tpmjs/omega/internal/observability"
	"github.com/tpmjs/omega/internal/omega"
	"github.com/tpmjs/omega/internal/ratelimit"
	"github.com/tpmjs/omega/internal/registry"
	"github.com/tpmjs/omega/internal/storage"
	"github.com/tpmjs/omega/pkg/models"
)

type gwFixture struct {
	server  *Server
	handler http.Handler
	stores  storage.StoreSet
	authSvc *auth.Service
	user    *models.User
	token   string
}

func newGWFixture(t *testing.T) *gwFixture {
	t.Helper()

	stores := storage.NewMemoryStores()
	logger := observability.NewLogger(observability.LogConfig{Level: "error"})
	authSvc := auth.NewService(auth.Config{
		JWTSecret:   "gateway-test-secret",
		TokenExpiry: time.Hour,
	}, stores.Users)

	user := &models.User{ID: "user-1", Email: "user1@example.com"}
	if err := stores.Users.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	token, err := authSvc.GenerateJWT(user)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	state := convstate.NewCacheStore(convstate.CacheConfig{})
	t.Cleanup(state.Stop)

	// No LLM provider is wired; turn requests fail pre-stream with a JSON
	// error, which is exactly what these handler tests exercise.
	orch := omega.New(stores, nil, registry.NewClient("", 0, logger, nil), nil, nil, nil,
		state, convstate.NewLocks(0), nil, logger, nil, omega.Config{})

	server := New(Config{}, orch, stores, authSvc, nil, logger, nil)
	return &gwFixture{
		server:  server,
		handler: server.Handler(),
		stores:  stores,
		authSvc: authSvc,
		user:    user,
		token:   token,
	}
}

func (f *gwFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func assertErrorEnvelope(t *testing.T, rec *httptest.ResponseRecorder, status int) string {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %q)", rec.Code, status, rec.Body.String())
	}
	var body errorBody
	decodeBody(t, rec, &body)
	if body.Success {
		t.Fatal("error envelope has success=true")
	}
	if body.Error == "" {
		t.Fatal("error envelope has empty error message")
	}
	return body.Error
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	f := newGWFixture(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/conversations"},
		{http.MethodGet, "/conversations"},
		{http.MethodGet, "/conversations/abc"},
		{http.MethodGet, "/conversations/abc/messages"},
		{http.MethodPost, "/conversations/abc/messages"},
	} {
		rec := f.do(t, tc.method, tc.path, "", map[string]string{"message": "hi"})
		assertErrorEnvelope(t, rec, http.StatusUnauthorized)
	}
}

func TestCreateAndFetchConversation(t *testing.T) {
	f := newGWFixture(t)

	rec := f.do(t, http.MethodPost, "/conversations", f.token, map[string]any{
		"title": "Planning",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %q", rec.Code, rec.Body.String())
	}
	var created models.Conversation
	decodeBody(t, rec, &created)
	if created.ID == "" {
		t.Fatal("created conversation has empty id")
	}
	if created.OwnerID != f.user.ID {
		t.Fatalf("owner = %q, want %q", created.OwnerID, f.user.ID)
	}
	if created.Title != "Planning" {
		t.Fatalf("title = %q", created.Title)
	}
	if created.ExecutionState != models.ExecutionIdle {
		t.Fatalf("execution state = %q", created.ExecutionState)
	}

	rec = f.do(t, http.MethodGet, "/conversations/"+created.ID, f.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var fetched models.Conversation
	decodeBody(t, rec, &fetched)
	if fetched.ID != created.ID {
		t.Fatalf("fetched id = %q, want %q", fetched.ID, created.ID)
	}
}

func TestCreateConversationAcceptsEmptyBody(t *testing.T) {
	f := newGWFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+f.token)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
}

func TestGetConversationAccessControl(t *testing.T) {
	f := newGWFixture(t)

	rec := f.do(t, http.MethodPost, "/conversations", f.token, nil)
	var created models.Conversation
	decodeBody(t, rec, &created)

	intruder := &models.User{ID: "user-2", Email: "user2@example.com"}
	if err := f.stores.Users.CreateUser(context.Background(), intruder); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	intruderToken, err := f.authSvc.GenerateJWT(intruder)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	rec = f.do(t, http.MethodGet, "/conversations/"+created.ID, intruderToken, nil)
	assertErrorEnvelope(t, rec, http.StatusForbidden)

	rec = f.do(t, http.MethodGet, "/conversations/missing", f.token, nil)
	assertErrorEnvelope(t, rec, http.StatusNotFound)
}

func TestListConversations(t *testing.T) {
	f := newGWFixture(t)

	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodPost, "/conversations", f.token, nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %d status = %d", i, rec.Code)
		}
	}

	rec := f.do(t, http.MethodGet, "/conversations?limit=2", f.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Conversations []*models.Conversation `json:"conversations"`
		Total         int                    `json:"total"`
	}
	decodeBody(t, rec, &body)
	if len(body.Conversations) != 2 {
		t.Fatalf("page size = %d, want 2", len(body.Conversations))
	}
	if body.Total != 3 {
		t.Fatalf("total = %d, want 3", body.Total)
	}
}

func TestListMessagesEmptyConversation(t *testing.T) {
	f := newGWFixture(t)

	rec := f.do(t, http.MethodPost, "/conversations", f.token, nil)
	var created models.Conversation
	decodeBody(t, rec, &created)

	rec = f.do(t, http.MethodGet, "/conversations/"+created.ID+"/messages", f.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Messages []*models.Message `json:"messages"`
		Total    int               `json:"total"`
	}
	decodeBody(t, rec, &body)
	if body.Messages == nil {
		t.Fatal("messages should be an empty array, not null")
	}
	if body.Total != 0 {
		t.Fatalf("total = %d, want 0", body.Total)
	}
}

func TestPostMessageValidation(t *testing.T) {
	f := newGWFixture(t)

	rec := f.do(t, http.MethodPost, "/conversations", f.token, nil)
	var created models.Conversation
	decodeBody(t, rec, &created)

	rec = f.do(t, http.MethodPost, "/conversations/"+created.ID+"/messages", f.token, map[string]string{"message": ""})
	assertErrorEnvelope(t, rec, http.StatusBadRequest)
}

func TestPostMessageWithoutProviderFailsPreStream(t *testing.T) {
	f := newGWFixture(t)

	rec := f.do(t, http.MethodPost, "/conversations", f.token, nil)
	var created models.Conversation
	decodeBody(t, rec, &created)

	rec = f.do(t, http.MethodPost, "/conversations/"+created.ID+"/messages", f.token, map[string]string{"message": "hello"})
	msg := assertErrorEnvelope(t, rec, http.StatusInternalServerError)
	if msg != "llm provider is not configured" {
		t.Fatalf("error = %q", msg)
	}
	// A pre-stream failure must stay a plain JSON response, never SSE.
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestRateLimitedTurnCarriesRetryAfter(t *testing.T) {
	stores := storage.NewMemoryStores()
	logger := observability.NewLogger(observability.LogConfig{Level: "error"})
	authSvc := auth.NewService(auth.Config{
		JWTSecret:   "gateway-test-secret",
		TokenExpiry: time.Hour,
	}, stores.Users)

	user := &models.User{ID: "user-1", Email: "user1@example.com"}
	if err := stores.Users.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	token, err := authSvc.GenerateJWT(user)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	state := convstate.NewCacheStore(convstate.CacheConfig{})
	t.Cleanup(state.Stop)
	limiter := ratelimit.NewLimiter(ratelimit.Config{Requests: 1, Window: time.Minute, Enabled: true})

	orch := omega.New(stores, nil, registry.NewClient("", 0, logger, nil), nil, nil, nil,
		state, convstate.NewLocks(0), limiter, logger, nil, omega.Config{})
	server := New(Config{}, orch, stores, authSvc, nil, logger, nil)
	f := &gwFixture{server: server, handler: server.Handler(), stores: stores, authSvc: authSvc, user: user, token: token}

	rec := f.do(t, http.MethodPost, "/conversations", f.token, nil)
	var created models.Conversation
	decodeBody(t, rec, &created)

	// First message consumes the single-request quota.
	f.do(t, http.MethodPost, "/conversations/"+created.ID+"/messages", f.token, map[string]string{"message": "one"})

	rec = f.do(t, http.MethodPost, "/conversations/"+created.ID+"/messages", f.token, map[string]string{"message": "two"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 (body %q)", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	var body errorBody
	decodeBody(t, rec, &body)
	if body.Success || body.Error == "" {
		t.Fatalf("envelope = %+v", body)
	}
	if body.RetryAfter < 1 {
		t.Errorf("retryAfter = %d, want at least 1 second", body.RetryAfter)
	}
}

func TestHealthz(t *testing.T) {
	f := newGWFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Fatalf("status field = %v", body["status"])
	}
	if body["version"] != Version {
		t.Fatalf("version = %v", body["version"])
	}
}

func TestRequestIDHeader(t *testing.T) {
	f := newGWFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	echo := httptest.NewRecorder()
	f.handler.ServeHTTP(echo, req)
	if got := echo.Header().Get("X-Request-ID"); got != "upstream-id" {
		t.Fatalf("X-Request-ID = %q, want upstream id preserved", got)
	}
}
