package omega

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSSEWriterFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	if err != nil {
		t.Fatalf("NewSSEWriter: %v", err)
	}

	if err := w.Send(EventMessageDelta, DeltaPayload{Delta: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := w.Send(EventRunFailed, RunFailedPayload{Error: "nope"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	body := rec.Body.String()
	want := "event: message.delta\ndata: {\"delta\":\"hi\"}\n\n"
	if !strings.HasPrefix(body, want) {
		t.Errorf("body = %q, want prefix %q", body, want)
	}
	if !strings.Contains(body, "event: run.failed\ndata: {\"error\":\"nope\"}\n\n") {
		t.Errorf("body missing failure event: %q", body)
	}
}
