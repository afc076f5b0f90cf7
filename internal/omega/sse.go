package omega

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// SSEWriter emits stream events over a Server-Sent Events response. It is
// safe for a single producer; writes after the client disconnects are
// reported as errors and otherwise ignored.
type SSEWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

// NewSSEWriter prepares an SSE writer over the response. It returns an
// error when the underlying writer cannot flush, since buffered SSE is
// useless to a streaming client.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Send writes one event with a JSON payload and flushes it to the client.
// The SSE headers are written on the first call.
func (s *SSEWriter) Send(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
