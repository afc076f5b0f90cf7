package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tpmjs/omega/internal/auth"
	"github.com/tpmjs/omega/internal/omega"
	"github.com/tpmjs/omega/internal/storage"
	"github.com/tpmjs/omega/pkg/models"
)

// errorBody is the JSON envelope for every non-streaming failure.
// RetryAfter is set (in seconds) only on rate-limit rejections.
type errorBody struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Success: false, Error: msg})
}

// requireUser resolves the authenticated caller or fails the request closed.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return user, true
}

type createConversationRequest struct {
	Title        string   `json:"title"`
	Participants []string `json:"participants"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req createConversationRequest
	if r.Body != nil {
		// An empty body is a valid "untitled conversation" request.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:             uuid.NewString(),
		OwnerID:        user.ID,
		ParticipantIDs: req.Participants,
		Title:          req.Title,
		ExecutionState: models.ExecutionIdle,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.stores.Conversations.Create(r.Context(), conv); err != nil {
		s.logger.Error(r.Context(), "create conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	convs, total, err := s.stores.Conversations.List(r.Context(), user.ID, limit, offset)
	if err != nil {
		s.logger.Error(r.Context(), "list conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []*models.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": convs,
		"total":         total,
	})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	conv, ok := s.loadParticipantConversation(w, r, user)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	conv, ok := s.loadParticipantConversation(w, r, user)
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	msgs, total, err := s.stores.Messages.List(r.Context(), conv.ID, limit, offset)
	if err != nil {
		s.logger.Error(r.Context(), "list messages failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"total":    total,
	})
}

type postMessageRequest struct {
	Message string `json:"message"`
}

// handlePostMessage runs one conversation turn. Pre-stream failures come
// back as JSON errors; once the stream opens the client always receives a
// terminal run.completed or run.failed event.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sink, err := omega.NewSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	runErr := s.orch.Run(r.Context(), &omega.TurnRequest{
		ConversationID: r.PathValue("id"),
		UserID:         user.ID,
		Message:        req.Message,
	}, sink)
	if runErr != nil {
		var pre *omega.PreStreamError
		if errors.As(runErr, &pre) {
			if pre.RetryAfter > 0 {
				secs := int(pre.RetryAfter.Seconds() + 0.5)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
				writeJSON(w, pre.Status, errorBody{Error: pre.Message, RetryAfter: secs})
				return
			}
			writeError(w, pre.Status, pre.Message)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleHealthz reports service health including the executor dependency.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": Version,
	}
	if s.execClient != nil {
		if health, err := s.execClient.Health(r.Context()); err != nil {
			body["executor"] = map[string]any{"status": "unreachable", "error": err.Error()}
		} else {
			body["executor"] = health
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) loadParticipantConversation(w http.ResponseWriter, r *http.Request, user *models.User) (*models.Conversation, bool) {
	conv, err := s.stores.Conversations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
		} else {
			s.logger.Error(r.Context(), "load conversation failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load conversation")
		}
		return nil, false
	}
	if !conv.HasParticipant(user.ID) {
		writeError(w, http.StatusForbidden, "access denied")
		return nil, false
	}
	return conv, true
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := parsePositive(v); err == nil {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := parsePositive(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}

func parsePositive(v string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value")
	}
	return n, nil
}
