package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tpmjs/omega/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ConversationStore persists conversation threads.
type ConversationStore interface {
	Create(ctx context.Context, conv *models.Conversation) error
	Get(ctx context.Context, id string) (*models.Conversation, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*models.Conversation, int, error)
	Update(ctx context.Context, conv *models.Conversation) error
	// SetExecutionState flips the running flag for a conversation.
	SetExecutionState(ctx context.Context, id string, state models.ExecutionState) error
	// SetTitle sets a derived title; it never overwrites a non-empty one.
	SetTitle(ctx context.Context, id, title string) error
	// AddUsage accumulates token counters onto the conversation.
	AddUsage(ctx context.Context, id string, inputTokens, outputTokens int) error
	Delete(ctx context.Context, id string) error
}

// MessageStore persists the append-only conversation transcript.
type MessageStore interface {
	Append(ctx context.Context, msg *models.Message) error
	// ListRecent returns up to limit newest messages in chronological order.
	ListRecent(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
	List(ctx context.Context, conversationID string, limit, offset int) ([]*models.Message, int, error)
	Count(ctx context.Context, conversationID string) (int, error)
}

// ToolRunStore records tool invocation lifecycles.
type ToolRunStore interface {
	Create(ctx context.Context, run *models.ToolRun) error
	// Complete finalizes a run with its terminal status and output.
	Complete(ctx context.Context, id string, status models.RunStatus, output, errMsg string, completedAt time.Time, durationMs int64) error
	List(ctx context.Context, conversationID string, limit, offset int) ([]*models.ToolRun, int, error)
}

// UserStore persists users and their API keys. It satisfies the key lookup
// contract the auth middleware depends on.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error
}

// CredentialStore persists encrypted per-user env var records.
type CredentialStore interface {
	ListCredentials(ctx context.Context, userID string) ([]*models.CredentialRecord, error)
	UpsertCredential(ctx context.Context, rec *models.CredentialRecord) error
	DeleteCredential(ctx context.Context, userID, name string) error
}

// SettingsStore persists per-user agent preferences.
type SettingsStore interface {
	GetSettings(ctx context.Context, userID string) (*models.UserSettings, error)
	UpsertSettings(ctx context.Context, settings *models.UserSettings) error
}

// StoreSet groups storage dependencies.
type StoreSet struct {
	Conversations ConversationStore
	Messages      MessageStore
	ToolRuns      ToolRunStore
	Users         UserStore
	Credentials   CredentialStore
	Settings      SettingsStore
	closer        func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
