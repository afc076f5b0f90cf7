package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tpmjs/omega/pkg/models"
)

// NewMemoryStores creates a fully in-memory StoreSet, used by tests and
// ephemeral deployments.
func NewMemoryStores() StoreSet {
	return StoreSet{
		Conversations: NewMemoryConversationStore(),
		Messages:      NewMemoryMessageStore(),
		ToolRuns:      NewMemoryToolRunStore(),
		Users:         NewMemoryUserStore(),
		Credentials:   NewMemoryCredentialStore(),
		Settings:      NewMemorySettingsStore(),
	}
}

// MemoryConversationStore provides an in-memory ConversationStore.
type MemoryConversationStore struct {
	mu    sync.RWMutex
	convs map[string]*models.Conversation
}

// NewMemoryConversationStore creates an in-memory conversation store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{convs: make(map[string]*models.Conversation)}
}

func (s *MemoryConversationStore) Create(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.convs[conv.ID]; exists {
		return ErrAlreadyExists
	}
	clone := *conv
	s.convs[conv.ID] = &clone
	return nil
}

func (s *MemoryConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *conv
	return &clone, nil
}

func (s *MemoryConversationStore) List(ctx context.Context, userID string, limit, offset int) ([]*models.Conversation, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var convs []*models.Conversation
	for _, conv := range s.convs {
		if userID != "" && conv.OwnerID != userID {
			continue
		}
		clone := *conv
		convs = append(convs, &clone)
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	total := len(convs)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return convs[offset:end], total, nil
}

func (s *MemoryConversationStore) Update(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.convs[conv.ID]; !exists {
		return ErrNotFound
	}
	clone := *conv
	clone.UpdatedAt = time.Now().UTC()
	s.convs[conv.ID] = &clone
	return nil
}

func (s *MemoryConversationStore) SetExecutionState(ctx context.Context, id string, state models.ExecutionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return ErrNotFound
	}
	conv.ExecutionState = state
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryConversationStore) SetTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return ErrNotFound
	}
	if conv.Title != "" {
		return nil
	}
	conv.Title = title
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryConversationStore) AddUsage(ctx context.Context, id string, inputTokens, outputTokens int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return ErrNotFound
	}
	conv.InputTokens += inputTokens
	conv.OutputTokens += outputTokens
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryConversationStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.convs[id]; !exists {
		return ErrNotFound
	}
	delete(s.convs, id)
	return nil
}

// MemoryMessageStore provides an in-memory MessageStore.
type MemoryMessageStore struct {
	mu   sync.RWMutex
	msgs map[string][]*models.Message // conversation id -> append order
	seen map[string]bool
}

// NewMemoryMessageStore creates an in-memory message store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		msgs: make(map[string][]*models.Message),
		seen: make(map[string]bool),
	}
}

func (s *MemoryMessageStore) Append(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("message is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[msg.ID] {
		return ErrAlreadyExists
	}
	s.seen[msg.ID] = true
	clone := *msg
	s.msgs[msg.ConversationID] = append(s.msgs[msg.ConversationID], &clone)
	return nil
}

func (s *MemoryMessageStore) ListRecent(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.msgs[conversationID]
	start := 0
	if len(all) > limit {
		start = len(all) - limit
	}
	out := make([]*models.Message, 0, len(all)-start)
	for _, msg := range all[start:] {
		clone := *msg
		out = append(out, &clone)
	}
	return out, nil
}

func (s *MemoryMessageStore) List(ctx context.Context, conversationID string, limit, offset int) ([]*models.Message, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.msgs[conversationID]
	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*models.Message, 0, end-offset)
	for _, msg := range all[offset:end] {
		clone := *msg
		out = append(out, &clone)
	}
	return out, total, nil
}

func (s *MemoryMessageStore) Count(ctx context.Context, conversationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs[conversationID]), nil
}

// MemoryToolRunStore provides an in-memory ToolRunStore.
type MemoryToolRunStore struct {
	mu   sync.RWMutex
	runs map[string]*models.ToolRun
	byID map[string][]string // conversation id -> run ids in start order
}

// NewMemoryToolRunStore creates an in-memory tool run store.
func NewMemoryToolRunStore() *MemoryToolRunStore {
	return &MemoryToolRunStore{
		runs: make(map[string]*models.ToolRun),
		byID: make(map[string][]string),
	}
}

func (s *MemoryToolRunStore) Create(ctx context.Context, run *models.ToolRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("tool run is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return ErrAlreadyExists
	}
	clone := *run
	s.runs[run.ID] = &clone
	s.byID[run.ConversationID] = append(s.byID[run.ConversationID], run.ID)
	return nil
}

func (s *MemoryToolRunStore) Complete(ctx context.Context, id string, status models.RunStatus, output, errMsg string, completedAt time.Time, durationMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.Status = status
	run.Output = output
	run.Error = errMsg
	run.CompletedAt = completedAt
	run.DurationMs = durationMs
	return nil
}

func (s *MemoryToolRunStore) List(ctx context.Context, conversationID string, limit, offset int) ([]*models.ToolRun, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byID[conversationID]
	total := len(ids)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*models.ToolRun, 0, end-offset)
	for _, id := range ids[offset:end] {
		clone := *s.runs[id]
		out = append(out, &clone)
	}
	return out, total, nil
}

// MemoryUserStore provides an in-memory UserStore.
type MemoryUserStore struct {
	mu     sync.RWMutex
	users  map[string]*models.User
	keys   map[string]*models.APIKey // by id
	byHash map[string]string         // key hash -> id
}

// NewMemoryUserStore creates an in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users:  make(map[string]*models.User),
		keys:   make(map[string]*models.APIKey),
		byHash: make(map[string]string),
	}
}

func (s *MemoryUserStore) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("user is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.ID]; exists {
		return ErrAlreadyExists
	}
	clone := *user
	s.users[user.ID] = &clone
	return nil
}

func (s *MemoryUserStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (s *MemoryUserStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if key == nil || key.ID == "" {
		return fmt.Errorf("api key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[key.ID]; exists {
		return ErrAlreadyExists
	}
	if _, exists := s.byHash[key.KeyHash]; exists {
		return ErrAlreadyExists
	}
	clone := *key
	s.keys[key.ID] = &clone
	s.byHash[key.KeyHash] = key.ID
	return nil
}

func (s *MemoryUserStore) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *s.keys[id]
	return &clone, nil
}

func (s *MemoryUserStore) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	key.LastUsedAt = usedAt
	return nil
}

// MemoryCredentialStore provides an in-memory CredentialStore.
type MemoryCredentialStore struct {
	mu   sync.RWMutex
	recs map[string]map[string]*models.CredentialRecord // user id -> name -> record
}

// NewMemoryCredentialStore creates an in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{recs: make(map[string]map[string]*models.CredentialRecord)}
}

func (s *MemoryCredentialStore) ListCredentials(ctx context.Context, userID string) ([]*models.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byName := s.recs[userID]
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*models.CredentialRecord, 0, len(names))
	for _, name := range names {
		clone := *byName[name]
		out = append(out, &clone)
	}
	return out, nil
}

func (s *MemoryCredentialStore) UpsertCredential(ctx context.Context, rec *models.CredentialRecord) error {
	if rec == nil || rec.UserID == "" || rec.Name == "" {
		return fmt.Errorf("credential is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recs[rec.UserID] == nil {
		s.recs[rec.UserID] = make(map[string]*models.CredentialRecord)
	}
	clone := *rec
	s.recs[rec.UserID][rec.Name] = &clone
	return nil
}

func (s *MemoryCredentialStore) DeleteCredential(ctx context.Context, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byName := s.recs[userID]
	if _, exists := byName[name]; !exists {
		return ErrNotFound
	}
	delete(byName, name)
	return nil
}

// MemorySettingsStore provides an in-memory SettingsStore.
type MemorySettingsStore struct {
	mu       sync.RWMutex
	settings map[string]*models.UserSettings
}

// NewMemorySettingsStore creates an in-memory settings store.
func NewMemorySettingsStore() *MemorySettingsStore {
	return &MemorySettingsStore{settings: make(map[string]*models.UserSettings)}
}

func (s *MemorySettingsStore) GetSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	if userID == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings, ok := s.settings[userID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *settings
	return &clone, nil
}

func (s *MemorySettingsStore) UpsertSettings(ctx context.Context, settings *models.UserSettings) error {
	if settings == nil || settings.UserID == "" {
		return fmt.Errorf("settings are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *settings
	s.settings[settings.UserID] = &clone
	return nil
}
