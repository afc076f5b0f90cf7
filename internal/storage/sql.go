package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tpmjs/omega/pkg/models"
)

// bindFunc adapts $N placeholders to the driver's dialect. Queries are
// written with parameters in order of first appearance so a positional
// rewrite stays correct.
type bindFunc func(string) string

var placeholderRe = regexp.MustCompile(`\$\d+`)

func bindPostgres(query string) string { return query }

func bindSQLite(query string) string {
	return placeholderRe.ReplaceAllString(query, "?")
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "UNIQUE constraint")
}

type sqlConversationStore struct {
	db   *sql.DB
	bind bindFunc
}

func (s *sqlConversationStore) Create(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation is required")
	}
	participants, err := json.Marshal(conv.ParticipantIDs)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.bind(
		`INSERT INTO conversations (id, owner_id, participant_ids, title, execution_state, input_tokens, output_tokens, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`),
		conv.ID,
		conv.OwnerID,
		string(participants),
		conv.Title,
		string(conv.ExecutionState),
		conv.InputTokens,
		conv.OutputTokens,
		conv.CreatedAt,
		conv.UpdatedAt,
	)
	if err != nil {
		if isDuplicate(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *sqlConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, s.bind(
		`SELECT id, owner_id, participant_ids, title, execution_state, input_tokens, output_tokens, created_at, updated_at
		 FROM conversations WHERE id = $1`), id)
	return scanConversation(row)
}

func scanConversation(row *sql.Row) (*models.Conversation, error) {
	var conv models.Conversation
	var participants string
	var state string
	if err := row.Scan(
		&conv.ID,
		&conv.OwnerID,
		&participants,
		&conv.Title,
		&state,
		&conv.InputTokens,
		&conv.OutputTokens,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if participants != "" {
		if err := json.Unmarshal([]byte(participants), &conv.ParticipantIDs); err != nil {
			return nil, fmt.Errorf("unmarshal participants: %w", err)
		}
	}
	conv.ExecutionState = models.ExecutionState(state)
	return &conv, nil
}

func (s *sqlConversationStore) List(ctx context.Context, userID string, limit, offset int) ([]*models.Conversation, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.bind(
		`SELECT COUNT(*) FROM conversations WHERE owner_id = $1`), userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.bind(
		`SELECT id, owner_id, participant_ids, title, execution_state, input_tokens, output_tokens, created_at, updated_at
		 FROM conversations WHERE owner_id = $1
		 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`), userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		var conv models.Conversation
		var participants string
		var state string
		if err := rows.Scan(
			&conv.ID,
			&conv.OwnerID,
			&participants,
			&conv.Title,
			&state,
			&conv.InputTokens,
			&conv.OutputTokens,
			&conv.CreatedAt,
			&conv.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan conversation: %w", err)
		}
		if participants != "" {
			if err := json.Unmarshal([]byte(participants), &conv.ParticipantIDs); err != nil {
				return nil, 0, fmt.Errorf("unmarshal participants: %w", err)
			}
		}
		conv.ExecutionState = models.ExecutionState(state)
		out = append(out, &conv)
	}
	return out, total, rows.Err()
}

func (s *sqlConversationStore) Update(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation is required")
	}
	participants, err := json.Marshal(conv.ParticipantIDs)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.bind(
		`UPDATE conversations
		 SET owner_id = $1, participant_ids = $2, title = $3, execution_state = $4,
		     input_tokens = $5, output_tokens = $6, updated_at = $7
		 WHERE id = $8`),
		conv.OwnerID,
		string(participants),
		conv.Title,
		string(conv.ExecutionState),
		conv.InputTokens,
		conv.OutputTokens,
		time.Now().UTC(),
		conv.ID,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return requireRow(res)
}

func (s *sqlConversationStore) SetExecutionState(ctx context.Context, id string, state models.ExecutionState) error {
	res, err := s.db.ExecContext(ctx, s.bind(
		`UPDATE conversations SET execution_state = $1, updated_at = $2 WHERE id = $3`),
		string(state), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set execution state: %w", err)
	}
	return requireRow(res)
}

func (s *sqlConversationStore) SetTitle(ctx context.Context, id, title string) error {
	// A title is derived at most once; never clobber one already set.
	_, err := s.db.ExecContext(ctx, s.bind(
		`UPDATE conversations SET title = $1, updated_at = $2 WHERE id = $3 AND title = ''`),
		title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	return nil
}

func (s *sqlConversationStore) AddUsage(ctx context.Context, id string, inputTokens, outputTokens int) error {
	res, err := s.db.ExecContext(ctx, s.bind(
		`UPDATE conversations
		 SET input_tokens = input_tokens + $1, output_tokens = output_tokens + $2, updated_at = $3
		 WHERE id = $4`),
		inputTokens, outputTokens, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("add usage: %w", err)
	}
	return requireRow(res)
}

func (s *sqlConversationStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM conversations WHERE id = $1`), id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type sqlMessageStore struct {
	db   *sql.DB
	bind bindFunc
}

func (s *sqlMessageStore) Append(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("message is required")
	}
	calls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	results, err := json.Marshal(msg.ToolResults)
	if err != nil {
		return fmt.Errorf("marshal tool results: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.bind(
		`INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_results, input_tokens, output_tokens, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`),
		msg.ID,
		msg.ConversationID,
		string(msg.Role),
		msg.Content,
		string(calls),
		string(results),
		msg.InputTokens,
		msg.OutputTokens,
		msg.CreatedAt,
	)
	if err != nil {
		if isDuplicate(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *sqlMessageStore) ListRecent(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.bind(
		`SELECT id, conversation_id, role, content, tool_calls, tool_results, input_tokens, output_tokens, created_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`), conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Flip newest-first into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *sqlMessageStore) List(ctx context.Context, conversationID string, limit, offset int) ([]*models.Message, int, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.bind(
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`), conversationID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.bind(
		`SELECT id, conversation_id, role, content, tool_calls, tool_results, input_tokens, output_tokens, created_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY created_at ASC, id ASC LIMIT $2 OFFSET $3`), conversationID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	return msgs, total, err
}

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	var out []*models.Message
	for rows.Next() {
		var msg models.Message
		var role, calls, results string
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&role,
			&msg.Content,
			&calls,
			&results,
			&msg.InputTokens,
			&msg.OutputTokens,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if calls != "" && calls != "null" {
			if err := json.Unmarshal([]byte(calls), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		if results != "" && results != "null" {
			if err := json.Unmarshal([]byte(results), &msg.ToolResults); err != nil {
				return nil, fmt.Errorf("unmarshal tool results: %w", err)
			}
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

func (s *sqlMessageStore) Count(ctx context.Context, conversationID string) (int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, s.bind(
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`), conversationID).Scan(&total); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return total, nil
}

type sqlToolRunStore struct {
	db   *sql.DB
	bind bindFunc
}

func (s *sqlToolRunStore) Create(ctx context.Context, run *models.ToolRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("tool run is required")
	}
	input := "null"
	if len(run.Input) > 0 {
		input = string(run.Input)
	}
	_, err := s.db.ExecContext(ctx, s.bind(
		`INSERT INTO tool_runs (id, conversation_id, tool_name, input, status, output, error, started_at, duration_ms)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`),
		run.ID,
		run.ConversationID,
		run.ToolName,
		input,
		string(run.Status),
		run.Output,
		run.Error,
		run.StartedAt,
		run.DurationMs,
	)
	if err != nil {
		if isDuplicate(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create tool run: %w", err)
	}
	return nil
}

func (s *sqlToolRunStore) Complete(ctx context.Context, id string, status models.RunStatus, output, errMsg string, completedAt time.Time, durationMs int64) error {
	res, err := s.db.ExecContext(ctx, s.bind(
		`UPDATE tool_runs SET status = $1, output = $2, error = $3, completed_at = $4, duration_ms = $5 WHERE id = $6`),
		string(status), output, errMsg, completedAt, durationMs, id)
	if err != nil {
		return fmt.Errorf("complete tool run: %w", err)
	}
	return requireRow(res)
}

func (s *sqlToolRunStore) List(ctx context.Context, conversationID string, limit, offset int) ([]*models.ToolRun, int, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.bind(
		`SELECT COUNT(*) FROM tool_runs WHERE conversation_id = $1`), conversationID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tool runs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.bind(
		`SELECT id, conversation_id, tool_name, input, status, output, error, started_at, completed_at, duration_ms
		 FROM tool_runs WHERE conversation_id = $1
		 ORDER BY started_at ASC, id ASC LIMIT $2 OFFSET $3`), conversationID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list tool runs: %w", err)
	}
	defer rows.Close()

	var out []*models.ToolRun
	for rows.Next() {
		var run models.ToolRun
		var status, input string
		var completedAt sql.NullTime
		if err := rows.Scan(
			&run.ID,
			&run.ConversationID,
			&run.ToolName,
			&input,
			&status,
			&run.Output,
			&run.Error,
			&run.StartedAt,
			&completedAt,
			&run.DurationMs,
		); err != nil {
			return nil, 0, fmt.Errorf("scan tool run: %w", err)
		}
		run.Status = models.RunStatus(status)
		if input != "" && input != "null" {
			run.Input = json.RawMessage(input)
		}
		if completedAt.Valid {
			run.CompletedAt = completedAt.Time
		}
		out = append(out, &run)
	}
	return out, total, rows.Err()
}

type sqlUserStore struct {
	db   *sql.DB
	bind bindFunc
}

func (s *sqlUserStore) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("user is required")
	}
	_, err := s.db.ExecContext(ctx, s.bind(
		`INSERT INTO users (id, email, name, created_at, updated_at) VALUES ($1,$2,$3,$4,$5)`),
		user.ID, user.Email, user.Name, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isDuplicate(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *sqlUserStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var user models.User
	err := s.db.QueryRowContext(ctx, s.bind(
		`SELECT id, email, name, created_at, updated_at FROM users WHERE id = $1`), id).
		Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

func (s *sqlUserStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if key == nil || key.ID == "" {
		return fmt.Errorf("api key is required")
	}
	_, err := s.db.ExecContext(ctx, s.bind(
		`INSERT INTO api_keys (id, user_id, name, prefix, key_hash, created_at) VALUES ($1,$2,$3,$4,$5,$6)`),
		key.ID, key.UserID, key.Name, key.Prefix, key.KeyHash, key.CreatedAt)
	if err != nil {
		if isDuplicate(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *sqlUserStore) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	var key models.APIKey
	var lastUsed sql.NullTime
	err := s.db.QueryRowContext(ctx, s.bind(
		`SELECT id, user_id, name, prefix, key_hash, last_used_at, created_at FROM api_keys WHERE key_hash = $1`), hash).
		Scan(&key.ID, &key.UserID, &key.Name, &key.Prefix, &key.KeyHash, &lastUsed, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	if lastUsed.Valid {
		key.LastUsedAt = lastUsed.Time
	}
	return &key, nil
}

func (s *sqlUserStore) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.bind(
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`), usedAt, id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

type sqlCredentialStore struct {
	db   *sql.DB
	bind bindFunc
}

func (s *sqlCredentialStore) ListCredentials(ctx context.Context, userID string) ([]*models.CredentialRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(
		`SELECT id, user_id, name, ciphertext, created_at, updated_at
		 FROM credentials WHERE user_id = $1 ORDER BY name ASC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []*models.CredentialRecord
	for rows.Next() {
		var rec models.CredentialRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Name, &rec.Ciphertext, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *sqlCredentialStore) UpsertCredential(ctx context.Context, rec *models.CredentialRecord) error {
	if rec == nil || rec.UserID == "" || rec.Name == "" {
		return fmt.Errorf("credential is required")
	}
	_, err := s.db.ExecContext(ctx, s.bind(
		`INSERT INTO credentials (id, user_id, name, ciphertext, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (user_id, name) DO UPDATE SET ciphertext = EXCLUDED.ciphertext, updated_at = EXCLUDED.updated_at`),
		rec.ID, rec.UserID, rec.Name, rec.Ciphertext, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func (s *sqlCredentialStore) DeleteCredential(ctx context.Context, userID, name string) error {
	res, err := s.db.ExecContext(ctx, s.bind(
		`DELETE FROM credentials WHERE user_id = $1 AND name = $2`), userID, name)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return requireRow(res)
}

type sqlSettingsStore struct {
	db   *sql.DB
	bind bindFunc
}

func (s *sqlSettingsStore) GetSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	if userID == "" {
		return nil, ErrNotFound
	}
	var settings models.UserSettings
	var pinned string
	err := s.db.QueryRowContext(ctx, s.bind(
		`SELECT user_id, system_prompt, pinned_tool_ids, updated_at FROM user_settings WHERE user_id = $1`), userID).
		Scan(&settings.UserID, &settings.SystemPrompt, &pinned, &settings.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	if pinned != "" && pinned != "null" {
		if err := json.Unmarshal([]byte(pinned), &settings.PinnedToolIDs); err != nil {
			return nil, fmt.Errorf("unmarshal pinned tools: %w", err)
		}
	}
	return &settings, nil
}

func (s *sqlSettingsStore) UpsertSettings(ctx context.Context, settings *models.UserSettings) error {
	if settings == nil || settings.UserID == "" {
		return fmt.Errorf("settings are required")
	}
	pinned, err := json.Marshal(settings.PinnedToolIDs)
	if err != nil {
		return fmt.Errorf("marshal pinned tools: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.bind(
		`INSERT INTO user_settings (user_id, system_prompt, pinned_tool_ids, updated_at)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (user_id) DO UPDATE SET system_prompt = EXCLUDED.system_prompt,
		     pinned_tool_ids = EXCLUDED.pinned_tool_ids, updated_at = EXCLUDED.updated_at`),
		settings.UserID, settings.SystemPrompt, string(pinned), settings.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

func newSQLStoreSet(db *sql.DB, bind bindFunc) StoreSet {
	return StoreSet{
		Conversations: &sqlConversationStore{db: db, bind: bind},
		Messages:      &sqlMessageStore{db: db, bind: bind},
		ToolRuns:      &sqlToolRunStore{db: db, bind: bind},
		Users:         &sqlUserStore{db: db, bind: bind},
		Credentials:   &sqlCredentialStore{db: db, bind: bind},
		Settings:      &sqlSettingsStore{db: db, bind: bind},
		closer:        db.Close,
	}
}
