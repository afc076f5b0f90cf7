package models

import "time"

// User represents an authenticated user.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// APIKey represents an API key for programmatic access.
type APIKey struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Prefix     string    `json:"prefix"` // First 8 chars for identification
	KeyHash    string    `json:"-"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// UserSettings carries per-user Omega preferences loaded at turn start.
type UserSettings struct {
	UserID        string    `json:"user_id"`
	SystemPrompt  string    `json:"system_prompt,omitempty"`
	PinnedToolIDs []string  `json:"pinned_tool_ids,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CredentialRecord is a stored, encrypted environment variable for a user.
// Ciphertext is AES-GCM sealed; the plaintext never touches the database.
type CredentialRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Ciphertext []byte    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
