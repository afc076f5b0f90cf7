// Package vault decrypts per-user stored credentials on demand.
//
// Credentials are sealed with AES-256-GCM under a service-wide key. The
// vault is deliberately best-effort: a record that fails to decrypt is
// skipped, and a failed fetch degrades to an empty credential set, because
// a conversation turn must be able to proceed with zero credentials.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/tpmjs/omega/internal/observability"
	"github.com/tpmjs/omega/pkg/models"
)

var (
	ErrInvalidKey         = errors.New("vault key must be 32 bytes, base64 encoded")
	ErrCiphertextTooShort = errors.New("ciphertext shorter than nonce")
)

// CredentialStore lists a user's encrypted credential records.
type CredentialStore interface {
	ListCredentials(ctx context.Context, userID string) ([]*models.CredentialRecord, error)
}

// Outcome tags the result of a credential fetch so callers can distinguish
// "user has no credentials" from "the fetch itself degraded".
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeEmpty    Outcome = "empty"
	OutcomeDegraded Outcome = "degraded"
)

// Result is the tagged outcome of GetUserEnvVars. Env is always non-nil.
type Result struct {
	Outcome Outcome
	Env     map[string]string
	// Err records the degradation cause when Outcome is OutcomeDegraded.
	Err error
}

// Vault decrypts stored user credentials.
type Vault struct {
	aead   cipher.AEAD
	store  CredentialStore
	logger *observability.Logger
}

// New creates a vault from a base64-encoded 32-byte key.
func New(encodedKey string, store CredentialStore, logger *observability.Logger) (*Vault, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil || len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault gcm: %w", err)
	}
	return &Vault{aead: aead, store: store, logger: logger}, nil
}

// GetUserEnvVars fetches and decrypts all stored credentials for a user.
// Individual decryption failures are logged and skipped; a store failure
// degrades to an empty mapping instead of propagating.
func (v *Vault) GetUserEnvVars(ctx context.Context, userID string) Result {
	env := map[string]string{}
	if v == nil || v.store == nil {
		return Result{Outcome: OutcomeEmpty, Env: env}
	}

	records, err := v.store.ListCredentials(ctx, userID)
	if err != nil {
		if v.logger != nil {
			v.logger.Warn(ctx, "credential fetch failed, proceeding without credentials", "error", err)
		}
		return Result{Outcome: OutcomeDegraded, Env: env, Err: err}
	}

	degraded := false
	for _, record := range records {
		plaintext, err := v.open(record.Ciphertext)
		if err != nil {
			degraded = true
			if v.logger != nil {
				v.logger.Warn(ctx, "credential decryption failed, skipping key",
					"credential", record.Name, "error", err)
			}
			continue
		}
		env[record.Name] = plaintext
	}

	switch {
	case degraded:
		return Result{Outcome: OutcomeDegraded, Env: env, Err: errors.New("one or more credentials failed to decrypt")}
	case len(env) == 0:
		return Result{Outcome: OutcomeEmpty, Env: env}
	default:
		return Result{Outcome: OutcomeOK, Env: env}
	}
}

// Seal encrypts a plaintext credential value for storage.
func (v *Vault) Seal(plaintext string) ([]byte, error) {
	if v == nil || v.aead == nil {
		return nil, ErrInvalidKey
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return v.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (v *Vault) open(ciphertext []byte) (string, error) {
	nonceSize := v.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrCiphertextTooShort
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
