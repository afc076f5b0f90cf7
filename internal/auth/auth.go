// Package auth validates API keys and JWTs for the Omega HTTP API.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/tpmjs/omega/pkg/models"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidKey   = errors.New("invalid api key")
)

// KeyStore resolves hashed API keys to their owners.
type KeyStore interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error
}

// Config configures authentication helpers.
type Config struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

// Service validates JWTs and API keys.
type Service struct {
	jwt  *JWTService
	keys KeyStore
}

// NewService constructs an auth service.
func NewService(cfg Config, keys KeyStore) *Service {
	service := &Service{keys: keys}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		service.jwt = NewJWTService(cfg.JWTSecret, cfg.TokenExpiry)
	}
	return service
}

// Enabled reports whether auth checks should run.
func (s *Service) Enabled() bool {
	return s != nil && (s.jwt != nil || s.keys != nil)
}

// GenerateJWT issues a signed token for the given user.
func (s *Service) GenerateJWT(user *models.User) (string, error) {
	if s == nil || s.jwt == nil {
		return "", ErrAuthDisabled
	}
	return s.jwt.Generate(user)
}

// ValidateJWT validates a JWT and returns the associated user.
func (s *Service) ValidateJWT(token string) (*models.User, error) {
	if s == nil || s.jwt == nil {
		return nil, ErrAuthDisabled
	}
	return s.jwt.Validate(token)
}

// ValidateAPIKey resolves an API key to its owning user. Keys are stored as
// SHA-256 digests, so lookup never touches plaintext key material.
func (s *Service) ValidateAPIKey(ctx context.Context, key string) (*models.User, error) {
	if s == nil || s.keys == nil {
		return nil, ErrAuthDisabled
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrInvalidKey
	}

	record, err := s.keys.GetAPIKeyByHash(ctx, HashKey(key))
	if err != nil || record == nil {
		return nil, ErrInvalidKey
	}
	user, err := s.keys.GetUser(ctx, record.UserID)
	if err != nil || user == nil {
		return nil, ErrInvalidKey
	}

	// Last-used is advisory; failures must not block the request.
	_ = s.keys.TouchAPIKey(ctx, record.ID, time.Now())
	return user, nil
}

// HashKey computes the stored digest for an API key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// KeyPrefix returns the identifying prefix recorded alongside a key.
func KeyPrefix(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 8 {
		return key
	}
	return key[:8]
}
