// Package nonce issues and consumes single-use anti-replay tokens. Tokens
// live only in ephemeral storage with a short TTL; expiry is the sole
// cancellation mechanism for an in-flight submission.
package nonce

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Store persists nonces. Consume must be a single atomic check-and-delete;
// a lookup followed by a separate delete lets two concurrent submissions
// both observe a still-valid nonce.
type Store interface {
	Save(ctx context.Context, token string, ttl time.Duration) error
	// Consume atomically deletes the token, reporting whether it existed
	// and had not expired.
	Consume(ctx context.Context, token string) (bool, error)
}

// Nonce is an issued anti-replay token.
type Nonce struct {
	Token     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Service issues and consumes nonces against a Store.
type Service struct {
	store Store
	ttl   time.Duration
}

func NewService(store Store, ttl time.Duration) *Service {
	return &Service{store: store, ttl: ttl}
}

// Issue mints a fresh 256-bit token.
func (s *Service) Issue(ctx context.Context) (Nonce, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return Nonce{}, fmt.Errorf("nonce: read entropy: %w", err)
	}
	token := hex.EncodeToString(buf[:])
	if err := s.store.Save(ctx, token, s.ttl); err != nil {
		return Nonce{}, fmt.Errorf("nonce: save: %w", err)
	}
	return Nonce{Token: token, ExpiresAt: time.Now().Add(s.ttl)}, nil
}

// Consume burns the token. False means absent, expired, or already used.
func (s *Service) Consume(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	return s.store.Consume(ctx, token)
}
