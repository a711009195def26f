package nonce

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps nonces in a map. Single-process only; production
// deployments with multiple instances use the Redis store.
type InMemoryStore struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	now    func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tokens: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *InMemoryStore) Save(ctx context.Context, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = s.now().Add(ttl)
	return nil
}

// Consume checks and deletes under one lock acquisition, which is what
// makes it safe against two concurrent submissions racing on the same token.
func (s *InMemoryStore) Consume(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.tokens[token]
	if !ok {
		return false, nil
	}
	delete(s.tokens, token)
	if s.now().After(expiry) {
		return false, nil
	}
	return true, nil
}
