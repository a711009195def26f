package incentive

import (
	"context"
	"sync"
	"time"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Credit(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *InMemoryStore) BalanceByVoter(ctx context.Context, voterSub string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, e := range s.entries {
		if e.VoterSub == voterSub {
			total += e.Points
		}
	}
	return total, nil
}

func (s *InMemoryStore) ListByVoter(ctx context.Context, voterSub string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entry
	for _, e := range s.entries {
		if e.VoterSub == voterSub {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
