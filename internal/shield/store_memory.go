package shield

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps risk state in process memory with explicit expiry
// timestamps checked on read.
type InMemoryStore struct {
	mu     sync.Mutex
	risks  map[string]*riskEntry
	blocks map[string]time.Time
	now    func() time.Time
}

type riskEntry struct {
	score     int
	expiresAt time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		risks:  make(map[string]*riskEntry),
		blocks: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *InMemoryStore) IncrementRisk(ctx context.Context, addr string, weight int, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := s.risks[addr]
	if entry == nil || now.After(entry.expiresAt) {
		entry = &riskEntry{}
		s.risks[addr] = entry
	}
	entry.score += weight
	entry.expiresAt = now.Add(ttl)
	return entry.score, nil
}

func (s *InMemoryStore) Block(ctx context.Context, addr string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[addr] = s.now().Add(ttl)
	return nil
}

func (s *InMemoryStore) IsBlocked(ctx context.Context, addr string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.blocks[addr]
	if !ok {
		return false, nil
	}
	if s.now().After(until) {
		delete(s.blocks, addr)
		return false, nil
	}
	return true, nil
}

func (s *InMemoryStore) RiskScore(ctx context.Context, addr string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.risks[addr]
	if entry == nil || s.now().After(entry.expiresAt) {
		return 0, nil
	}
	return entry.score, nil
}
