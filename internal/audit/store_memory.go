package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore chains events in a slice under one lock.
type InMemoryStore struct {
	mu        sync.Mutex
	events    []Event
	published map[uuid.UUID]bool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{published: make(map[uuid.UUID]bool)}
}

func (s *InMemoryStore) Append(ctx context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := ""
	if n := len(s.events); n > 0 {
		prev = s.events[n-1].RowHash
	}
	e.PrevHash = prev
	e.RowHash = ComputeRowHash(e.Type, e.Payload, prev, e.Timestamp)
	s.events = append(s.events, *e)
	return nil
}

func (s *InMemoryStore) List(ctx context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, n)
	copy(out, s.events[:n])
	return out, nil
}

func (s *InMemoryStore) ListUnpublished(ctx context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if !s.published[e.ID] {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.published[id] = true
	}
	return nil
}
