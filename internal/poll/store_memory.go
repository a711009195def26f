package poll

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore keeps polls in a map for tests and single-node dev runs.
// Per-poll locking is provided by the memory transaction runner's coarse
// lock, so LockByID degenerates to a read here.
type InMemoryStore struct {
	mu    sync.RWMutex
	polls map[uuid.UUID]*Poll
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{polls: make(map[uuid.UUID]*Poll)}
}

func (s *InMemoryStore) Create(ctx context.Context, p *Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := clone(p)
	s.polls[p.ID] = cp
	return nil
}

func (s *InMemoryStore) FindByID(ctx context.Context, id uuid.UUID) (*Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.polls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

func (s *InMemoryStore) LockByID(ctx context.Context, id uuid.UUID) (*Poll, error) {
	return s.FindByID(ctx, id)
}

func (s *InMemoryStore) UpdateRoot(ctx context.Context, id uuid.UUID, root string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[id]
	if !ok {
		return ErrNotFound
	}
	p.CurrentRoot = root
	return nil
}

func (s *InMemoryStore) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	return nil
}

func (s *InMemoryStore) ListAnchorPending(ctx context.Context) ([]*Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []*Poll
	for _, p := range s.polls {
		if p.AnchorPending() {
			pending = append(pending, clone(p))
		}
	}
	return pending, nil
}

func (s *InMemoryStore) MarkAnchored(ctx context.Context, id uuid.UUID, root, txRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[id]
	if !ok {
		return ErrNotFound
	}
	p.LastAnchoredRoot = root
	p.AnchorTxRef = txRef
	return nil
}

func clone(p *Poll) *Poll {
	cp := *p
	cp.Options = append([]Option(nil), p.Options...)
	cp.Eligibility = Eligibility{
		Regions:    append([]string(nil), p.Eligibility.Regions...),
		Genders:    append([]string(nil), p.Eligibility.Genders...),
		AgeBuckets: append([]string(nil), p.Eligibility.AgeBuckets...),
	}
	return &cp
}
