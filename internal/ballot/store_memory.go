package ballot

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore implements every ballot-side store against maps. Tests and
// single-node dev only; atomicity comes from the memory transaction runner.
type InMemoryStore struct {
	mu            sync.RWMutex
	ballots       map[uuid.UUID][]*Ballot // pollID -> insertion order
	nullifiers    map[string]struct{}     // pollID|hash
	participation map[string]time.Time    // pollID|voterSub -> bucket
	deviceVoters  map[string]map[string]struct{}
	commitments   map[uuid.UUID]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		ballots:       make(map[uuid.UUID][]*Ballot),
		nullifiers:    make(map[string]struct{}),
		participation: make(map[string]time.Time),
		deviceVoters:  make(map[string]map[string]struct{}),
		commitments:   make(map[uuid.UUID]string),
	}
}

func (s *InMemoryStore) Insert(ctx context.Context, b *Ballot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.ballots[b.PollID] = append(s.ballots[b.PollID], &cp)
	return nil
}

func (s *InMemoryStore) ListLeafHashes(ctx context.Context, pollID uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.ballots[pollID]
	leaves := make([]string, len(rows))
	for i, b := range rows {
		leaves[i] = b.LeafHash
	}
	return leaves, nil
}

func (s *InMemoryStore) CountByPoll(ctx context.Context, pollID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ballots[pollID]), nil
}

func (s *InMemoryStore) CountByOption(ctx context.Context, pollID uuid.UUID) (map[uuid.UUID]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[uuid.UUID]int)
	for _, b := range s.ballots[pollID] {
		counts[b.OptionID]++
	}
	return counts, nil
}

func (s *InMemoryStore) CountByCohort(ctx context.Context, pollID uuid.UUID, dim CohortDimension) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, b := range s.ballots[pollID] {
		var key string
		switch dim {
		case DimensionRegion:
			key = b.Region
		case DimensionAgeBucket:
			key = b.AgeBucket
		case DimensionGender:
			key = b.Gender
		}
		if key == "" {
			key = "unknown"
		}
		counts[key]++
	}
	return counts, nil
}

// Nullifier guard.

func (s *InMemoryStore) InsertNullifier(ctx context.Context, pollID uuid.UUID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pollID.String() + "|" + hash
	if _, exists := s.nullifiers[key]; exists {
		return ErrDuplicate
	}
	s.nullifiers[key] = struct{}{}
	return nil
}

// Participation guard.

func (s *InMemoryStore) ParticipationExists(ctx context.Context, pollID uuid.UUID, voterSub string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.participation[pollID.String()+"|"+voterSub]
	return ok, nil
}

func (s *InMemoryStore) InsertParticipation(ctx context.Context, pollID uuid.UUID, voterSub string, bucket time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pollID.String() + "|" + voterSub
	if _, exists := s.participation[key]; exists {
		return ErrDuplicate
	}
	s.participation[key] = bucket
	return nil
}

// Device links.

func (s *InMemoryStore) CountVoters(ctx context.Context, pollID uuid.UUID, deviceHash string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.deviceVoters[pollID.String()+"|"+deviceHash]), nil
}

func (s *InMemoryStore) Link(ctx context.Context, pollID uuid.UUID, deviceHash, voterSub string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pollID.String() + "|" + deviceHash
	if s.deviceVoters[key] == nil {
		s.deviceVoters[key] = make(map[string]struct{})
	}
	s.deviceVoters[key][voterSub] = struct{}{}
	return nil
}

// Commitments.

func (s *InMemoryStore) InsertCommitment(ctx context.Context, voteID uuid.UUID, commitment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitments[voteID] = commitment
	return nil
}

// Typed adapters so one in-memory fixture can satisfy all store interfaces
// without the callers knowing.

type memNullifiers struct{ s *InMemoryStore }
type memParticipation struct{ s *InMemoryStore }
type memDevices struct{ s *InMemoryStore }
type memCommitments struct{ s *InMemoryStore }

func (s *InMemoryStore) Nullifiers() NullifierStore         { return memNullifiers{s} }
func (s *InMemoryStore) Participation() ParticipationStore  { return memParticipation{s} }
func (s *InMemoryStore) Devices() DeviceLinkStore           { return memDevices{s} }
func (s *InMemoryStore) Commitments() CommitmentStore       { return memCommitments{s} }

func (m memNullifiers) Insert(ctx context.Context, pollID uuid.UUID, hash string) error {
	return m.s.InsertNullifier(ctx, pollID, hash)
}

func (m memParticipation) Exists(ctx context.Context, pollID uuid.UUID, voterSub string) (bool, error) {
	return m.s.ParticipationExists(ctx, pollID, voterSub)
}

func (m memParticipation) Insert(ctx context.Context, pollID uuid.UUID, voterSub string, bucket time.Time) error {
	return m.s.InsertParticipation(ctx, pollID, voterSub, bucket)
}

func (m memDevices) CountVoters(ctx context.Context, pollID uuid.UUID, deviceHash string) (int, error) {
	return m.s.CountVoters(ctx, pollID, deviceHash)
}

func (m memDevices) Link(ctx context.Context, pollID uuid.UUID, deviceHash, voterSub string) error {
	return m.s.Link(ctx, pollID, deviceHash, voterSub)
}

func (m memCommitments) Insert(ctx context.Context, voteID uuid.UUID, commitment string) error {
	return m.s.InsertCommitment(ctx, voteID, commitment)
}
