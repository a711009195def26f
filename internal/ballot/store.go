package ballot

import (
	"context"
	"time"

	"github.com/google/uuid"

	dErrors "veilvote/pkg/domain-errors"
)

// ErrDuplicate is returned by the uniqueness-guarded inserts. The nullifier
// and participation tables both surface it; the submission protocol maps it
// to a double-vote rejection.
var ErrDuplicate = dErrors.New(dErrors.CodeConflict, "record already exists")

// Store persists accepted ballots.
type Store interface {
	Insert(ctx context.Context, b *Ballot) error
	// ListLeafHashes returns every leaf for the poll in insertion order;
	// the merkle root is recomputed over exactly this sequence.
	ListLeafHashes(ctx context.Context, pollID uuid.UUID) ([]string, error)
	CountByPoll(ctx context.Context, pollID uuid.UUID) (int, error)
	CountByOption(ctx context.Context, pollID uuid.UUID) (map[uuid.UUID]int, error)
	CountByCohort(ctx context.Context, pollID uuid.UUID, dim CohortDimension) (map[string]int, error)
}

// NullifierStore enforces at most one row per (poll, nullifier). This is
// the storage-layer double-vote guard; it holds even if the identity-layer
// participation check is bypassed.
type NullifierStore interface {
	Insert(ctx context.Context, pollID uuid.UUID, nullifierHash string) error
}

// ParticipationStore is the identity-layer double-vote guard, deliberately
// decoupled from ballot content so identity never touches vote data.
type ParticipationStore interface {
	Exists(ctx context.Context, pollID uuid.UUID, voterSub string) (bool, error)
	Insert(ctx context.Context, pollID uuid.UUID, voterSub string, bucket time.Time) error
}

// DeviceLinkStore tracks which voter identities have used a device for a
// poll, backing the distinct-voters-per-device abuse cap.
type DeviceLinkStore interface {
	CountVoters(ctx context.Context, pollID uuid.UUID, deviceHash string) (int, error)
	Link(ctx context.Context, pollID uuid.UUID, deviceHash, voterSub string) error
}

// CommitmentStore persists the one-way attestation commitments.
type CommitmentStore interface {
	Insert(ctx context.Context, voteID uuid.UUID, commitment string) error
}
