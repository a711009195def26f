package poll

import (
	"context"

	"github.com/google/uuid"

	dErrors "veilvote/pkg/domain-errors"
)

// ErrNotFound keeps store-level 404s consistent across implementations.
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "poll not found")

// Store persists polls.
type Store interface {
	Create(ctx context.Context, p *Poll) error
	FindByID(ctx context.Context, id uuid.UUID) (*Poll, error)
	// LockByID loads the poll while taking the per-poll write lock for the
	// enclosing transaction. The submission protocol holds this lock across
	// its read-leaf-set-then-write-root sequence; without it two
	// near-simultaneous ballots can commit a root that omits one leaf.
	LockByID(ctx context.Context, id uuid.UUID) (*Poll, error)
	UpdateRoot(ctx context.Context, id uuid.UUID, root string) error
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
	// ListAnchorPending returns polls whose current root differs from the
	// last anchored one.
	ListAnchorPending(ctx context.Context) ([]*Poll, error)
	MarkAnchored(ctx context.Context, id uuid.UUID, root, txRef string) error
}
