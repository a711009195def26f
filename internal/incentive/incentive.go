// Package incentive credits participation rewards. Entries reference the
// voter identity, never the ballot, so rewards cannot be joined back to
// vote content.
package incentive

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one credited reward.
type Entry struct {
	ID        uuid.UUID
	PollID    uuid.UUID
	VoterSub  string
	Points    int
	CreatedAt time.Time
}

// Store persists the ledger.
type Store interface {
	Credit(ctx context.Context, e *Entry) error
	BalanceByVoter(ctx context.Context, voterSub string) (int, error)
	ListByVoter(ctx context.Context, voterSub string) ([]*Entry, error)
}

// Credit is the result surfaced in the submission response when a poll
// awards points.
type Credit struct {
	Points  int `json:"points"`
	Balance int `json:"balance"`
}
