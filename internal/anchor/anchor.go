// Package anchor periodically pushes poll merkle roots to an external
// public ledger. The worker and the submission protocol communicate only
// through persisted poll state (current root vs. last anchored root), never
// in-process; anchoring failures retry on the next tick and never block
// voters.
package anchor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"veilvote/internal/audit"
	"veilvote/internal/poll"
)

// Anchorer submits one root to the external ledger and returns its
// transaction reference.
type Anchorer interface {
	Anchor(ctx context.Context, pollID uuid.UUID, root string) (string, error)
}

// Worker drives the periodic anchoring loop.
type Worker struct {
	polls    poll.Store
	anchorer Anchorer
	interval time.Duration
	audit    *audit.Service
	logger   *slog.Logger
}

func NewWorker(polls poll.Store, anchorer Anchorer, interval time.Duration, auditSvc *audit.Service, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{polls: polls, anchorer: anchorer, interval: interval, audit: auditSvc, logger: logger}
}

// Run ticks until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce anchors every poll whose current root differs from the last
// anchored one. Idempotent: an already-anchored root is never resubmitted,
// and a failure leaves the poll pending for the next tick.
func (w *Worker) RunOnce(ctx context.Context) {
	pending, err := w.polls.ListAnchorPending(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "list anchor-pending polls failed", slog.String("error", err.Error()))
		return
	}

	for _, p := range pending {
		root := p.CurrentRoot
		txRef, err := w.anchorer.Anchor(ctx, p.ID, root)
		if err != nil {
			w.logger.ErrorContext(ctx, "anchor failed",
				slog.String("poll_id", p.ID.String()),
				slog.String("error", err.Error()))
			w.audit.TryEmit(ctx, audit.EventAnchorFailed, p.ID.String(),
				map[string]any{"root": root})
			continue
		}

		if err := w.polls.MarkAnchored(ctx, p.ID, root, txRef); err != nil {
			w.logger.ErrorContext(ctx, "mark anchored failed",
				slog.String("poll_id", p.ID.String()),
				slog.String("error", err.Error()))
			continue
		}

		w.audit.TryEmit(ctx, audit.EventRootAnchored, p.ID.String(),
			map[string]any{"root": root, "txRef": txRef})
		w.logger.InfoContext(ctx, "root anchored",
			slog.String("poll_id", p.ID.String()),
			slog.String("tx_ref", txRef))
	}
}
