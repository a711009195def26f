package main

import (
	"context"
	"database/sql"
	"time"

	dErrors "veilvote/pkg/domain-errors"
	txcontext "veilvote/pkg/platform/tx"
)

const defaultVoteTxTimeout = 5 * time.Second

// votePostgresTx runs the submission protocol's write sequence in one
// database transaction. The transaction rides the context, so every store
// the protocol touches joins it; a rollback discards the ballot, the guard
// rows, the root update, the audit row, and the incentive credit together.
type votePostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newVotePostgresTx(db *sql.DB) *votePostgresTx {
	return &votePostgresTx{db: db}
}

func (t *votePostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultVoteTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTxConflict, "commit failed")
	}
	return nil
}
