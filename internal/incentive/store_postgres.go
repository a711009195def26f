package incentive

import (
	"context"
	"database/sql"
	"fmt"

	txcontext "veilvote/pkg/platform/tx"
)

// PostgresStore persists the ledger. Credit joins the enclosing submission
// transaction so a rolled-back vote never leaves a credit behind.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Credit(ctx context.Context, e *Entry) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO incentive_ledger (id, poll_id, voter_sub, points, created_at)
		VALUES ($1,$2,$3,$4,NOW())
	`, e.ID, e.PollID, e.VoterSub, e.Points)
	if err != nil {
		return fmt.Errorf("credit incentive: %w", err)
	}
	return nil
}

func (s *PostgresStore) BalanceByVoter(ctx context.Context, voterSub string) (int, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	var total int
	err := exec.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM incentive_ledger WHERE voter_sub = $1`,
		voterSub).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum incentive balance: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) ListByVoter(ctx context.Context, voterSub string) ([]*Entry, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT id, poll_id, voter_sub, points, created_at
		FROM incentive_ledger WHERE voter_sub = $1 ORDER BY created_at
	`, voterSub)
	if err != nil {
		return nil, fmt.Errorf("list incentive entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.PollID, &e.VoterSub, &e.Points, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan incentive entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
