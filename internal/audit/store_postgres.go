package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	txcontext "veilvote/pkg/platform/tx"
)

// auditChainLockKey serializes appends so no two rows ever chain off the
// same predecessor. Advisory locks are transaction-scoped, which also means
// a rolled-back vote transaction releases the chain with its audit row.
const auditChainLockKey = 0x61756474 // "audt"

// PostgresStore persists the chained audit log. Appends join an enclosing
// transaction when present; otherwise each append runs in its own.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, e *Event) error {
	if _, ok := txcontext.From(ctx); ok {
		return s.appendLocked(ctx, e)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.appendLocked(txcontext.WithTx(ctx, tx), e); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) appendLocked(ctx context.Context, e *Event) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)

	if _, err := exec.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, auditChainLockKey); err != nil {
		return fmt.Errorf("acquire audit chain lock: %w", err)
	}

	var prev sql.NullString
	err := exec.QueryRowContext(ctx,
		`SELECT row_hash FROM audit_log ORDER BY seq DESC LIMIT 1`).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read audit chain head: %w", err)
	}

	e.PrevHash = prev.String
	e.RowHash = ComputeRowHash(e.Type, e.Payload, e.PrevHash, e.Timestamp)

	_, err = exec.ExecContext(ctx, `
		INSERT INTO audit_log (id, event_type, poll_id, payload, prev_hash, row_hash, created_at, published)
		VALUES ($1,$2,$3,$4,$5,$6,$7,false)
	`, e.ID, string(e.Type), e.PollID, e.Payload, e.PrevHash, e.RowHash, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Event, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	query := `SELECT id, event_type, poll_id, payload, prev_hash, row_hash, created_at
		FROM audit_log ORDER BY seq`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = exec.QueryContext(ctx, query+` LIMIT $1`, limit)
	} else {
		rows, err = exec.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list audit rows: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) ListUnpublished(ctx context.Context, limit int) ([]Event, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT id, event_type, poll_id, payload, prev_hash, row_hash, created_at
		FROM audit_log WHERE NOT published ORDER BY seq LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unpublished audit rows: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	exec := txcontext.ExecutorFrom(ctx, s.db)
	_, err := exec.ExecContext(ctx,
		`UPDATE audit_log SET published = true WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark audit rows published: %w", err)
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var eventType string
		if err := rows.Scan(&e.ID, &eventType, &e.PollID, &e.Payload, &e.PrevHash, &e.RowHash, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Type = EventType(eventType)
		events = append(events, e)
	}
	return events, rows.Err()
}
