package poll

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"veilvote/internal/attestation"
	txcontext "veilvote/pkg/platform/tx"
)

// PostgresStore persists polls in PostgreSQL. All methods join an enclosing
// transaction when one is carried in the context.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, p *Poll) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO polls (
			id, title, status, starts_at, ends_at, min_k,
			require_attestation, min_attestation_tier, max_voters_per_device,
			incentive_points, eligible_regions, eligible_genders,
			eligible_age_buckets, current_root, last_anchored_root,
			anchor_tx_ref, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		p.ID, p.Title, string(p.Status), p.StartsAt, p.EndsAt, p.MinK,
		p.RequireAttestation, int(p.MinAttestationTier), p.MaxVotersPerDevice,
		p.IncentivePoints, pq.Array(p.Eligibility.Regions), pq.Array(p.Eligibility.Genders),
		pq.Array(p.Eligibility.AgeBuckets), p.CurrentRoot, p.LastAnchoredRoot,
		p.AnchorTxRef, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}
	for _, o := range p.Options {
		_, err := exec.ExecContext(ctx, `
			INSERT INTO poll_options (id, poll_id, label) VALUES ($1,$2,$3)
		`, o.ID, p.ID, o.Label)
		if err != nil {
			return fmt.Errorf("insert poll option: %w", err)
		}
	}
	return nil
}

const pollColumns = `
	id, title, status, starts_at, ends_at, min_k,
	require_attestation, min_attestation_tier, max_voters_per_device,
	incentive_points, eligible_regions, eligible_genders,
	eligible_age_buckets, current_root, last_anchored_root,
	anchor_tx_ref, created_at
`

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*Poll, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	row := exec.QueryRowContext(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE id = $1`, id)
	return s.scanPoll(ctx, row)
}

// LockByID takes the poll's row lock (SELECT ... FOR UPDATE). Must run
// inside a transaction; the lock serializes concurrent ballots for the same
// poll across the read-leaves/write-root sequence.
func (s *PostgresStore) LockByID(ctx context.Context, id uuid.UUID) (*Poll, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	row := exec.QueryRowContext(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE id = $1 FOR UPDATE`, id)
	return s.scanPoll(ctx, row)
}

func (s *PostgresStore) scanPoll(ctx context.Context, row *sql.Row) (*Poll, error) {
	var p Poll
	var status string
	var tier int
	var regions, genders, ageBuckets pq.StringArray
	err := row.Scan(
		&p.ID, &p.Title, &status, &p.StartsAt, &p.EndsAt, &p.MinK,
		&p.RequireAttestation, &tier, &p.MaxVotersPerDevice,
		&p.IncentivePoints, &regions, &genders,
		&ageBuckets, &p.CurrentRoot, &p.LastAnchoredRoot,
		&p.AnchorTxRef, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan poll: %w", err)
	}
	p.Status = Status(status)
	p.MinAttestationTier = attestation.Tier(tier)
	p.Eligibility = Eligibility{Regions: regions, Genders: genders, AgeBuckets: ageBuckets}

	if err := s.loadOptions(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) loadOptions(ctx context.Context, p *Poll) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	rows, err := exec.QueryContext(ctx,
		`SELECT id, label FROM poll_options WHERE poll_id = $1 ORDER BY label`, p.ID)
	if err != nil {
		return fmt.Errorf("load poll options: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o Option
		if err := rows.Scan(&o.ID, &o.Label); err != nil {
			return fmt.Errorf("scan poll option: %w", err)
		}
		p.Options = append(p.Options, o)
	}
	return rows.Err()
}

func (s *PostgresStore) UpdateRoot(ctx context.Context, id uuid.UUID, root string) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	res, err := exec.ExecContext(ctx,
		`UPDATE polls SET current_root = $2 WHERE id = $1`, id, root)
	if err != nil {
		return fmt.Errorf("update poll root: %w", err)
	}
	return requireOneRow(res, ErrNotFound)
}

func (s *PostgresStore) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	res, err := exec.ExecContext(ctx,
		`UPDATE polls SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update poll status: %w", err)
	}
	return requireOneRow(res, ErrNotFound)
}

func (s *PostgresStore) ListAnchorPending(ctx context.Context) ([]*Poll, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT id FROM polls
		WHERE current_root <> '' AND current_root <> last_anchored_root
	`)
	if err != nil {
		return nil, fmt.Errorf("list anchor pending: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan anchor pending id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	polls := make([]*Poll, 0, len(ids))
	for _, id := range ids {
		p, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		polls = append(polls, p)
	}
	return polls, nil
}

func (s *PostgresStore) MarkAnchored(ctx context.Context, id uuid.UUID, root, txRef string) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	res, err := exec.ExecContext(ctx,
		`UPDATE polls SET last_anchored_root = $2, anchor_tx_ref = $3 WHERE id = $1`,
		id, root, txRef)
	if err != nil {
		return fmt.Errorf("mark poll anchored: %w", err)
	}
	return requireOneRow(res, ErrNotFound)
}

func requireOneRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}
