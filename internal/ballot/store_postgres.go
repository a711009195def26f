package ballot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	txcontext "veilvote/pkg/platform/tx"
)

// uniqueViolation is the PostgreSQL error code for unique constraint hits.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PostgresStore implements the ballot-side stores against PostgreSQL. All
// methods join an enclosing transaction carried in the context.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, b *Ballot) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO ballots (id, poll_id, option_id, region, age_bucket, gender, cast_bucket, leaf_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, b.ID, b.PollID, b.OptionID, b.Region, b.AgeBucket, b.Gender, b.CastBucket, b.LeafHash)
	if err != nil {
		return fmt.Errorf("insert ballot: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLeafHashes(ctx context.Context, pollID uuid.UUID) ([]string, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	rows, err := exec.QueryContext(ctx,
		`SELECT leaf_hash FROM ballots WHERE poll_id = $1 ORDER BY seq`, pollID)
	if err != nil {
		return nil, fmt.Errorf("list leaf hashes: %w", err)
	}
	defer rows.Close()

	var leaves []string
	for rows.Next() {
		var leaf string
		if err := rows.Scan(&leaf); err != nil {
			return nil, fmt.Errorf("scan leaf hash: %w", err)
		}
		leaves = append(leaves, leaf)
	}
	return leaves, rows.Err()
}

func (s *PostgresStore) CountByPoll(ctx context.Context, pollID uuid.UUID) (int, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	var n int
	err := exec.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ballots WHERE poll_id = $1`, pollID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ballots: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountByOption(ctx context.Context, pollID uuid.UUID) (map[uuid.UUID]int, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	rows, err := exec.QueryContext(ctx,
		`SELECT option_id, COUNT(*) FROM ballots WHERE poll_id = $1 GROUP BY option_id`, pollID)
	if err != nil {
		return nil, fmt.Errorf("count by option: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan option count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) CountByCohort(ctx context.Context, pollID uuid.UUID, dim CohortDimension) (map[string]int, error) {
	var column string
	switch dim {
	case DimensionRegion:
		column = "region"
	case DimensionAgeBucket:
		column = "age_bucket"
	case DimensionGender:
		column = "gender"
	default:
		return nil, fmt.Errorf("unknown cohort dimension %q", dim)
	}

	exec := txcontext.ExecutorFrom(ctx, s.db)
	rows, err := exec.QueryContext(ctx, fmt.Sprintf(
		`SELECT COALESCE(NULLIF(%s, ''), 'unknown'), COUNT(*) FROM ballots WHERE poll_id = $1 GROUP BY 1`,
		column), pollID)
	if err != nil {
		return nil, fmt.Errorf("count by cohort: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan cohort count: %w", err)
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// PostgresNullifierStore enforces the (poll_id, nullifier_hash) unique
// constraint and maps violations to ErrDuplicate.
type PostgresNullifierStore struct {
	db *sql.DB
}

func NewPostgresNullifierStore(db *sql.DB) *PostgresNullifierStore {
	return &PostgresNullifierStore{db: db}
}

func (s *PostgresNullifierStore) Insert(ctx context.Context, pollID uuid.UUID, hash string) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	_, err := exec.ExecContext(ctx,
		`INSERT INTO nullifiers (poll_id, nullifier_hash) VALUES ($1,$2)`, pollID, hash)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert nullifier: %w", err)
	}
	return nil
}

// PostgresParticipationStore is the identity-layer guard table.
type PostgresParticipationStore struct {
	db *sql.DB
}

func NewPostgresParticipationStore(db *sql.DB) *PostgresParticipationStore {
	return &PostgresParticipationStore{db: db}
}

func (s *PostgresParticipationStore) Exists(ctx context.Context, pollID uuid.UUID, voterSub string) (bool, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	var exists bool
	err := exec.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM participation WHERE poll_id = $1 AND voter_sub = $2)`,
		pollID, voterSub).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check participation: %w", err)
	}
	return exists, nil
}

func (s *PostgresParticipationStore) Insert(ctx context.Context, pollID uuid.UUID, voterSub string, bucket time.Time) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	_, err := exec.ExecContext(ctx,
		`INSERT INTO participation (poll_id, voter_sub, cast_bucket) VALUES ($1,$2,$3)`,
		pollID, voterSub, bucket)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert participation: %w", err)
	}
	return nil
}

// PostgresDeviceLinkStore backs the distinct-voters-per-device cap.
type PostgresDeviceLinkStore struct {
	db *sql.DB
}

func NewPostgresDeviceLinkStore(db *sql.DB) *PostgresDeviceLinkStore {
	return &PostgresDeviceLinkStore{db: db}
}

func (s *PostgresDeviceLinkStore) CountVoters(ctx context.Context, pollID uuid.UUID, deviceHash string) (int, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	var n int
	err := exec.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT voter_sub) FROM device_links WHERE poll_id = $1 AND device_hash = $2`,
		pollID, deviceHash).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count device voters: %w", err)
	}
	return n, nil
}

func (s *PostgresDeviceLinkStore) Link(ctx context.Context, pollID uuid.UUID, deviceHash, voterSub string) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO device_links (poll_id, device_hash, voter_sub)
		VALUES ($1,$2,$3)
		ON CONFLICT (poll_id, device_hash, voter_sub) DO NOTHING
	`, pollID, deviceHash, voterSub)
	if err != nil {
		return fmt.Errorf("link device voter: %w", err)
	}
	return nil
}

// PostgresCommitmentStore persists attestation commitments.
type PostgresCommitmentStore struct {
	db *sql.DB
}

func NewPostgresCommitmentStore(db *sql.DB) *PostgresCommitmentStore {
	return &PostgresCommitmentStore{db: db}
}

func (s *PostgresCommitmentStore) Insert(ctx context.Context, voteID uuid.UUID, commitment string) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	_, err := exec.ExecContext(ctx,
		`INSERT INTO attestation_commitments (vote_id, commitment) VALUES ($1,$2)`,
		voteID, commitment)
	if err != nil {
		return fmt.Errorf("insert commitment: %w", err)
	}
	return nil
}
