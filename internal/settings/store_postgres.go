package settings

import (
	"context"
	"database/sql"
	"strconv"

	domainerrors "veilvote/pkg/domain-errors"

	"veilvote/internal/attestation"
)

// PostgresProvider reads policy rows from the settings table. Each row is a
// key/value pair; unknown keys are ignored so rollout of new knobs is
// backward compatible. Wrap it in Cached for request-path use.
type PostgresProvider struct {
	db *sql.DB
}

func NewPostgresProvider(db *sql.DB) *PostgresProvider {
	return &PostgresProvider{db: db}
}

const (
	keyMinK                   = "min_k"
	keyDefaultAttestationTier = "default_attestation_tier"
	keyShieldBlockThreshold   = "shield_block_threshold"
)

func (p *PostgresProvider) Current(ctx context.Context) (Values, error) {
	values := Defaults()

	rows, err := p.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return Values{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "query settings")
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Values{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "scan setting")
		}
		if err := apply(&values, key, value); err != nil {
			return Values{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return Values{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "iterate settings")
	}
	return values, nil
}

func apply(values *Values, key, value string) error {
	switch key {
	case keyMinK:
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return domainerrors.Newf(domainerrors.CodeInternal, "invalid %s setting: %q", key, value)
		}
		values.MinK = n
	case keyDefaultAttestationTier:
		tier, err := attestation.ParseTier(value)
		if err != nil {
			return domainerrors.Newf(domainerrors.CodeInternal, "invalid %s setting: %q", key, value)
		}
		values.DefaultAttestationTier = tier
	case keyShieldBlockThreshold:
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return domainerrors.Newf(domainerrors.CodeInternal, "invalid %s setting: %q", key, value)
		}
		values.ShieldBlockThreshold = n
	}
	return nil
}

// Set upserts one setting row. Used by operational tooling and tests.
func (p *PostgresProvider) Set(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "upsert setting")
	}
	return nil
}
