// Package ballot persists accepted votes and the guard tables around them.
// The Ballot row deliberately carries no identity-linking column: voter
// identity lives only in the Participation table, device identity only in
// the device-link table, and neither ever joins against ballot content.
package ballot

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// TimeBucket is the granularity cast timestamps are rounded to before
// storage, so submission order cannot be correlated with session logs.
const TimeBucket = 10 * time.Minute

// BucketTime rounds t down to the configured bucket in UTC.
func BucketTime(t time.Time) time.Time {
	return t.UTC().Truncate(TimeBucket)
}

// Ballot is one accepted vote. Created once, never mutated or deleted.
type Ballot struct {
	ID       uuid.UUID
	PollID   uuid.UUID
	OptionID uuid.UUID

	// Bucketed demographic snapshot. Only generalized values are ever
	// stored here.
	Region    string
	AgeBucket string
	Gender    string

	CastBucket time.Time
	LeafHash   string
}

// CohortDimension names a demographic breakdown axis for analytics.
type CohortDimension string

const (
	DimensionRegion    CohortDimension = "region"
	DimensionAgeBucket CohortDimension = "age_bucket"
	DimensionGender    CohortDimension = "gender"
)

/// Commitment computes the one-way attestation/receipt commitment: a hash of
// the voter's submission signature plus the consumed nonce. It proves a
// submission occurred without allowing signature-based correlation across
// ballots.
func Commitment(submissionSignature, nonceToken string) string {
	sum := sha256.Sum256([]byte(submissionSignature + "|" + nonceToken))
	return hex.EncodeToString(sum[:])
}
