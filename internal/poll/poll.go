// Package poll holds the poll aggregate: lifecycle status, voting window,
// eligibility predicate, anti-abuse policy, and the current merkle root the
// submission protocol maintains.
package poll

import (
	"time"

	"github.com/google/uuid"

	"veilvote/internal/attestation"
	dErrors "veilvote/pkg/domain-errors"
)

// Status is the poll lifecycle state. Only active polls accept ballots.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusArchived  Status = "archived"
)

// Option is one choice on a poll's ballot.
type Option struct {
	ID    uuid.UUID
	Label string
}

// Eligibility is the demographic predicate a voter must satisfy. Empty
// slices mean "no restriction" for that dimension.
type Eligibility struct {
	Regions    []string
	Genders    []string
	AgeBuckets []string
}

// Demographics are the bucketed claims the identity layer asserts about a
// voter. Values arrive pre-generalized; this package never sees raw PII.
type Demographics struct {
	Region    string
	AgeBucket string
	Gender    string
}

// Poll is the aggregate root.
type Poll struct {
	ID                 uuid.UUID
	Title              string
	Status             Status
	StartsAt           time.Time
	EndsAt             time.Time
	MinK               int
	RequireAttestation bool
	MinAttestationTier attestation.Tier
	MaxVotersPerDevice int
	IncentivePoints    int
	Eligibility        Eligibility
	Options            []Option

	// CurrentRoot is the merkle commitment over all accepted ballots.
	// Updated inside the submission transaction, never elsewhere.
	CurrentRoot string
	// LastAnchoredRoot/AnchorTxRef track what the anchoring worker has
	// already pushed to the external ledger. The worker and the protocol
	// communicate only through these persisted fields.
	LastAnchoredRoot string
	AnchorTxRef      string

	CreatedAt time.Time
}

// IsActive reports whether the poll accepts ballots at all.
func (p *Poll) IsActive() bool {
	return p.Status == StatusActive
}

// InWindow reports whether t falls inside the poll's voting window.
func (p *Poll) InWindow(t time.Time) bool {
	return !t.Before(p.StartsAt) && t.Before(p.EndsAt)
}

// HasOption reports whether the option belongs to this poll.
func (p *Poll) HasOption(optionID uuid.UUID) bool {
	for _, o := range p.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// CheckEligibility evaluates the demographic predicate. A restricted
// dimension with a missing claim fails closed.
func (p *Poll) CheckEligibility(d Demographics) error {
	if err := checkDimension("region", d.Region, p.Eligibility.Regions); err != nil {
		return err
	}
	if err := checkDimension("gender", d.Gender, p.Eligibility.Genders); err != nil {
		return err
	}
	if err := checkDimension("age bucket", d.AgeBucket, p.Eligibility.AgeBuckets); err != nil {
		return err
	}
	return nil
}

func checkDimension(name, claim string, allowed []string) error {
	if len(allowed) == 0 {
		return nil
	}
	if claim == "" {
		return dErrors.Newf(dErrors.CodeEligibility, "missing required %s claim", name)
	}
	for _, v := range allowed {
		if v == claim {
			return nil
		}
	}
	return dErrors.Newf(dErrors.CodeEligibility, "%s not eligible for this poll", name)
}

// AnchorPending reports whether the current root has not yet been pushed to
// the external ledger.
func (p *Poll) AnchorPending() bool {
	return p.CurrentRoot != "" && p.CurrentRoot != p.LastAnchoredRoot
}
