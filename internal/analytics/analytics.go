// Package analytics answers aggregate queries over poll results behind a
// k-anonymity gate. For active polls no released number may describe a
// group smaller than k; ended polls are the historical record and are
// released raw.
package analytics

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"veilvote/internal/audit"
	"veilvote/internal/ballot"
	"veilvote/internal/poll"
	"veilvote/internal/settings"
	dErrors "veilvote/pkg/domain-errors"
)

// OptionCount is one option's tally.
type OptionCount struct {
	OptionID uuid.UUID `json:"optionId"`
	Label    string    `json:"label"`
	Count    int       `json:"count"`
	Percent  float64   `json:"percent"`
}

// CohortCount is one demographic cohort's tally. Suppressed cohorts carry
// no count and no percentage; the numbers are never computed for them.
type CohortCount struct {
	Cohort     string   `json:"cohort"`
	Count      *int     `json:"count,omitempty"`
	Percent    *float64 `json:"percent,omitempty"`
	Suppressed bool     `json:"suppressed"`
}

// Results is the full answer to a results query.
type Results struct {
	PollID     uuid.UUID                                `json:"pollId"`
	Status     poll.Status                              `json:"status"`
	Suppressed bool                                     `json:"suppressed"`
	Total      *int                                     `json:"total,omitempty"`
	Options    []OptionCount                            `json:"options,omitempty"`
	Cohorts    map[ballot.CohortDimension][]CohortCount `json:"cohorts,omitempty"`
}

// Service evaluates results queries against the gate.
type Service struct {
	polls    poll.Store
	ballots  ballot.Store
	settings settings.Provider
	audit    *audit.Service
	logger   *slog.Logger
}

func NewService(polls poll.Store, ballots ballot.Store, provider settings.Provider, auditSvc *audit.Service, logger *slog.Logger) *Service {
	return &Service{polls: polls, ballots: ballots, settings: provider, audit: auditSvc, logger: logger}
}

// effectiveK raises the poll's configured k to the server floor. A poll can
// demand more anonymity than the floor, never less.
func effectiveK(p *poll.Poll, serverMinK int) int {
	k := p.MinK
	if k < serverMinK {
		k = serverMinK
	}
	return k
}

// Results computes the tallies for one poll, applying total suppression,
// per-cohort suppression, and complementary suppression for active polls.
func (s *Service) Results(ctx context.Context, pollID uuid.UUID) (*Results, error) {
	p, err := s.polls.FindByID(ctx, pollID)
	if err != nil {
		return nil, err
	}

	values, err := s.settings.Current(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load settings")
	}

	total, err := s.ballots.CountByPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}

	ended := p.Status == poll.StatusEnded || p.Status == poll.StatusArchived
	k := effectiveK(p, values.MinK)

	// Active poll below the floor: suppress everything. No total, no
	// options, no cohorts.
	if !ended && total < k {
		s.audit.TryEmit(ctx, audit.EventResultsSuppressed, pollID.String(),
			map[string]any{"reason": "total_below_k"})
		return &Results{PollID: pollID, Status: p.Status, Suppressed: true}, nil
	}

	byOption, err := s.ballots.CountByOption(ctx, pollID)
	if err != nil {
		return nil, err
	}

	res := &Results{
		PollID:  pollID,
		Status:  p.Status,
		Total:   &total,
		Options: optionCounts(p, byOption, total),
		Cohorts: make(map[ballot.CohortDimension][]CohortCount),
	}

	for _, dim := range []ballot.CohortDimension{ballot.DimensionRegion, ballot.DimensionAgeBucket, ballot.DimensionGender} {
		counts, err := s.ballots.CountByCohort(ctx, pollID, dim)
		if err != nil {
			return nil, err
		}
		if len(counts) == 0 {
			continue
		}
		if ended {
			res.Cohorts[dim] = rawCohorts(counts, total)
		} else {
			res.Cohorts[dim] = gateCohorts(counts, total, k)
		}
	}
	return res, nil
}

func optionCounts(p *poll.Poll, byOption map[uuid.UUID]int, total int) []OptionCount {
	out := make([]OptionCount, 0, len(p.Options))
	for _, opt := range p.Options {
		count := byOption[opt.ID]
		oc := OptionCount{OptionID: opt.ID, Label: opt.Label, Count: count}
		if total > 0 {
			oc.Percent = 100 * float64(count) / float64(total)
		}
		out = append(out, oc)
	}
	return out
}

func rawCohorts(counts map[string]int, total int) []CohortCount {
	out := make([]CohortCount, 0, len(counts))
	for _, cohort := range sortedKeys(counts) {
		count := counts[cohort]
		var pct float64
		if total > 0 {
			pct = 100 * float64(count) / float64(total)
		}
		c, p := count, pct
		out = append(out, CohortCount{Cohort: cohort, Count: &c, Percent: &p})
	}
	return out
}

// gateCohorts suppresses cohorts below k, then applies the complementary
// defense: when exactly one cohort is suppressed its count is recoverable
// as total minus the visible sum, so the smallest visible cohort is
// suppressed as well.
func gateCohorts(counts map[string]int, total, k int) []CohortCount {
	suppressed := make(map[string]bool, len(counts))
	for cohort, count := range counts {
		if count < k {
			suppressed[cohort] = true
		}
	}

	if n := len(suppressed); n > 0 && n == 1 && len(counts) > 1 {
		smallest := ""
		for _, cohort := range sortedKeys(counts) {
			if suppressed[cohort] {
				continue
			}
			if smallest == "" || counts[cohort] < counts[smallest] {
				smallest = cohort
			}
		}
		if smallest != "" {
			suppressed[smallest] = true
		}
	}

	out := make([]CohortCount, 0, len(counts))
	for _, cohort := range sortedKeys(counts) {
		if suppressed[cohort] {
			out = append(out, CohortCount{Cohort: cohort, Suppressed: true})
			continue
		}
		count := counts[cohort]
		pct := 100 * float64(count) / float64(total)
		c, p := count, pct
		out = append(out, CohortCount{Cohort: cohort, Count: &c, Percent: &p})
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
