package analytics

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilvote/internal/audit"
	"veilvote/internal/ballot"
	"veilvote/internal/poll"
	"veilvote/internal/settings"
)

type fixture struct {
	polls   *poll.InMemoryStore
	ballots *ballot.InMemoryStore
	svc     *Service
	pollID  uuid.UUID
	options []poll.Option
}

func newFixture(t *testing.T, status poll.Status, minK int) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	polls := poll.NewInMemoryStore()
	ballots := ballot.NewInMemoryStore()
	auditSvc := audit.NewService(audit.NewInMemoryStore(), logger)
	provider := settings.NewStatic(settings.Values{MinK: minK})

	options := []poll.Option{
		{ID: uuid.New(), Label: "yes"},
		{ID: uuid.New(), Label: "no"},
	}
	p := &poll.Poll{
		ID:       uuid.New(),
		Title:    "city budget",
		Status:   status,
		StartsAt: time.Now().Add(-time.Hour),
		EndsAt:   time.Now().Add(time.Hour),
		MinK:     1,
		Options:  options,
	}
	require.NoError(t, polls.Create(context.Background(), p))

	return &fixture{
		polls:   polls,
		ballots: ballots,
		svc:     NewService(polls, ballots, provider, auditSvc, logger),
		pollID:  p.ID,
		options: options,
	}
}

func (f *fixture) cast(t *testing.T, optionIdx int, region, age, gender string) {
	t.Helper()
	require.NoError(t, f.ballots.Insert(context.Background(), &ballot.Ballot{
		ID:        uuid.New(),
		PollID:    f.pollID,
		OptionID:  f.options[optionIdx].ID,
		Region:    region,
		AgeBucket: age,
		Gender:    gender,
	}))
}

func (f *fixture) castN(t *testing.T, n, optionIdx int, region, age, gender string) {
	t.Helper()
	for i := 0; i < n; i++ {
		f.cast(t, optionIdx, region, age, gender)
	}
}

func TestActivePollBelowFloorFullySuppressed(t *testing.T) {
	// Scenario: 5 ballots against a floor of 30.
	f := newFixture(t, poll.StatusActive, 30)
	f.castN(t, 5, 0, "north", "18-24", "f")

	res, err := f.svc.Results(context.Background(), f.pollID)
	require.NoError(t, err)

	assert.True(t, res.Suppressed)
	assert.Nil(t, res.Total)
	assert.Empty(t, res.Options)
	assert.Empty(t, res.Cohorts)
}

func TestServerFloorOverridesLowerPollK(t *testing.T) {
	f := newFixture(t, poll.StatusActive, 30)
	// Poll asks for k=1; the floor still wins.
	f.castN(t, 10, 0, "north", "18-24", "f")

	res, err := f.svc.Results(context.Background(), f.pollID)
	require.NoError(t, err)
	assert.True(t, res.Suppressed)
}

func TestActivePollAboveFloorReleasesTotals(t *testing.T) {
	f := newFixture(t, poll.StatusActive, 5)
	f.castN(t, 8, 0, "north", "18-24", "f")
	f.castN(t, 4, 1, "north", "18-24", "f")

	res, err := f.svc.Results(context.Background(), f.pollID)
	require.NoError(t, err)

	assert.False(t, res.Suppressed)
	require.NotNil(t, res.Total)
	assert.Equal(t, 12, *res.Total)
	require.Len(t, res.Options, 2)
	assert.Equal(t, 8, res.Options[0].Count)
	assert.InDelta(t, 66.66, res.Options[0].Percent, 0.1)
}

func TestSmallCohortSuppressedWithoutCount(t *testing.T) {
	f := newFixture(t, poll.StatusActive, 5)
	f.castN(t, 10, 0, "north", "18-24", "f")
	f.castN(t, 10, 0, "south", "18-24", "f")
	f.castN(t, 3, 0, "east", "18-24", "f")
	f.castN(t, 10, 0, "west", "18-24", "f")

	res, err := f.svc.Results(context.Background(), f.pollID)
	require.NoError(t, err)

	regions := res.Cohorts[ballot.DimensionRegion]
	require.Len(t, regions, 4)

	byName := make(map[string]CohortCount)
	for _, c := range regions {
		byName[c.Cohort] = c
	}

	east := byName["east"]
	assert.True(t, east.Suppressed)
	assert.Nil(t, east.Count, "suppressed cohort exposes no count")
	assert.Nil(t, east.Percent, "suppressed cohort exposes no percentage")

	north := byName["north"]
	require.NotNil(t, north.Count)
	assert.Equal(t, 10, *north.Count)
}

func TestComplementarySuppressionHidesSecondCohort(t *testing.T) {
	f := newFixture(t, poll.StatusActive, 5)
	// One cohort below k. Its count would be recoverable as
	// total - sum(visible), so the smallest visible cohort must go too.
	f.castN(t, 10, 0, "north", "18-24", "f")
	f.castN(t, 7, 0, "south", "18-24", "f")
	f.castN(t, 3, 0, "east", "18-24", "f")

	res, err := f.svc.Results(context.Background(), f.pollID)
	require.NoError(t, err)

	suppressed := 0
	for _, c := range res.Cohorts[ballot.DimensionRegion] {
		if c.Suppressed {
			suppressed++
		}
	}
	assert.Equal(t, 2, suppressed, "east plus the smallest visible cohort")

	for _, c := range res.Cohorts[ballot.DimensionRegion] {
		switch c.Cohort {
		case "east", "south":
			assert.True(t, c.Suppressed, c.Cohort)
		case "north":
			assert.False(t, c.Suppressed)
		}
	}
}

func TestNoComplementarySuppressionWhenTwoAlreadyHidden(t *testing.T) {
	f := newFixture(t, poll.StatusActive, 5)
	f.castN(t, 10, 0, "north", "18-24", "f")
	f.castN(t, 3, 0, "south", "18-24", "f")
	f.castN(t, 2, 0, "east", "18-24", "f")

	res, err := f.svc.Results(context.Background(), f.pollID)
	require.NoError(t, err)

	visible := 0
	for _, c := range res.Cohorts[ballot.DimensionRegion] {
		if !c.Suppressed {
			visible++
		}
	}
	assert.Equal(t, 1, visible, "two suppressed cohorts already mask each other")
}

func TestEndedPollReleasesRawCounts(t *testing.T) {
	f := newFixture(t, poll.StatusEnded, 30)
	f.castN(t, 3, 0, "north", "18-24", "f")
	f.castN(t, 2, 1, "south", "25-34", "m")

	res, err := f.svc.Results(context.Background(), f.pollID)
	require.NoError(t, err)

	assert.False(t, res.Suppressed)
	require.NotNil(t, res.Total)
	assert.Equal(t, 5, *res.Total)

	for _, c := range res.Cohorts[ballot.DimensionRegion] {
		assert.False(t, c.Suppressed)
		assert.NotNil(t, c.Count)
	}
}

func TestActivePollNeverExposesCountBelowK(t *testing.T) {
	f := newFixture(t, poll.StatusActive, 5)
	f.castN(t, 9, 0, "north", "18-24", "f")
	f.castN(t, 6, 0, "south", "25-34", "m")
	f.castN(t, 2, 1, "east", "35-44", "x")

	res, err := f.svc.Results(context.Background(), f.pollID)
	require.NoError(t, err)

	for dim, cohorts := range res.Cohorts {
		for _, c := range cohorts {
			if c.Count != nil {
				assert.GreaterOrEqual(t, *c.Count, 5, "dimension %s cohort %s", dim, c.Cohort)
			}
		}
	}
}

func TestResultsUnknownPoll(t *testing.T) {
	f := newFixture(t, poll.StatusActive, 5)
	_, err := f.svc.Results(context.Background(), uuid.New())
	assert.ErrorIs(t, err, poll.ErrNotFound)
}

func TestEffectiveKTakesMaximum(t *testing.T) {
	p := &poll.Poll{MinK: 50}
	assert.Equal(t, 50, effectiveK(p, 30))
	p.MinK = 10
	assert.Equal(t, 30, effectiveK(p, 30))
}
