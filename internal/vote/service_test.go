package vote

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilvote/internal/attestation"
	"veilvote/internal/audit"
	"veilvote/internal/ballot"
	"veilvote/internal/incentive"
	"veilvote/internal/merkle"
	"veilvote/internal/nonce"
	"veilvote/internal/nullifier"
	"veilvote/internal/poll"
	"veilvote/internal/receipt"
	"veilvote/internal/settings"
	"veilvote/internal/shield"
	dErrors "veilvote/pkg/domain-errors"
)

type fixture struct {
	svc        *Service
	polls      *poll.InMemoryStore
	ballots    *ballot.InMemoryStore
	auditStore *audit.InMemoryStore
	nonces     *nonce.Service
	shieldMem  *shield.InMemoryStore
	pollID     uuid.UUID
	optionID   uuid.UUID
	attestor   *fakeAttestor
}

type fakeAttestor struct {
	verdict attestation.Verdict
	err     error
	calls   int
}

func (f *fakeAttestor) Name() string { return "fake" }

func (f *fakeAttestor) Verify(ctx context.Context, token, deviceHash string) (attestation.Verdict, error) {
	f.calls++
	return f.verdict, f.err
}

func newFixture(t *testing.T, mutate func(p *poll.Poll)) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	seed := make([]byte, 32)
	_, err := rand.Read(seed)
	require.NoError(t, err)
	signer, err := receipt.NewSigner(base64.StdEncoding.EncodeToString(seed))
	require.NoError(t, err)

	hasher, err := nullifier.New("hmac-sha256", []byte("test-secret"))
	require.NoError(t, err)

	polls := poll.NewInMemoryStore()
	ballots := ballot.NewInMemoryStore()
	auditStore := audit.NewInMemoryStore()
	shieldMem := shield.NewInMemoryStore()
	nonces := nonce.NewService(nonce.NewInMemoryStore(), time.Minute)

	attestor := &fakeAttestor{verdict: attestation.Verdict{Passed: true, Tier: attestation.TierHardware}}

	p := &poll.Poll{
		ID:       uuid.New(),
		Title:    "transit levy",
		Status:   poll.StatusActive,
		StartsAt: time.Now().Add(-time.Hour),
		EndsAt:   time.Now().Add(time.Hour),
		MinK:     1,
		Options: []poll.Option{
			{ID: uuid.New(), Label: "yes"},
			{ID: uuid.New(), Label: "no"},
		},
	}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, polls.Create(context.Background(), p))

	svc := NewService(
		Stores{
			Polls:         polls,
			Ballots:       ballots,
			Nullifiers:    ballots.Nullifiers(),
			Participation: ballots.Participation(),
			Devices:       ballots.Devices(),
			Commitments:   ballots.Commitments(),
			Incentives:    incentive.NewInMemoryStore(),
		},
		nonces,
		hasher,
		signer,
		attestor,
		settings.NewStatic(settings.Defaults()),
		audit.NewService(auditStore, logger),
		shield.NewEngine(shieldMem, 50, logger),
		NewMemoryTxRunner(),
		logger,
	)

	return &fixture{
		svc:        svc,
		polls:      polls,
		ballots:    ballots,
		auditStore: auditStore,
		nonces:     nonces,
		shieldMem:  shieldMem,
		pollID:     p.ID,
		optionID:   p.Options[0].ID,
		attestor:   attestor,
	}
}

func (f *fixture) freshNonce(t *testing.T) string {
	t.Helper()
	n, err := f.nonces.Issue(context.Background())
	require.NoError(t, err)
	return n.Token
}

func (f *fixture) request(t *testing.T) Request {
	t.Helper()
	return Request{
		PollID:              f.pollID,
		OptionID:            f.optionID,
		Nonce:               f.freshNonce(t),
		SubmissionSignature: "sig-bytes",
	}
}

func voter(sub string) Voter {
	return Voter{
		Sub:          sub,
		Demographics: poll.Demographics{Region: "north", AgeBucket: "25-34", Gender: "f"},
		DeviceHash:   "device-" + sub,
		ClientIP:     "198.51.100.10",
	}
}

func TestSubmitAcceptsValidBallot(t *testing.T) {
	// Scenario: active poll, valid option, fresh nonce, eligible voter.
	f := newFixture(t, nil)

	resp, err := f.svc.Submit(context.Background(), voter("v1"), f.request(t))
	require.NoError(t, err)

	assert.Len(t, resp.MerkleRoot, 64)
	require.True(t, resp.Receipt.Signed)
	assert.Equal(t, receipt.Algorithm, resp.Receipt.Receipt.Algorithm)
	assert.Equal(t, resp.VoteID.String(), resp.Receipt.Receipt.Payload.VoteID)
	assert.Equal(t, resp.MerkleRoot, resp.Receipt.Receipt.Payload.MerkleRoot)

	// The persisted root commits to exactly the stored leaf set.
	leaves, err := f.ballots.ListLeafHashes(context.Background(), f.pollID)
	require.NoError(t, err)
	assert.Equal(t, merkle.BuildRoot(leaves), resp.MerkleRoot)

	p, err := f.polls.FindByID(context.Background(), f.pollID)
	require.NoError(t, err)
	assert.Equal(t, resp.MerkleRoot, p.CurrentRoot)
}

func TestSubmitSecondBallotRejectedAsDoubleVote(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, voter("v1"), f.request(t))
	require.NoError(t, err)

	// Fresh nonce, same identity.
	_, err = f.svc.Submit(ctx, voter("v1"), f.request(t))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDoubleVote))

	events, err := f.auditStore.List(ctx, 0)
	require.NoError(t, err)
	var rejected bool
	for _, e := range events {
		if e.Type == audit.EventDoubleVoteRejected {
			rejected = true
		}
	}
	assert.True(t, rejected, "double-vote rejection reaches the audit chain")
}

func TestSubmitReusedNonceRejectedBeforeOtherGates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := f.request(t)
	_, err := f.svc.Submit(ctx, voter("v1"), req)
	require.NoError(t, err)

	// Same nonce again, with an option that doesn't exist: the replay
	// rejection must win because the nonce gate runs first.
	req.OptionID = uuid.New()
	_, err = f.svc.Submit(ctx, voter("v2"), req)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeReplay))
}

func TestSubmitGateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(p *poll.Poll)
		tweak  func(f *fixture, v *Voter, req *Request)
		code   dErrors.Code
	}{
		{
			name:   "poll not active",
			mutate: func(p *poll.Poll) { p.Status = poll.StatusEnded },
			code:   dErrors.CodePollNotActive,
		},
		{
			name:   "outside window",
			mutate: func(p *poll.Poll) { p.EndsAt = time.Now().Add(-time.Minute) },
			code:   dErrors.CodeTimingWindow,
		},
		{
			name:  "unknown option",
			tweak: func(f *fixture, v *Voter, req *Request) { req.OptionID = uuid.New() },
			code:  dErrors.CodeInvalidOption,
		},
		{
			name:   "ineligible region",
			mutate: func(p *poll.Poll) { p.Eligibility.Regions = []string{"south"} },
			code:   dErrors.CodeEligibility,
		},
		{
			name:   "missing required claim fails closed",
			mutate: func(p *poll.Poll) { p.Eligibility.Regions = []string{"north"} },
			tweak: func(f *fixture, v *Voter, req *Request) {
				v.Demographics.Region = ""
			},
			code: dErrors.CodeEligibility,
		},
		{
			name:   "attestation token missing",
			mutate: func(p *poll.Poll) { p.RequireAttestation = true },
			code:   dErrors.CodeAttestation,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.mutate)
			v := voter("v1")
			req := f.request(t)
			if tc.tweak != nil {
				tc.tweak(f, &v, &req)
			}

			_, err := f.svc.Submit(context.Background(), v, req)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, tc.code), "got %v", err)

			n, cerr := f.ballots.CountByPoll(context.Background(), f.pollID)
			require.NoError(t, cerr)
			assert.Zero(t, n, "rejection must not write a ballot")
		})
	}
}

func TestSubmitAttestationTierBelowMinimum(t *testing.T) {
	f := newFixture(t, func(p *poll.Poll) {
		p.RequireAttestation = true
		p.MinAttestationTier = attestation.TierHardware
	})
	f.attestor.verdict = attestation.Verdict{Passed: true, Tier: attestation.TierBasic}

	req := f.request(t)
	req.AttestationToken = "token"
	_, err := f.svc.Submit(context.Background(), voter("v1"), req)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAttestation))
	assert.Equal(t, 1, f.attestor.calls)
}

func TestSubmitAttestationPasses(t *testing.T) {
	f := newFixture(t, func(p *poll.Poll) {
		p.RequireAttestation = true
		p.MinAttestationTier = attestation.TierDevice
	})

	req := f.request(t)
	req.AttestationToken = "token"
	_, err := f.svc.Submit(context.Background(), voter("v1"), req)
	assert.NoError(t, err)
}

func TestSubmitDeviceVoterCap(t *testing.T) {
	f := newFixture(t, func(p *poll.Poll) { p.MaxVotersPerDevice = 2 })
	ctx := context.Background()
	device := "shared-device"

	for i, sub := range []string{"v1", "v2"} {
		v := voter(sub)
		v.DeviceHash = device
		_, err := f.svc.Submit(ctx, v, f.request(t))
		require.NoError(t, err, "voter %d", i)
	}

	v := voter("v3")
	v.DeviceHash = device
	_, err := f.svc.Submit(ctx, v, f.request(t))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDeviceRateLimit))
}

func TestSubmitWithoutSignerReturnsUnsignedTaggedResult(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.signer = nil

	resp, err := f.svc.Submit(context.Background(), voter("v1"), f.request(t))
	require.NoError(t, err, "signing failure must not fail the vote")

	assert.False(t, resp.Receipt.Signed)
	assert.Nil(t, resp.Receipt.Receipt)
	assert.NotEmpty(t, resp.Receipt.Reason)
	assert.Len(t, resp.MerkleRoot, 64)
}

func TestSubmitCreditsIncentive(t *testing.T) {
	f := newFixture(t, func(p *poll.Poll) { p.IncentivePoints = 10 })

	resp, err := f.svc.Submit(context.Background(), voter("v1"), f.request(t))
	require.NoError(t, err)

	require.NotNil(t, resp.Incentive)
	assert.Equal(t, 10, resp.Incentive.Points)
	assert.Equal(t, 10, resp.Incentive.Balance)
}

func TestSubmitRootChainsAcrossBallots(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	resp1, err := f.svc.Submit(ctx, voter("v1"), f.request(t))
	require.NoError(t, err)

	resp2, err := f.svc.Submit(ctx, voter("v2"), f.request(t))
	require.NoError(t, err)

	assert.NotEqual(t, resp1.MerkleRoot, resp2.MerkleRoot,
		"each accepted ballot changes the committed root")
}

func TestSubmitConcurrentSameVoterSingleWinner(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		req := f.request(t)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Submit(ctx, voter("v1"), req)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	accepted := 0
	for err := range results {
		if err == nil {
			accepted++
		} else {
			assert.True(t, dErrors.HasCode(err, dErrors.CodeDoubleVote), "got %v", err)
		}
	}
	assert.Equal(t, 1, accepted)

	n, err := f.ballots.CountByPoll(ctx, f.pollID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSubmitReplayFeedsRiskEngine(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := f.request(t)
	_, err := f.svc.Submit(ctx, voter("v1"), req)
	require.NoError(t, err)

	v := voter("v2")
	_, err = f.svc.Submit(ctx, v, req)
	require.Error(t, err)

	score, err := f.shieldMem.RiskScore(ctx, v.ClientIP)
	require.NoError(t, err)
	assert.Equal(t, shield.WeightReplayAttempt, score)
}

func TestSubmitBallotCarriesNoIdentity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	v := voter("v1")
	_, err := f.svc.Submit(ctx, v, f.request(t))
	require.NoError(t, err)

	leaves, err := f.ballots.ListLeafHashes(ctx, f.pollID)
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.NotContains(t, leaves[0], v.Sub)
}
