// Package vote implements the submission protocol: nine fail-fast gates,
// one atomic write transaction, and best-effort receipt signing. Gates run
// before any state changes; every external call (attestation) completes
// before the transaction opens so no database lock is held across network
// I/O.
package vote

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

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

// Request is one vote submission. Voter identity is never part of it; the
// authenticated claims come from the session layer as trusted input.
type Request struct {
	PollID              uuid.UUID
	OptionID            uuid.UUID
	Nonce               string
	SubmissionSignature string
	AttestationToken    string
}

// Voter is the authenticated identity plus bucketed demographic claims.
type Voter struct {
	Sub          string
	Demographics poll.Demographics
	DeviceHash   string
	ClientIP     string
}

// Response is returned to the caller on acceptance.
type Response struct {
	VoteID     uuid.UUID         `json:"voteId"`
	MerkleRoot string            `json:"merkleRoot"`
	Receipt    receipt.Result    `json:"receipt"`
	Incentive  *incentive.Credit `json:"incentive,omitempty"`
}

// Stores groups the persistence interfaces the protocol writes through.
// All of them join the transaction the TxRunner opens.
type Stores struct {
	Polls         poll.Store
	Ballots       ballot.Store
	Nullifiers    ballot.NullifierStore
	Participation ballot.ParticipationStore
	Devices       ballot.DeviceLinkStore
	Commitments   ballot.CommitmentStore
	Incentives    incentive.Store
}

// Service runs the submission protocol.
type Service struct {
	stores   Stores
	nonces   *nonce.Service
	hasher   nullifier.Hasher
	signer   *receipt.Signer
	attestor attestation.Verifier
	settings settings.Provider
	audit    *audit.Service
	shield   *shield.Engine
	runner   TxRunner
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewService(
	stores Stores,
	nonces *nonce.Service,
	hasher nullifier.Hasher,
	signer *receipt.Signer,
	attestor attestation.Verifier,
	provider settings.Provider,
	auditSvc *audit.Service,
	shieldEngine *shield.Engine,
	runner TxRunner,
	logger *slog.Logger,
) *Service {
	return &Service{
		stores:   stores,
		nonces:   nonces,
		hasher:   hasher,
		signer:   signer,
		attestor: attestor,
		settings: provider,
		audit:    auditSvc,
		shield:   shieldEngine,
		runner:   runner,
		logger:   logger,
		tracer:   otel.Tracer("veilvote/vote"),
		now:      time.Now,
	}
}

// Submit runs the full protocol for one ballot.
func (s *Service) Submit(ctx context.Context, voter Voter, req Request) (*Response, error) {
	ctx, span := s.tracer.Start(ctx, "vote.Submit",
		trace.WithAttributes(attribute.String("poll.id", req.PollID.String())))
	defer span.End()

	p, nullifierHash, err := s.runGates(ctx, voter, req)
	if err != nil {
		s.recordRejection(ctx, voter, req, err)
		return nil, err
	}

	resp, err := s.commit(ctx, voter, req, p, nullifierHash)
	if err != nil {
		s.recordRejection(ctx, voter, req, err)
		return nil, err
	}

	submissionsTotal.WithLabelValues("accepted").Inc()
	s.logger.InfoContext(ctx, "vote accepted",
		slog.String("poll_id", req.PollID.String()),
		slog.String("vote_id", resp.VoteID.String()))
	return resp, nil
}

// runGates is steps 1-9. Each rejection carries its own code and happens
// before any write.
func (s *Service) runGates(ctx context.Context, voter Voter, req Request) (*poll.Poll, string, error) {
	ctx, span := s.tracer.Start(ctx, "vote.gates")
	defer span.End()

	// 1. Replay: consume the nonce before anything else so a replayed
	// request burns nothing but its own token.
	ok, err := s.nonces.Consume(ctx, req.Nonce)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "nonce check failed")
	}
	if !ok {
		return nil, "", dErrors.New(dErrors.CodeReplay, "nonce is invalid, expired, or already used")
	}

	p, err := s.stores.Polls.FindByID(ctx, req.PollID)
	if err != nil {
		return nil, "", err
	}

	// 2. Lifecycle.
	if !p.IsActive() {
		return nil, "", dErrors.New(dErrors.CodePollNotActive, "poll is not accepting ballots")
	}

	// 3. Window.
	if !p.InWindow(s.now()) {
		return nil, "", dErrors.New(dErrors.CodeTimingWindow, "outside the poll's voting window")
	}

	// 4. Option.
	if !p.HasOption(req.OptionID) {
		return nil, "", dErrors.New(dErrors.CodeInvalidOption, "option does not belong to this poll")
	}

	// 5. Eligibility.
	if err := p.CheckEligibility(voter.Demographics); err != nil {
		return nil, "", err
	}

	// 6. Attestation. External call, completed before the transaction.
	if p.RequireAttestation {
		if err := s.checkAttestation(ctx, p, voter, req); err != nil {
			return nil, "", err
		}
	}

	// 7. Device cap: distinct voter identities per device per poll.
	if p.MaxVotersPerDevice > 0 && voter.DeviceHash != "" {
		n, err := s.stores.Devices.CountVoters(ctx, req.PollID, voter.DeviceHash)
		if err != nil {
			return nil, "", err
		}
		linked, err := s.stores.Participation.Exists(ctx, req.PollID, voter.Sub)
		if err != nil {
			return nil, "", err
		}
		if !linked && n >= p.MaxVotersPerDevice {
			return nil, "", dErrors.New(dErrors.CodeDeviceRateLimit, "too many voters on this device")
		}
	}

	// 8. Nullifier, recomputed server-side from the authenticated subject.
	nullifierHash, err := s.hasher.Derive(voter.Sub, req.PollID.String())
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "nullifier derivation failed")
	}

	// 9. Identity-layer double-vote guard. The nullifier unique constraint
	// in step 10 is the independent storage-layer guard.
	voted, err := s.stores.Participation.Exists(ctx, req.PollID, voter.Sub)
	if err != nil {
		return nil, "", err
	}
	if voted {
		return nil, "", dErrors.New(dErrors.CodeDoubleVote, "a ballot was already cast for this poll")
	}

	return p, nullifierHash, nil
}

func (s *Service) checkAttestation(ctx context.Context, p *poll.Poll, voter Voter, req Request) error {
	if s.attestor == nil {
		return dErrors.New(dErrors.CodeAttestation, "attestation required but no verifier configured")
	}
	if req.AttestationToken == "" {
		return dErrors.New(dErrors.CodeAttestation, "attestation token is required for this poll")
	}

	verdict, err := s.attestor.Verify(ctx, req.AttestationToken, voter.DeviceHash)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeAttestation, "attestation verification failed")
	}
	if !verdict.Passed {
		return dErrors.Newf(dErrors.CodeAttestation, "attestation rejected: %s", verdict.Reason)
	}

	minTier := p.MinAttestationTier
	if minTier == attestation.TierNone {
		values, err := s.settings.Current(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "load settings")
		}
		minTier = values.DefaultAttestationTier
	}
	if verdict.Tier < minTier {
		return dErrors.Newf(dErrors.CodeAttestation,
			"attestation tier %s below required %s", verdict.Tier, minTier)
	}
	return nil
}

// commit is step 10 (the atomic transaction) plus step 11 (best-effort
// signing). The per-poll lock is held across the read-leaf-set-then-write-
// root sequence; without it two near-simultaneous ballots can commit a root
// that omits one leaf.
func (s *Service) commit(ctx context.Context, voter Voter, req Request, p *poll.Poll, nullifierHash string) (*Response, error) {
	ctx, span := s.tracer.Start(ctx, "vote.tx")
	defer span.End()

	voteID := uuid.New()
	bucket := ballot.BucketTime(s.now())
	leaf := merkle.LeafHash(req.PollID.String(), req.OptionID.String(), nullifierHash, bucket)

	var root string
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.stores.Polls.LockByID(ctx, req.PollID); err != nil {
			return err
		}

		if voter.DeviceHash != "" {
			if err := s.stores.Devices.Link(ctx, req.PollID, voter.DeviceHash, voter.Sub); err != nil {
				return err
			}
		}

		if err := s.stores.Participation.Insert(ctx, req.PollID, voter.Sub, bucket); err != nil {
			return mapDuplicate(err)
		}
		if err := s.stores.Nullifiers.Insert(ctx, req.PollID, nullifierHash); err != nil {
			return mapDuplicate(err)
		}

		if err := s.stores.Ballots.Insert(ctx, &ballot.Ballot{
			ID:         voteID,
			PollID:     req.PollID,
			OptionID:   req.OptionID,
			Region:     voter.Demographics.Region,
			AgeBucket:  voter.Demographics.AgeBucket,
			Gender:     voter.Demographics.Gender,
			CastBucket: bucket,
			LeafHash:   leaf,
		}); err != nil {
			return err
		}

		rebuildStart := time.Now()
		leaves, err := s.stores.Ballots.ListLeafHashes(ctx, req.PollID)
		if err != nil {
			return err
		}
		root = merkle.BuildRoot(leaves)
		merkleRebuildSeconds.Observe(time.Since(rebuildStart).Seconds())

		if err := s.stores.Polls.UpdateRoot(ctx, req.PollID, root); err != nil {
			return err
		}

		commitment := ballot.Commitment(req.SubmissionSignature, req.Nonce)
		if err := s.stores.Commitments.Insert(ctx, voteID, commitment); err != nil {
			return err
		}

		// The audit row rides the transaction: a rollback discards it
		// along with everything else.
		if err := s.audit.Emit(ctx, audit.EventVoteAccepted, req.PollID.String(), map[string]any{
			"voteId": voteID.String(),
			"leaf":   leaf,
			"root":   root,
		}); err != nil {
			return err
		}

		if p.IncentivePoints > 0 {
			if err := s.stores.Incentives.Credit(ctx, &incentive.Entry{
				ID:       uuid.New(),
				PollID:   req.PollID,
				VoterSub: voter.Sub,
				Points:   p.IncentivePoints,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp := &Response{
		VoteID:     voteID,
		MerkleRoot: root,
		Receipt:    s.sign(ctx, voteID, req.PollID, leaf, root),
	}

	if p.IncentivePoints > 0 {
		balance, err := s.stores.Incentives.BalanceByVoter(ctx, voter.Sub)
		if err == nil {
			resp.Incentive = &incentive.Credit{Points: p.IncentivePoints, Balance: balance}
		}
	}
	return resp, nil
}

// sign is step 11. Signing failure never fails the vote; it degrades to an
// explicitly tagged unsigned result.
func (s *Service) sign(ctx context.Context, voteID, pollID uuid.UUID, leaf, root string) receipt.Result {
	if s.signer == nil {
		unsignedReceiptsTotal.Inc()
		return receipt.UnsignedResult("no signer configured")
	}
	r, err := s.signer.Sign(receipt.Payload{
		VoteID:     voteID.String(),
		PollID:     pollID.String(),
		LeafHash:   leaf,
		MerkleRoot: root,
		Timestamp:  s.now().UTC(),
	})
	if err != nil {
		unsignedReceiptsTotal.Inc()
		s.logger.ErrorContext(ctx, "receipt signing failed", slog.String("error", err.Error()))
		return receipt.UnsignedResult("signing failed")
	}
	return receipt.SignedResult(r)
}

// mapDuplicate converts the storage-layer uniqueness violation into the
// double-vote rejection the caller sees.
func mapDuplicate(err error) error {
	if errors.Is(err, ballot.ErrDuplicate) {
		return dErrors.New(dErrors.CodeDoubleVote, "a ballot was already cast for this poll")
	}
	return err
}

// recordRejection writes security-relevant rejections to the audit chain
// and feeds the risk engine, independent of the generic message returned to
// the caller.
func (s *Service) recordRejection(ctx context.Context, voter Voter, req Request, err error) {
	code := dErrors.CodeOf(err)
	submissionsTotal.WithLabelValues(string(code)).Inc()

	var event audit.EventType
	var weight int
	switch code {
	case dErrors.CodeReplay:
		event, weight = audit.EventReplayRejected, shield.WeightReplayAttempt
	case dErrors.CodeDoubleVote:
		event, weight = audit.EventDoubleVoteRejected, shield.WeightDoubleVoteAttempt
	case dErrors.CodeEligibility:
		event, weight = audit.EventEligibilityRejected, shield.WeightEligibilityFail
	case dErrors.CodeAttestation:
		event, weight = audit.EventAttestationRejected, shield.WeightAttestationFail
	case dErrors.CodeDeviceRateLimit:
		event, weight = audit.EventDeviceRateLimited, shield.WeightRateLimited
	default:
		return
	}

	s.audit.TryEmit(ctx, event, req.PollID.String(), map[string]any{
		"code":   string(code),
		"device": voter.DeviceHash,
	})
	if s.shield != nil {
		s.shield.ReportRisk(ctx, voter.ClientIP, weight)
	}
}
