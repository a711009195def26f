// Package httptransport is the thin HTTP layer over the domain services.
// Handlers decode, delegate, and encode; business rules live in the
// services they call.
package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"veilvote/internal/platform/middleware"
	"veilvote/internal/poll"
	"veilvote/internal/ratelimit"
	"veilvote/internal/shield"
	"veilvote/internal/transport/http/shared"
	"veilvote/internal/vote"
	dErrors "veilvote/pkg/domain-errors"
)

// demographics carries the coarse cohort buckets from the session claims
// into the ballot. Values are already bucketed at registration time.
func demographics(claims *middleware.VoterClaims) poll.Demographics {
	return poll.Demographics{
		Region:    claims.Region,
		AgeBucket: claims.AgeBucket,
		Gender:    claims.Gender,
	}
}

type submitVoteRequest struct {
	PollID              string `json:"pollId"`
	OptionID            string `json:"optionId"`
	Nonce               string `json:"nonce"`
	SubmissionSignature string `json:"submissionSignature"`
	AttestationToken    string `json:"attestationToken,omitempty"`
}

func (h *Handlers) handleSubmitVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims := middleware.GetVoter(ctx)
	if claims == nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	var req submitVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	pollID, err := uuid.Parse(req.PollID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "pollId must be a UUID"))
		return
	}
	optionID, err := uuid.Parse(req.OptionID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "optionId must be a UUID"))
		return
	}
	if req.Nonce == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "nonce is required"))
		return
	}
	if req.SubmissionSignature == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "submissionSignature is required"))
		return
	}

	deviceHash := middleware.GetDeviceHash(ctx)
	clientIP := shield.GetClientIP(ctx)

	if h.limiter != nil {
		res, err := h.limiter.CheckAll(ctx, ratelimit.ActionSubmitVote, map[ratelimit.IdentifierClass]string{
			ratelimit.ClassIP:     clientIP,
			ratelimit.ClassDevice: deviceHash,
			ratelimit.ClassVoter:  claims.Sub,
		})
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		if !res.Allowed {
			shared.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests"))
			return
		}
	}

	resp, err := h.votes.Submit(ctx, vote.Voter{
		Sub:          claims.Sub,
		Demographics: demographics(claims),
		DeviceHash:   deviceHash,
		ClientIP:     clientIP,
	}, vote.Request{
		PollID:              pollID,
		OptionID:            optionID,
		Nonce:               req.Nonce,
		SubmissionSignature: req.SubmissionSignature,
		AttestationToken:    req.AttestationToken,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "vote rejected",
			slog.String("request_id", middleware.GetRequestID(ctx)),
			slog.String("code", string(dErrors.CodeOf(err))),
		)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, resp)
}
