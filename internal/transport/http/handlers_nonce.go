package httptransport

import (
	"net/http"

	"veilvote/internal/platform/middleware"
	"veilvote/internal/ratelimit"
	"veilvote/internal/shield"
	"veilvote/internal/transport/http/shared"
	dErrors "veilvote/pkg/domain-errors"
)

func (h *Handlers) handleIssueNonce(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims := middleware.GetVoter(ctx)
	if claims == nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	if h.limiter != nil {
		res, err := h.limiter.CheckAll(ctx, ratelimit.ActionIssueNonce, map[ratelimit.IdentifierClass]string{
			ratelimit.ClassIP:    shield.GetClientIP(ctx),
			ratelimit.ClassVoter: claims.Sub,
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

	n, err := h.nonces.Issue(ctx)
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "could not issue nonce"))
		return
	}
	shared.WriteJSON(w, http.StatusCreated, n)
}
