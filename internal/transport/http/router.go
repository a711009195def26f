package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"veilvote/internal/analytics"
	"veilvote/internal/ballot"
	"veilvote/internal/nonce"
	"veilvote/internal/platform/metrics"
	"veilvote/internal/platform/middleware"
	"veilvote/internal/poll"
	"veilvote/internal/ratelimit"
	"veilvote/internal/receipt"
	"veilvote/internal/shield"
	"veilvote/internal/transport/http/shared"
	"veilvote/internal/vote"
)

// HealthCheck probes one dependency. A nil map entry is skipped.
type HealthCheck func(ctx context.Context) error

// Handlers bundles the domain services behind the HTTP surface.
type Handlers struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	validator middleware.SessionValidator

	nonces    *nonce.Service
	votes     *vote.Service
	analytics *analytics.Service
	polls     poll.Store
	ballots   ballot.Store
	signer    *receipt.Signer
	limiter   *ratelimit.Service
	shield    *shield.Engine

	health map[string]HealthCheck
}

// Deps are the constructor inputs for Handlers. Shield and limiter are
// optional; everything else is required.
type Deps struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Validator middleware.SessionValidator

	Nonces    *nonce.Service
	Votes     *vote.Service
	Analytics *analytics.Service
	Polls     poll.Store
	Ballots   ballot.Store
	Signer    *receipt.Signer
	Limiter   *ratelimit.Service
	Shield    *shield.Engine

	Health map[string]HealthCheck
}

func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		validator: deps.Validator,
		nonces:    deps.Nonces,
		votes:     deps.Votes,
		analytics: deps.Analytics,
		polls:     deps.Polls,
		ballots:   deps.Ballots,
		signer:    deps.Signer,
		limiter:   deps.Limiter,
		shield:    deps.Shield,
		health:    deps.Health,
	}
}

// NewRouter assembles the full HTTP surface. Ledger and receipt endpoints
// are public by design: third parties verify roots, proofs, and receipts
// without a session.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)
	if h.shield != nil {
		r.Use(h.shield.Middleware)
	}

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", h.handleHealthz)

	r.Get("/v1/polls/{pollID}/root", h.instrument("ledger_root", h.handleRoot))
	r.Get("/v1/polls/{pollID}/proofs/{leafHash}", h.instrument("ledger_proof", h.handleProof))
	r.Get("/v1/receipts/public-key", h.instrument("receipt_key", h.handleReceiptPublicKey))
	r.Post("/v1/receipts/verify", h.instrument("receipt_verify", h.handleVerifyReceipt))

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireVoter(h.validator, h.logger))
		r.Use(middleware.Device)
		r.Post("/v1/nonce", h.instrument("nonce_issue", h.handleIssueNonce))
		r.Post("/v1/votes", h.instrument("vote_submit", h.handleSubmitVote))
		r.Get("/v1/polls/{pollID}/results", h.instrument("poll_results", h.handleResults))
	})

	return r
}

func (h *Handlers) instrument(route string, fn http.HandlerFunc) http.HandlerFunc {
	if h.metrics == nil {
		return fn
	}
	wrapped := h.metrics.Latency(route, fn)
	return wrapped.ServeHTTP
}

func (h *Handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	for name, check := range h.health {
		if check == nil {
			continue
		}
		if err := check(ctx); err != nil {
			h.logger.ErrorContext(ctx, "health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()))
			shared.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"failed": name,
			})
			return
		}
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
