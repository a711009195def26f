// Package shield scores source addresses by accumulated risk and blocks
// them once the score crosses a configured threshold. Risk decays by key
// expiry rather than by decrementing, so a quiet hour clears the slate.
package shield

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	domainerrors "veilvote/pkg/domain-errors"
)

// Risk weights per signal. Rejected security gates feed these back so a
// probing client escalates itself into a block.
const (
	WeightReplayAttempt     = 10
	WeightDoubleVoteAttempt = 15
	WeightEligibilityFail   = 5
	WeightAttestationFail   = 8
	WeightRateLimited       = 3
)

const (
	riskTTL  = time.Hour
	blockTTL = 24 * time.Hour
)

// Store holds per-address risk scores and block flags.
type Store interface {
	IncrementRisk(ctx context.Context, addr string, weight int, ttl time.Duration) (int, error)
	Block(ctx context.Context, addr string, ttl time.Duration) error
	IsBlocked(ctx context.Context, addr string) (bool, error)
	RiskScore(ctx context.Context, addr string) (int, error)
}

// Engine applies risk signals and enforces blocks.
type Engine struct {
	store     Store
	threshold int
	logger    *slog.Logger
}

func NewEngine(store Store, threshold int, logger *slog.Logger) *Engine {
	if threshold <= 0 {
		threshold = 50
	}
	return &Engine{store: store, threshold: threshold, logger: logger}
}

// ReportRisk adds weight to the address and blocks it when the running
// score crosses the threshold. Reporting never fails the caller's request;
// store errors are logged and swallowed.
func (e *Engine) ReportRisk(ctx context.Context, addr string, weight int) {
	if addr == "" {
		return
	}
	score, err := e.store.IncrementRisk(ctx, addr, weight, riskTTL)
	if err != nil {
		e.logger.ErrorContext(ctx, "risk increment failed", slog.String("error", err.Error()))
		return
	}
	if score >= e.threshold {
		if err := e.store.Block(ctx, addr, blockTTL); err != nil {
			e.logger.ErrorContext(ctx, "risk block failed", slog.String("error", err.Error()))
			return
		}
		e.logger.WarnContext(ctx, "address blocked by risk engine",
			slog.String("addr", addr), slog.Int("score", score))
	}
}

// Check returns an error when the address is blocked. Store failures fail
// open: a degraded risk backend must not take the voting surface down.
func (e *Engine) Check(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	blocked, err := e.store.IsBlocked(ctx, addr)
	if err != nil {
		e.logger.ErrorContext(ctx, "block lookup failed", slog.String("error", err.Error()))
		return nil
	}
	if blocked {
		return domainerrors.New(domainerrors.CodeForbidden, "source address is blocked")
	}
	return nil
}

// Middleware rejects requests from blocked addresses before they reach
// the handlers.
func (e *Engine) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := ClientIP(r)
		if err := e.Check(r.Context(), addr); err != nil {
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), addr)))
	})
}

// ClientIP extracts the originating address, preferring the first
// X-Forwarded-For hop set by the edge proxy.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type clientIPKey struct{}

func WithClientIP(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, addr)
}

func GetClientIP(ctx context.Context) string {
	addr, _ := ctx.Value(clientIPKey{}).(string)
	return addr
}
