package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// VoterClaims is what the external identity/session layer asserts about the
// caller. Demographic values arrive pre-bucketed; raw birthdates and
// addresses never reach this service.
type VoterClaims struct {
	Sub       string
	SessionID string
	Region    string
	AgeBucket string
	Gender    string
}

// SessionValidator validates a session token and returns the voter claims.
type SessionValidator interface {
	ValidateToken(tokenString string) (*VoterClaims, error)
}

type contextKeyVoter struct{}

// GetVoter retrieves the authenticated voter claims from the context.
func GetVoter(ctx context.Context) *VoterClaims {
	if v, ok := ctx.Value(contextKeyVoter{}).(*VoterClaims); ok {
		return v
	}
	return nil
}

// WithVoter injects voter claims into a context. Useful for service unit
// tests that don't run the full HTTP middleware chain.
func WithVoter(ctx context.Context, claims *VoterClaims) context.Context {
	return context.WithValue(ctx, contextKeyVoter{}, claims)
}

// RequireVoter enforces a valid Bearer session token and stores the voter
// claims in the request context.
func RequireVoter(validator SessionValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithVoter(ctx, claims)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
