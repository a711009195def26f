package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

type contextKeyDeviceHash struct{}

// GetDeviceHash retrieves the device fingerprint hash from the context.
// Empty string means the caller sent no device descriptor.
func GetDeviceHash(ctx context.Context) string {
	if h, ok := ctx.Value(contextKeyDeviceHash{}).(string); ok {
		return h
	}
	return ""
}

// WithDeviceHash injects a device hash into a context. Useful for service
// unit tests that don't run the full HTTP middleware chain.
func WithDeviceHash(ctx context.Context, hash string) context.Context {
	return context.WithValue(ctx, contextKeyDeviceHash{}, hash)
}

// Device hashes the caller's device descriptor header before anything else
// sees it. Only the hash is ever stored or logged; the raw descriptor stays
// at the edge.
func Device(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		descriptor := r.Header.Get("X-Device-Descriptor")
		if descriptor == "" {
			next.ServeHTTP(w, r)
			return
		}
		sum := sha256.Sum256([]byte(descriptor))
		ctx := WithDeviceHash(r.Context(), hex.EncodeToString(sum[:]))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
