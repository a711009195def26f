// Package shared holds the JSON response helpers every handler package
// uses, so error envelopes stay uniform across the API surface.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "veilvote/pkg/domain-errors"
)

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to its HTTP status and a JSON envelope.
// Only the code and the caller-safe message escape; wrapped causes stay in
// the logs and the audit chain.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	message := "internal error"

	var de *dErrors.Error
	if errors.As(err, &de) {
		message = de.Message
	}

	WriteJSON(w, dErrors.ToHTTPStatus(code), map[string]string{
		"error":   string(code),
		"message": message,
	})
}
