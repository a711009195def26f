// Package domainerrors provides code-classified errors shared by all
// domain packages. Transport layers map codes to HTTP statuses; domain
// logic branches on codes instead of string matching.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the class of a domain error.
type Code string

const (
	// Generic codes.
	CodeInvalidInput Code = "invalid_input"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeTimeout      Code = "timeout"
	CodeInternal     Code = "internal"

	// Vote submission gate codes. Each gate in the submission protocol
	// rejects with its own code so callers and the audit trail can tell
	// rejection classes apart.
	CodeReplay          Code = "replay"
	CodePollNotActive   Code = "poll_not_active"
	CodeTimingWindow    Code = "timing_window"
	CodeInvalidOption   Code = "invalid_option"
	CodeEligibility     Code = "not_eligible"
	CodeAttestation     Code = "attestation_failed"
	CodeDeviceRateLimit Code = "device_rate_limited"
	CodeDoubleVote      Code = "double_vote"
	CodeTxConflict      Code = "transaction_conflict"

	// Analytics codes.
	CodeRateLimited Code = "rate_limited"
)

// Error carries a code, a caller-safe message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates an underlying error with a code and message. Returns nil
// if err is nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether err (or anything it wraps) carries the code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to the HTTP status the transport layer should
// return. Security-relevant rejections deliberately share generic statuses;
// forensic detail lives in the audit log, not the response.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeInvalidOption:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeEligibility, CodeAttestation:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeDoubleVote, CodeReplay, CodeTxConflict:
		return http.StatusConflict
	case CodePollNotActive, CodeTimingWindow:
		return http.StatusUnprocessableEntity
	case CodeDeviceRateLimit, CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
