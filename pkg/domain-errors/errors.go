// Package domainerrors provides code-carrying domain errors. Services create
// and wrap errors with a Code; the transport layer maps codes to HTTP
// statuses. Stores never use this package directly: they return sentinel
// errors that services translate here. Import as dErrors.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error for transport mapping and branching.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeTooMany      Code = "too_many_requests"
	CodeInternal     Code = "internal"
	CodeUnavailable  Code = "unavailable"

	// CodeInvalidGrant is the coarse OAuth failure bucket: unknown code,
	// expired code, redirect mismatch, PKCE mismatch and revoked tokens all
	// collapse into it so callers cannot distinguish which check failed.
	CodeInvalidGrant Code = "invalid_grant"

	// Device-flow polling codes (RFC 8628 §3.5). These are the only fine
	// grained client-visible codes; the protocol requires them.
	CodeAuthorizationPending Code = "authorization_pending"
	CodeSlowDown             Code = "slow_down"
	CodeExpiredToken         Code = "expired_token"
	CodeAccessDenied         Code = "access_denied"

	CodeInvariantViolation Code = "invariant_violation"
)

// Error is a domain error with a classification code. The message is safe to
// log but not necessarily safe to return to clients; transport decides.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a domain error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// chain for errors.Is/As.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		if err == nil {
			return false
		}
	}
	return false
}

// Is is a convenience alias for HasCode, matching call sites that read
// dErrors.Is(err, dErrors.CodeBadRequest).
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a domain error code to an HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidInput, CodeInvariantViolation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeAccessDenied:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTooMany, CodeSlowDown:
		return http.StatusTooManyRequests
	case CodeInvalidGrant, CodeAuthorizationPending, CodeExpiredToken:
		return http.StatusBadRequest
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
