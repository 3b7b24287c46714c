// Package errs classifies errors so handlers can map them to transport
// codes and the edge can decide whether a failure is retryable.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the error classification.
type Kind int

const (
	// Internal is the zero value: unexpected failures.
	Internal Kind = iota
	// Unauthenticated means the credential is missing or invalid.
	Unauthenticated
	// PermissionDenied means the caller is authenticated but the role is insufficient.
	PermissionDenied
	// NotFound means the referenced event/vehicle/checkpoint does not exist.
	NotFound
	// InvalidInput means a schema violation, bad coordinates, or an illegal transition.
	InvalidInput
	// RateLimited means the caller exceeded its quota.
	RateLimited
	// TransientUpstream means a network/timeout/5xx failure worth retrying with backoff.
	TransientUpstream
	// Conflict means a duplicate insert; the idempotency layer swallows these.
	Conflict
	// Corruption means persistent state is unreadable and was recovered around.
	Corruption
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case PermissionDenied:
		return "permission_denied"
	case NotFound:
		return "not_found"
	case InvalidInput:
		return "invalid_input"
	case RateLimited:
		return "rate_limited"
	case TransientUpstream:
		return "transient_upstream"
	case Conflict:
		return "conflict"
	case Corruption:
		return "corruption"
	default:
		return "internal"
	}
}

// Error carries a kind plus a human-readable message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf returns a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. A nil err returns nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from anywhere in the chain; unclassified
// errors report Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// HTTPStatus maps a kind to the status code the handler boundary returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Unauthenticated:
		return http.StatusUnauthorized
	case PermissionDenied:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case InvalidInput:
		return http.StatusBadRequest
	case RateLimited:
		return http.StatusTooManyRequests
	case Conflict:
		return http.StatusConflict
	case TransientUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
