package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrBadRequest      = errors.New("bad request")
	ErrGone            = errors.New("gone")
	ErrTooManyRequests = errors.New("too many requests")
	ErrConfig          = errors.New("configuration error")
	ErrUpstream        = errors.New("upstream failure")
)

// ReasonError attaches a machine-readable reason to a domain error.
// Handlers surface Reason in the response body next to the message.
type ReasonError struct {
	Reason  string
	Message string
	Err     error
}

func (e *ReasonError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Reason
}

func (e *ReasonError) Unwrap() error { return e.Err }

// NewReasonError wraps err with a reason and a client-facing message.
func NewReasonError(err error, reason, message string) *ReasonError {
	return &ReasonError{Reason: reason, Message: message, Err: err}
}
