// Package shared defines the error taxonomy and small utility helpers used
// across the storage core. Callers match sentinel values with errors.Is.
package shared

import "errors"

var (
	// ErrNotFound is returned by repositories when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInternal covers unexpected failures that carry no caller-actionable detail.
	ErrInternal = errors.New("internal error")

	// ErrAuthentication is returned when an AEAD tag fails to verify during
	// decryption. It is fatal to the call: the same inputs can never succeed,
	// so it must not be retried.
	ErrAuthentication = errors.New("authentication failed")

	// ErrKeyIntegrity is returned when a wrapped DEK cannot be unwrapped under
	// any known master key. Treated as a configuration or corruption fault,
	// escalated to operators rather than retried.
	ErrKeyIntegrity = errors.New("key integrity failure")

	// ErrQuotaExceeded is returned when an upload would push a user's
	// bytes-used counter above their quota. Nothing is persisted.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrInvalidConfiguration is returned when share-link parameters are
	// rejected at creation time, before any record is written.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrBadPassword is returned when a share-link password does not match.
	ErrBadPassword = errors.New("bad password")

	// ErrLinkUnavailable is the generic sentinel underlying LinkUnavailableError.
	ErrLinkUnavailable = errors.New("link unavailable")
)

// UnavailableReason tags a LinkUnavailableError for the activity log. It is
// never exposed to unauthenticated callers.
type UnavailableReason string

const (
	ReasonExpired   UnavailableReason = "expired"
	ReasonExhausted UnavailableReason = "exhausted"
	ReasonRevoked   UnavailableReason = "revoked"
	ReasonNotFound  UnavailableReason = "not-found"
)

// LinkUnavailableError is returned for any access attempt against a share
// link that is not Active. The public message is deliberately generic; the
// Reason field is recorded in the activity log for operators.
type LinkUnavailableError struct {
	Reason UnavailableReason
}

func (e *LinkUnavailableError) Error() string {
	return "link unavailable"
}

func (e *LinkUnavailableError) Unwrap() error {
	return ErrLinkUnavailable
}

// Unavailable builds a LinkUnavailableError with the given internal reason.
func Unavailable(reason UnavailableReason) error {
	return &LinkUnavailableError{Reason: reason}
}
