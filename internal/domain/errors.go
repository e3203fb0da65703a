package domain

import "errors"

// Sentinel errors for the domain layer. These provide consistent, checkable
// errors for the failure classes the session core distinguishes.
var (
	// ErrUnauthenticated means there is no signed-in user. Operations fail
	// before producing any side effect.
	ErrUnauthenticated = errors.New("no authenticated user")

	// ErrBackend wraps any store or network failure. Callers roll back local
	// state and show a transient notice.
	ErrBackend = errors.New("backend request failed")

	// ErrPermissionDenied means the user refused system notifications.
	ErrPermissionDenied = errors.New("notification permission denied")

	// ErrMalformedPayload marks an unparseable push body.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrInvalidRecord marks a backend record that failed schema validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrEmptyMessage is returned for a send with no content and no attachment.
	ErrEmptyMessage = errors.New("message has no content")

	ErrNotFound = errors.New("requested resource not found")
)
