package pocket

import (
	"errors"
	"fmt"
)

// Common errors returned by replica operations.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, pocket.ErrAlreadyInProgress) {
//	    // another sync is running, nothing to report
//	}
var (
	// ErrNotAuthenticated is returned when no access token is available.
	ErrNotAuthenticated = errors.New("not logged into Pocket")

	// ErrAlreadyInProgress is returned when a guarded operation (sync,
	// reconcile, bulk note creation) is already running.
	ErrAlreadyInProgress = errors.New("operation already in progress")

	// ErrNotConfigured is returned when a required setting is missing,
	// e.g. an empty allowed tag set for reconciliation.
	ErrNotConfigured = errors.New("not configured")

	// ErrNotFound is returned by point lookups that miss. Callers usually
	// treat it as a branch, not a failure.
	ErrNotFound = errors.New("not found")
)

// NetworkError describes a failed call to the remote API: either a transport
// failure or a non-2xx response.
type NetworkError struct {
	// Op is the API operation, e.g. "get" or "send".
	Op string
	// StatusCode is the HTTP status (0 if the request never completed).
	StatusCode int
	// Reason carries Pocket's X-Error header when present.
	Reason string
	// Code carries Pocket's X-Error-Code header when present.
	Code string
	Err  error
}

func (e *NetworkError) Error() string {
	msg := fmt.Sprintf("pocket %s failed", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
		if e.Code != "" {
			msg += " (code " + e.Code + ")"
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StorageError wraps a failed read or write against a durable store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsNetwork reports whether err is or wraps a *NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsStorage reports whether err is or wraps a *StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsExpected reports whether err is one of the outcomes that should be shown
// to the user as a notice rather than a failure.
func IsExpected(err error) bool {
	return errors.Is(err, ErrAlreadyInProgress) || errors.Is(err, ErrNotConfigured)
}
