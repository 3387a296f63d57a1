package domain

import "errors"

var (
	// ErrTransient marks provider or inference failures that are worth
	// retrying with backoff before degrading to a safe default.
	ErrTransient = errors.New("transient error")

	// ErrFatalProvider marks provider failures that retrying cannot fix,
	// such as a permanently rejected mutation.
	ErrFatalProvider = errors.New("fatal provider error")

	// ErrMalformedResponse marks an inference response that failed schema
	// validation. Treated like transient exhaustion: the sentinel
	// recommendation is used instead.
	ErrMalformedResponse = errors.New("malformed inference response")

	// ErrLedgerConflict is returned when an append would create a second
	// non-undo terminal outcome for a key without an intervening UNDONE.
	ErrLedgerConflict = errors.New("conflicting ledger outcome for key")

	// ErrAborted is returned when the operator quits the session.
	ErrAborted = errors.New("session aborted")
)

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
