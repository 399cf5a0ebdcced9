package engine

import "github.com/claudesync/claudesync/internal/retry"

// SyncError wraps a SyncFile failure with the spec.md §7 retryability
// classification, satisfying retry.RetryableError so cmd/claudesync's
// retry.Executor.Do stops immediately on a hashing or local-disk failure
// instead of retrying it like a network blip. Kind names the taxonomy
// entry the failure belongs to ("hashing", "file-io", "sync-logic",
// "remote"); "remote" failures defer their classification to whatever
// internal/remoteclient already decided (errors.As on the wrapped error),
// since only the transport layer knows whether a given remote failure was
// a dropped connection or a rejected request.
type SyncError struct {
	Kind string
	Err  error
}

func (e *SyncError) Error() string {
	return e.Err.Error()
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Retryable implements retry.RetryableError.
func (e *SyncError) Retryable() bool {
	switch e.Kind {
	case "remote":
		return retry.IsRetryable(e.Err)
	default:
		// hashing, file-io, sync-logic, parse, validation: spec.md §7 marks
		// all of these non-retryable — the same input produces the same
		// failure on every attempt.
		return false
	}
}

// classify wraps err as a SyncError of the given kind, or returns nil if
// err is nil, so call sites can write `e.fail(relPath, classify(kind, err))`
// unconditionally.
func classify(kind string, err error) error {
	if err == nil {
		return nil
	}

	return &SyncError{Kind: kind, Err: err}
}
