package remoteclient

import (
	"errors"

	"github.com/claudesync/claudesync/internal/transfer"
)

// RemoteError wraps a failed call to the sync server with the
// retryability classification spec.md §7 assigns by kind: a dial/transport
// failure or a 5xx/429 response is "network or transport" /
// "remote-unavailable" (retryable); any other HTTP status, or a
// server-reported application error, is treated as a mistake that retrying
// cannot fix. StatusCode is 0 for errors that never got an HTTP response
// at all (dial failures, timeouts, server-side error frames).
type RemoteError struct {
	Op          string
	StatusCode  int
	retryable   bool
	hasOverride bool
	Err         error
}

func (e *RemoteError) Error() string {
	return "remoteclient: " + e.Op + ": " + e.Err.Error()
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Retryable implements retry.RetryableError.
func (e *RemoteError) Retryable() bool {
	if e.hasOverride {
		return e.retryable
	}

	if e.StatusCode == 0 {
		return true
	}

	return e.StatusCode == 429 || e.StatusCode >= 500
}

// transportErr wraps a dial/send/recv failure — no HTTP response was ever
// obtained, so it's classified as network/transport (retryable).
func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}

	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}

	return &RemoteError{Op: op, Err: err}
}

// statusErr wraps an HTTP response carrying a non-2xx status.
func statusErr(op string, statusCode int, err error) error {
	return &RemoteError{Op: op, StatusCode: statusCode, Err: err}
}

// appErr wraps a server-reported application error (a wire.ErrorFrame ack
// surfaced as transfer.ErrServerRejected, or transfer.ErrOversize): these
// are mistakes in the request or its content, not transient transport
// failures, so they're non-retryable regardless of how they're phrased.
func appErr(op string, err error) error {
	return &RemoteError{Op: op, Err: err, hasOverride: true, retryable: false}
}

// transferErr classifies an error returned by internal/transfer.Manager:
// ErrOversize and ErrServerRejected are permanent failures; any other
// transfer error (dial drop mid-stream, hash mismatch) is treated as transport-level and
// retryable, since a fresh attempt can plausibly succeed.
func transferErr(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, transfer.ErrOversize) || errors.Is(err, transfer.ErrServerRejected) {
		return appErr(op, err)
	}

	return transportErr(op, err)
}
