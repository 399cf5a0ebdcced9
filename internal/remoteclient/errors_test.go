package remoteclient

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/claudesync/claudesync/internal/retry"
	"github.com/claudesync/claudesync/internal/transfer"
)

func TestRemoteError_StatusClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"dial failure has no status", transportErr("dialing", errors.New("connection refused")), true},
		{"5xx is retryable", statusErr("GET /v1/changes", 503, errors.New("status 503")), true},
		{"429 is retryable", statusErr("GET /v1/changes", 429, errors.New("status 429")), true},
		{"404 is not retryable", statusErr("GET /v1/changes", 404, errors.New("status 404")), false},
		{"400 is not retryable", statusErr("POST /v1/changes", 400, errors.New("status 400")), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, retry.IsRetryable(tc.err))
		})
	}
}

func TestTransferErr_OversizeIsNotRetryable(t *testing.T) {
	err := transferErr("uploading big.bin", transfer.ErrOversize)
	assert.False(t, retry.IsRetryable(err))
}

func TestTransferErr_ServerRejectedIsNotRetryable(t *testing.T) {
	err := transferErr("downloading notes.md", transfer.ErrServerRejected)
	assert.False(t, retry.IsRetryable(err))
}

func TestTransferErr_OtherFailureIsRetryable(t *testing.T) {
	err := transferErr("downloading notes.md", errors.New("connection reset"))
	assert.True(t, retry.IsRetryable(err))
}
