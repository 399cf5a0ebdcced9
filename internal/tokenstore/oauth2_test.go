package tokenstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudesync/claudesync/internal/retry"
)

func TestBundleTokenSource_Token_RefreshFailureIsAuthErrorNotRetryable(t *testing.T) {
	dir := t.TempDir()
	store := New(dir+"/tokens.json", "")
	require.NoError(t, store.Save(Bundle{UserID: "u", DeviceID: "d", AccessToken: "a", RefreshToken: "r", AccessExpiry: 1}))

	refreshErr := errors.New("refresh token revoked")
	src := &bundleTokenSource{
		ctx:   context.Background(),
		store: store,
		refresh: func(ctx context.Context, refreshToken string) (Bundle, error) {
			return Bundle{}, refreshErr
		},
	}

	_, err := src.Token()
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.False(t, authErr.Retryable())
	assert.False(t, retry.IsRetryable(err))
	assert.ErrorIs(t, err, refreshErr)
}
