package tokenstore

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// RefreshFunc exchanges a refresh credential for a new Bundle, calling
// whatever transport the caller wires up (the sync server's refresh
// endpoint, in claudesync's case).
type RefreshFunc func(ctx context.Context, refreshToken string) (Bundle, error)

// OAuth2TokenSource adapts a Store to oauth2.TokenSource, generalizing
// the teacher's internal/graph.TokenSource (itself an
// oauth2.ReuseTokenSource wrapping a device-code-flow token) from
// Microsoft's OAuth2 endpoint to this system's bearer refresh endpoint.
// The returned source only calls refresh when the cached bundle's access
// credential has actually expired.
func OAuth2TokenSource(ctx context.Context, store *Store, refresh RefreshFunc) oauth2.TokenSource {
	base := &bundleTokenSource{ctx: ctx, store: store, refresh: refresh}

	var initial *oauth2.Token

	if b, err := store.Load(); err == nil {
		initial = bundleToToken(b)
	}

	return oauth2.ReuseTokenSource(initial, base)
}

type bundleTokenSource struct {
	ctx     context.Context
	store   *Store
	refresh RefreshFunc
}

// Token implements oauth2.TokenSource. oauth2.ReuseTokenSource only calls
// this once the wrapped token reports itself expired, so a fresh load is
// always a refresh, not a steady-state cost.
func (b *bundleTokenSource) Token() (*oauth2.Token, error) {
	bundle, err := b.store.Load()
	if err != nil {
		return nil, authErr("loading bundle for refresh", err)
	}

	refreshed, err := b.refresh(b.ctx, bundle.RefreshToken)
	if err != nil {
		return nil, authErr("refreshing access token", err)
	}

	if err := b.store.Save(refreshed); err != nil {
		return nil, authErr("persisting refreshed bundle", err)
	}

	return bundleToToken(refreshed), nil
}

func bundleToToken(b Bundle) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  b.AccessToken,
		RefreshToken: b.RefreshToken,
		Expiry:       time.Unix(b.AccessExpiry, 0),
	}
}
