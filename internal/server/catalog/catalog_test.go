package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeRepository_PutAndLatestVersion(t *testing.T) {
	repo := NewFakeRepository()
	ctx := context.Background()

	v1, err := repo.PutVersion(ctx, Version{UserID: "alice", Path: "notes.md", VersionNumber: 1, Sha256Hex: "h1"})
	require.NoError(t, err)
	assert.NotEmpty(t, v1.ID)

	_, err = repo.PutVersion(ctx, Version{UserID: "alice", Path: "notes.md", VersionNumber: 2, Sha256Hex: "h2"})
	require.NoError(t, err)

	latest, err := repo.LatestVersion(ctx, "alice", "notes.md")
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.VersionNumber)
}

func TestFakeRepository_LatestVersion_NotFound(t *testing.T) {
	repo := NewFakeRepository()

	_, err := repo.LatestVersion(context.Background(), "alice", "missing.md")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFakeRepository_VersionsSince_FiltersByVersionAndGlob(t *testing.T) {
	repo := NewFakeRepository()
	ctx := context.Background()

	_, err := repo.PutVersion(ctx, Version{UserID: "alice", Path: "a.md", VersionNumber: 1})
	require.NoError(t, err)
	_, err = repo.PutVersion(ctx, Version{UserID: "alice", Path: "a.md", VersionNumber: 2})
	require.NoError(t, err)
	_, err = repo.PutVersion(ctx, Version{UserID: "alice", Path: "b.txt", VersionNumber: 3})
	require.NoError(t, err)

	versions, err := repo.VersionsSince(ctx, "alice", 1, "*.md")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, int64(2), versions[0].VersionNumber)
}

func TestFakeRepository_PutConflict_DefaultsToUnresolved(t *testing.T) {
	repo := NewFakeRepository()
	ctx := context.Background()

	c, err := repo.PutConflict(ctx, Conflict{UserID: "alice", Path: "a.md", Kind: ConflictKindModifyModify})
	require.NoError(t, err)
	assert.Equal(t, ResolutionUnresolved, c.Status)

	unresolved, err := repo.ListUnresolvedConflicts(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, c.ID, unresolved[0].ID)
}

func TestFakeRepository_ResolveConflict(t *testing.T) {
	repo := NewFakeRepository()
	ctx := context.Background()

	c, err := repo.PutConflict(ctx, Conflict{UserID: "alice", Path: "a.md", Kind: ConflictKindModifyModify})
	require.NoError(t, err)

	require.NoError(t, repo.ResolveConflict(ctx, c.ID, ResolutionUserResolved, "ver-99"))

	got, err := repo.GetConflict(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ResolutionUserResolved, got.Status)
	assert.Equal(t, "ver-99", got.ResolvedVersion)
	assert.NotNil(t, got.ResolvedAt)

	unresolved, err := repo.ListUnresolvedConflicts(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}

func TestFakeRepository_ResolveConflict_NotFound(t *testing.T) {
	repo := NewFakeRepository()

	err := repo.ResolveConflict(context.Background(), "nonexistent", ResolutionIgnored, "")
	assert.ErrorIs(t, err, ErrNotFound)
}
