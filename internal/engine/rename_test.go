package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudesync/claudesync/internal/syncfs"
)

func TestRenameCorrelator_MatchesRemoveThenCreate(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "new-name.md"), []byte("same content"), 0o644))

	c := NewRenameCorrelator(root)
	c.ObserveRemove("old-name.md", hashOf(t, "same content"))

	pair, ok := c.ObserveCreate("new-name.md")
	require.True(t, ok)
	assert.Equal(t, "old-name.md", pair.OldPath)
	assert.Equal(t, "new-name.md", pair.NewPath)
}

func TestRenameCorrelator_NoMatchWhenContentDiffers(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "new-name.md"), []byte("different"), 0o644))

	c := NewRenameCorrelator(root)
	c.ObserveRemove("old-name.md", hashOf(t, "original content"))

	_, ok := c.ObserveCreate("new-name.md")
	assert.False(t, ok)
}

func TestRenameCorrelator_IgnoresEmptyHash(t *testing.T) {
	c := NewRenameCorrelator(t.TempDir())
	c.ObserveRemove("old.md", "")

	assert.Empty(t, c.pending)
}

func hashOf(t *testing.T, content string) string {
	t.Helper()
	return syncfs.HashBytes([]byte(content))
}
