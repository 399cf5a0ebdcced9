package objectstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()

	s, err := NewFSStore(t.TempDir(), 16, nil)
	require.NoError(t, err)

	return s
}

func TestFSStore_PutGet_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := []byte("hello world")
	hash := HashBytes(content)

	require.NoError(t, s.Put(ctx, "alice", hash, bytes.NewReader(content)))

	rc, err := s.Get(ctx, "alice", hash)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestFSStore_Put_DedupsExistingObject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := []byte("dedup me")
	hash := HashBytes(content)

	require.NoError(t, s.Put(ctx, "alice", hash, bytes.NewReader(content)))

	path := s.filePath("alice", hash)
	info1, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "alice", hash, bytes.NewReader(content)))

	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestFSStore_Put_RejectsHashMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Put(ctx, "alice", "not-the-real-hash", bytes.NewReader([]byte("payload")))
	require.ErrorIs(t, err, ErrHashMismatch)
}

func TestFSStore_Exists_UsesCacheAfterPut(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := []byte("cached")
	hash := HashBytes(content)

	exists, err := s.Exists(ctx, "alice", hash)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Put(ctx, "alice", hash, bytes.NewReader(content)))

	// Remove the blob behind the store's back: Exists can now only report
	// it through the cache entry Put left.
	require.NoError(t, os.Remove(s.filePath("alice", hash)))

	exists, err = s.Exists(ctx, "alice", hash)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFSStore_Delete_RemovesObjectAndCacheEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := []byte("deleteme")
	hash := HashBytes(content)

	require.NoError(t, s.Put(ctx, "alice", hash, bytes.NewReader(content)))
	require.NoError(t, s.Delete(ctx, "alice", hash))

	exists, err := s.Exists(ctx, "alice", hash)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.Get(ctx, "alice", hash)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_Delete_MissingObjectIsNoop(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Delete(context.Background(), "alice", "nonexistent"))
}

func TestFSStore_VersionMeta_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutVersionMeta(ctx, "alice", "v1", []byte(`{"version":1}`)))

	got, err := s.GetVersionMeta(ctx, "alice", "v1")
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, string(got))
}

func TestFSStore_VersionMeta_MissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetVersionMeta(context.Background(), "alice", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_ConflictBackup_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutConflictBackup(ctx, "alice", "conflict-1", "local", []byte("local bytes")))
	require.NoError(t, s.PutConflictBackup(ctx, "alice", "conflict-1", "remote", []byte("remote bytes")))

	local, err := s.GetConflictBackup(ctx, "alice", "conflict-1", "local")
	require.NoError(t, err)
	assert.Equal(t, "local bytes", string(local))

	remote, err := s.GetConflictBackup(ctx, "alice", "conflict-1", "remote")
	require.NoError(t, err)
	assert.Equal(t, "remote bytes", string(remote))
}

func TestFSStore_OnDiskLayoutMatchesSpec(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash := HashBytes([]byte("x"))
	require.NoError(t, s.Put(ctx, "alice", hash, bytes.NewReader([]byte("x"))))

	expected := filepath.Join(s.root, "users", "alice", "files", hash+".data")
	_, err := os.Stat(expected)
	assert.NoError(t, err)
}
