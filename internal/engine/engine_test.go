package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudesync/claudesync/internal/conflict"
	"github.com/claudesync/claudesync/internal/rules"
	"github.com/claudesync/claudesync/internal/syncfs"
)

type fakeRemote struct {
	mu        sync.Mutex
	versions  map[string]string // path -> remote content
	bases     map[string]string // path -> base hash
	deleted   map[string]bool
	uploadErr error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		versions: make(map[string]string),
		bases:    make(map[string]string),
		deleted:  make(map[string]bool),
	}
}

func (f *fakeRemote) Stat(ctx context.Context, path string) (string, string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	content, ok := f.versions[path]
	if !ok {
		return "", "", false, nil
	}

	return syncfs.HashBytes([]byte(content)), f.bases[path], true, nil
}

func (f *fakeRemote) Download(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return []byte(f.versions[path]), nil
}

func (f *fakeRemote) Upload(ctx context.Context, path string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.uploadErr != nil {
		return f.uploadErr
	}

	f.versions[path] = string(content)

	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted[path] = true
	delete(f.versions, path)

	return nil
}

func newTestEngine(t *testing.T, remote *fakeRemote) (*Engine, string) {
	t.Helper()

	root := t.TempDir()
	re := rules.New()
	resolver := conflict.NewResolver(conflict.StrategyManual)

	e := New(Config{Root: root}, re, resolver, remote, nil)

	return e, root
}

func TestEngine_SyncFile_UploadsWhenRemoteAbsent(t *testing.T) {
	remote := newFakeRemote()
	e, root := newTestEngine(t, remote)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("hello"), 0o644))

	require.NoError(t, e.SyncFile(context.Background(), "notes.md"))

	st, ok := e.State().Get("notes.md")
	require.True(t, ok)
	assert.Equal(t, StatusSynced, st.Status)
	assert.Equal(t, "hello", remote.versions["notes.md"])
}

func TestEngine_SyncFile_DownloadsWhenLocalMissing(t *testing.T) {
	remote := newFakeRemote()
	remote.versions["notes.md"] = "remote content"

	e, root := newTestEngine(t, remote)

	require.NoError(t, e.SyncFile(context.Background(), "notes.md"))

	got, err := os.ReadFile(filepath.Join(root, "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "remote content", string(got))

	st, _ := e.State().Get("notes.md")
	assert.Equal(t, StatusSynced, st.Status)
}

func TestEngine_SyncFile_NoOpWhenHashesMatch(t *testing.T) {
	remote := newFakeRemote()
	remote.versions["notes.md"] = "same"

	e, root := newTestEngine(t, remote)
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("same"), 0o644))

	require.NoError(t, e.SyncFile(context.Background(), "notes.md"))

	st, _ := e.State().Get("notes.md")
	assert.Equal(t, StatusSynced, st.Status)
}

func TestEngine_SyncFile_DownloadsWhenLocalMatchesBase(t *testing.T) {
	remote := newFakeRemote()
	baseHash := syncfs.HashBytes([]byte("base"))
	remote.versions["notes.md"] = "remote-moved-on"
	remote.bases["notes.md"] = baseHash

	e, root := newTestEngine(t, remote)
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("base"), 0o644))

	require.NoError(t, e.SyncFile(context.Background(), "notes.md"))

	got, err := os.ReadFile(filepath.Join(root, "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "remote-moved-on", string(got))
}

func TestEngine_SyncFile_ResolvesConflictWhenBothDiverge(t *testing.T) {
	remote := newFakeRemote()
	remote.versions["notes.md"] = "remote-change"
	remote.bases["notes.md"] = syncfs.HashBytes([]byte("base"))

	e, root := newTestEngine(t, remote)
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("local-change"), 0o644))

	require.NoError(t, e.SyncFile(context.Background(), "notes.md"))

	st, _ := e.State().Get("notes.md")
	assert.Equal(t, StatusConflict, st.Status)

	_, err := os.Stat(filepath.Join(root, "notes.md.conflict"))
	assert.NoError(t, err)
}

func TestEngine_RunFullSync_SummarizesResults(t *testing.T) {
	remote := newFakeRemote()
	e, root := newTestEngine(t, remote)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.md"), []byte("b"), 0o644))

	summary, err := e.RunFullSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Synced)
}

func TestEngine_StartIncrementalSync_DispatchesEvents(t *testing.T) {
	remote := newFakeRemote()
	e, root := newTestEngine(t, remote)

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.md"), []byte("content"), 0o644))

	events := make(chan syncfs.RawEvent, 1)
	events <- syncfs.RawEvent{Path: "new.md", Type: syncfs.EventCreated}
	close(events)

	e.StartIncrementalSync(context.Background(), events)

	st, ok := e.State().Get("new.md")
	require.True(t, ok)
	assert.Equal(t, StatusSynced, st.Status)
}

func TestEngine_StartIncrementalSync_RemoveTombstonesAndDeletesState(t *testing.T) {
	remote := newFakeRemote()
	remote.versions["gone.md"] = "x"

	e, _ := newTestEngine(t, remote)
	e.State().Set("gone.md", PathState{Status: StatusSynced})

	events := make(chan syncfs.RawEvent, 1)
	events <- syncfs.RawEvent{Path: "gone.md", Type: syncfs.EventRemoved}
	close(events)

	e.StartIncrementalSync(context.Background(), events)

	assert.True(t, remote.deleted["gone.md"])

	_, ok := e.State().Get("gone.md")
	assert.False(t, ok)
}

type retryableStub struct {
	msg       string
	retryable bool
}

func (e *retryableStub) Error() string    { return e.msg }
func (e *retryableStub) Retryable() bool { return e.retryable }

func TestEngine_SyncFile_HashingFailureIsNotRetryable(t *testing.T) {
	remote := newFakeRemote()
	e, root := newTestEngine(t, remote)

	// Make notes.md a directory so hashing it fails with a plain,
	// unclassified fs error — SyncFile must still surface it as
	// non-retryable, since re-reading the same bad path never succeeds.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "notes.md"), 0o755))

	err := e.SyncFile(context.Background(), "notes.md")
	require.Error(t, err)

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "hashing", syncErr.Kind)
	assert.False(t, syncErr.Retryable())
}

func TestEngine_SyncFile_RemoteFailureDefersToItsOwnClassification(t *testing.T) {
	remote := newFakeRemote()
	remote.uploadErr = &retryableStub{msg: "connection reset", retryable: true}
	e, root := newTestEngine(t, remote)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("hello"), 0o644))

	err := e.SyncFile(context.Background(), "notes.md")
	require.Error(t, err)

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "remote", syncErr.Kind)
	assert.True(t, syncErr.Retryable())

	remote.uploadErr = &retryableStub{msg: "bad request", retryable: false}

	err = e.SyncFile(context.Background(), "notes.md")
	require.Error(t, err)
	require.ErrorAs(t, err, &syncErr)
	assert.False(t, syncErr.Retryable())
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "syncing", StatusSyncing.String())
	assert.Equal(t, "synced", StatusSynced.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "conflict", StatusConflict.String())
}

func TestStateMap_TransitionAndSnapshot(t *testing.T) {
	m := NewStateMap()
	m.Transition("a.md", StatusSynced, "h1", "h1", "")
	m.Transition("b.md", StatusFailed, "", "", "boom")

	snap := m.Snapshot()
	require.Len(t, snap, 2)

	summary := Summarize(snap)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
}
