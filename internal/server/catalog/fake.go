package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"
)

// FakeRepository is an in-memory Repository used by syncsvc's tests,
// matching this codebase's established fake-over-interface test style
// (see internal/engine's fakeRemote) rather than standing up a real
// PostgreSQL instance for unit tests.
type FakeRepository struct {
	mu        sync.Mutex
	versions  map[string]Version
	conflicts map[string]Conflict
	seq       int
}

// NewFakeRepository constructs an empty FakeRepository.
func NewFakeRepository() *FakeRepository {
	return &FakeRepository{
		versions:  make(map[string]Version),
		conflicts: make(map[string]Conflict),
	}
}

func (f *FakeRepository) nextID(prefix string) string {
	f.seq++
	return prefix + "-" + strconv.Itoa(f.seq)
}

func (f *FakeRepository) PutVersion(ctx context.Context, v Version) (Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v.ID = f.nextID("ver")
	v.CreatedAt = time.Now()
	f.versions[v.ID] = v

	return v, nil
}

func (f *FakeRepository) LatestVersion(ctx context.Context, userID, path string) (Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var latest Version
	found := false

	for _, v := range f.versions {
		if v.UserID != userID || v.Path != path {
			continue
		}

		if !found || v.VersionNumber > latest.VersionNumber {
			latest = v
			found = true
		}
	}

	if !found {
		return Version{}, ErrNotFound
	}

	return latest, nil
}

func (f *FakeRepository) VersionsSince(ctx context.Context, userID string, sinceVersion int64, pathGlob string) ([]Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Version

	for _, v := range f.versions {
		if v.UserID != userID || v.VersionNumber <= sinceVersion {
			continue
		}

		if pathGlob != "" {
			matched, err := filepath.Match(pathGlob, v.Path)
			if err != nil {
				return nil, fmt.Errorf("catalog: invalid glob %q: %w", pathGlob, err)
			}

			if !matched {
				continue
			}
		}

		out = append(out, v)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })

	return out, nil
}

func (f *FakeRepository) GetVersion(ctx context.Context, id string) (Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.versions[id]
	if !ok {
		return Version{}, ErrNotFound
	}

	return v, nil
}

func (f *FakeRepository) PutConflict(ctx context.Context, c Conflict) (Conflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c.ID = f.nextID("conf")
	c.CreatedAt = time.Now()

	if c.Status == "" {
		c.Status = ResolutionUnresolved
	}

	f.conflicts[c.ID] = c

	return c, nil
}

func (f *FakeRepository) GetConflict(ctx context.Context, id string) (Conflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.conflicts[id]
	if !ok {
		return Conflict{}, ErrNotFound
	}

	return c, nil
}

func (f *FakeRepository) ListUnresolvedConflicts(ctx context.Context, userID string) ([]Conflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Conflict

	for _, c := range f.conflicts {
		if c.UserID == userID && c.Status == ResolutionUnresolved {
			out = append(out, c)
		}
	}

	return out, nil
}

func (f *FakeRepository) ResolveConflict(ctx context.Context, id string, status ResolutionStatus, resolvedVersionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.conflicts[id]
	if !ok {
		return ErrNotFound
	}

	c.Status = status
	c.ResolvedVersion = resolvedVersionID
	now := time.Now()
	c.ResolvedAt = &now
	f.conflicts[id] = c

	return nil
}
