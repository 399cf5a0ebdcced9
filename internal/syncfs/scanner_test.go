package syncfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFilter struct {
	exclude map[string]bool
}

func (f *stubFilter) ShouldSync(path, _ string) bool {
	return !f.exclude[path]
}

func TestScanner_Scan_HashesIncludedFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("hello"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.md"), []byte("world"), 0o644))

	s := NewScanner(nil, nil)
	files, err := s.Scan(root)
	require.NoError(t, err)
	require.Len(t, files, 2)

	want, err := HashFile(filepath.Join(root, "a.md"))
	require.NoError(t, err)

	var got string
	for _, f := range files {
		if f.Path == "a.md" {
			got = f.Hash
		}
	}
	assert.Equal(t, want, got)
}

func TestScanner_Scan_PrunesExcludedDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "pkg", "x.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.md"), []byte("keep"), 0o644))

	s := NewScanner(&stubFilter{exclude: map[string]bool{"node_modules": true}}, nil)
	files, err := s.Scan(root)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "keep.md", files[0].Path)
}

func TestHashFile_Deterministic(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "f.txt")
	require.NoError(t, os.WriteFile(p, []byte("same bytes"), 0o644))

	h1, err := HashFile(p)
	require.NoError(t, err)
	h2, err := HashFile(p)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestFileTypeOf(t *testing.T) {
	assert.Equal(t, "md", fileTypeOf("notes.MD"))
	assert.Equal(t, "", fileTypeOf("Makefile"))
}
