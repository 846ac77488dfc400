package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestScan_CountsFilesAndSkipsJunk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")
	writeFile(t, root, "docs/b.txt", "world!")
	writeFile(t, root, "docs/deep/c.bin", "123")
	writeFile(t, root, ".DS_Store", "junk")
	writeFile(t, root, "docs/Thumbs.db", "junk")
	writeFile(t, root, "$RECYCLE.BIN/deleted.txt", "junk")

	s := New(zerolog.Nop())
	files, skipped, err := s.Scan(root)
	require.NoError(t, err)

	assert.Len(t, files, 3)
	// Two junk files plus one junk directory.
	assert.Equal(t, 3, skipped)

	sizes := map[string]int64{}
	for _, f := range files {
		rel, err := filepath.Rel(root, f.Path)
		require.NoError(t, err)
		sizes[filepath.ToSlash(rel)] = f.Size
	}
	assert.Equal(t, int64(5), sizes["a.txt"])
	assert.Equal(t, int64(6), sizes["docs/b.txt"])
	assert.Equal(t, int64(3), sizes["docs/deep/c.bin"])
}

func TestScan_EmptyTree(t *testing.T) {
	root := t.TempDir()

	s := New(zerolog.Nop())
	files, skipped, err := s.Scan(root)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Zero(t, skipped)
}

func TestScan_MissingRoot(t *testing.T) {
	s := New(zerolog.Nop())
	_, _, err := s.Scan(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}

func TestScan_JunkDirContentsNotCounted(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "System Volume Information/x.txt", "junk")
	writeFile(t, root, "System Volume Information/nested/y.txt", "junk")
	writeFile(t, root, "keep.txt", "ok")

	s := New(zerolog.Nop())
	files, skipped, err := s.Scan(root)
	require.NoError(t, err)
	assert.Len(t, files, 1)
	// The junk directory counts once, not per contained file.
	assert.Equal(t, 1, skipped)
}
