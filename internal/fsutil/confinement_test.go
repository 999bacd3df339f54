package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfineRelPath(t *testing.T) {
	root := t.TempDir()
	realRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)

	got, err := ConfineRelPath(root, "movie_encoded.mkv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(realRoot, "movie_encoded.mkv"), got)

	got, err = ConfineRelPath(root, "sub/../movie..final.mkv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(realRoot, "movie..final.mkv"), got)

	got, err = ConfineRelPath(root, "new/dir/out.mkv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(realRoot, "new", "dir", "out.mkv"), got)

	for _, bad := range []string{"../escape.mkv", "/etc/passwd", `a\b.mkv`, ".."} {
		_, err := ConfineRelPath(root, bad)
		assert.ErrorIs(t, err, ErrOutsideRoot, bad)
	}
}

func TestConfineRelPathSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	_, err := ConfineRelPath(root, "link/out.mkv")
	require.ErrorIs(t, err, ErrOutsideRoot)

	_, err = ConfineRelPath(filepath.Join(root, "missing"), "out.mkv")
	require.Error(t, err)
}

func TestIsRegularFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "in.ts")
	require.NoError(t, os.WriteFile(p, []byte("12345"), 0o600))

	size, err := IsRegularFile(p)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	_, err = IsRegularFile(dir)
	assert.Error(t, err)
	_, err = IsRegularFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)

	assert.True(t, Exists(p))
	assert.False(t, Exists(filepath.Join(dir, "missing")))
}
