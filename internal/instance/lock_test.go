package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireIsExclusive(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir)
	require.NoError(t, err)
	assert.FileExists(t, first.Path())

	_, err = Acquire(dir)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Release())
	require.NoError(t, first.Release())

	second, err := Acquire(dir)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	assert.NoError(t, l.Release())
}
