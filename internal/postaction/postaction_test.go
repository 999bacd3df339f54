//go:build linux

package postaction

import (
	"context"
	"errors"
	"testing"

	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls [][]string
	err   error
}

func (r *recorder) run(_ context.Context, name string, args ...string) error {
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.err
}

func newRunner(rec *recorder) *Runner {
	r := New(zerolog.Nop())
	r.Command = rec.run
	return r
}

func TestRunNoneDoesNothing(t *testing.T) {
	rec := &recorder{}
	require.NoError(t, newRunner(rec).Run(context.Background(), model.PostActionNone, ""))
	assert.Empty(t, rec.calls)
}

func TestRunPlatformActions(t *testing.T) {
	rec := &recorder{}
	r := newRunner(rec)
	require.NoError(t, r.Run(context.Background(), model.PostActionShutdown, ""))
	require.NoError(t, r.Run(context.Background(), model.PostActionSleep, ""))
	require.NoError(t, r.Run(context.Background(), model.PostActionCustom, "echo done"))
	assert.Equal(t, [][]string{
		{"systemctl", "poweroff"},
		{"systemctl", "suspend"},
		{"/bin/sh", "-c", "echo done"},
	}, rec.calls)
}

func TestRunCustomRequiresCommand(t *testing.T) {
	rec := &recorder{}
	assert.Error(t, newRunner(rec).Run(context.Background(), model.PostActionCustom, "  "))
	assert.Empty(t, rec.calls)
}

func TestRunWrapsCommandError(t *testing.T) {
	boom := errors.New("boom")
	err := newRunner(&recorder{err: boom}).Run(context.Background(), model.PostActionSleep, "")
	assert.ErrorIs(t, err, boom)
}

func TestRunCustomExecutesShell(t *testing.T) {
	r := New(zerolog.Nop())
	require.NoError(t, r.Run(context.Background(), model.PostActionCustom, "exit 0"))
	assert.Error(t, r.Run(context.Background(), model.PostActionCustom, "echo nope >&2; exit 3"))
}
