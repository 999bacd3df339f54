package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type state string
type event string

func table() []Transition[state, event] {
	return []Transition[state, event]{
		{From: "idle", Event: "start", To: "running"},
		{From: "running", Event: "stop", To: "stopping"},
		{From: "stopping", Event: "resume", To: "running"},
		{From: "stopping", Event: "finish", To: "done"},
	}
}

func TestMachineFire(t *testing.T) {
	m := MustNew[state, event]("idle", table())

	var seen []string
	m.OnTransition(func(from, to state, ev event) {
		seen = append(seen, string(from)+">"+string(to))
	})

	to, err := m.Fire(context.Background(), "start")
	require.NoError(t, err)
	assert.Equal(t, state("running"), to)
	assert.True(t, m.Can("stop"))
	assert.False(t, m.Can("finish"))

	_, err = m.Fire(context.Background(), "finish")
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, state("running"), m.State())

	_, err = m.Fire(context.Background(), "stop")
	require.NoError(t, err)
	_, err = m.Fire(context.Background(), "resume")
	require.NoError(t, err)
	assert.Equal(t, []string{"idle>running", "running>stopping", "stopping>running"}, seen)
}

func TestMachineDuplicateTransition(t *testing.T) {
	tt := append(table(), Transition[state, event]{From: "idle", Event: "start", To: "done"})
	_, err := New[state, event]("idle", tt)
	require.Error(t, err)
}

func TestMachineGuardRejects(t *testing.T) {
	denied := errors.New("denied")
	m := MustNew[state, event]("idle", []Transition[state, event]{
		{From: "idle", Event: "start", To: "running", Guard: func(context.Context, state, event) error { return denied }},
	})
	_, err := m.Fire(context.Background(), "start")
	require.ErrorIs(t, err, denied)
	assert.Equal(t, state("idle"), m.State())
}
