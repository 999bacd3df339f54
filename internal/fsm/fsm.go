// Package fsm implements a small transition-table state machine.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned by Fire when no edge exists for (state, event).
var ErrInvalidTransition = errors.New("invalid transition")

// Transition describes a single edge in the FSM.
// Guard may reject the transition; Action performs side-effects.
type Transition[S ~string, E ~string] struct {
	From   S
	Event  E
	To     S
	Guard  func(ctx context.Context, from S, event E) error
	Action func(ctx context.Context, from S, to S, event E) error
}

// Machine is a strict FSM runner: unknown transitions are errors.
type Machine[S ~string, E ~string] struct {
	mu       sync.Mutex
	state    S
	index    map[string]Transition[S, E]
	observer func(from, to S, event E)
}

func New[S ~string, E ~string](initial S, transitions []Transition[S, E]) (*Machine[S, E], error) {
	idx := make(map[string]Transition[S, E], len(transitions))
	for _, t := range transitions {
		k := key(t.From, t.Event)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("duplicate transition: %s -> %s", t.From, t.Event)
		}
		idx[k] = t
	}
	return &Machine[S, E]{state: initial, index: idx}, nil
}

// MustNew is New for static transition tables.
func MustNew[S ~string, E ~string](initial S, transitions []Transition[S, E]) *Machine[S, E] {
	m, err := New(initial, transitions)
	if err != nil {
		panic(err)
	}
	return m
}

// OnTransition registers a callback invoked after every successful transition.
func (m *Machine[S, E]) OnTransition(fn func(from, to S, event E)) {
	m.mu.Lock()
	m.observer = fn
	m.mu.Unlock()
}

func (m *Machine[S, E]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Can reports whether event is accepted in the current state.
func (m *Machine[S, E]) Can(event E) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.index[key(m.state, event)]
	return ok
}

// Fire attempts to apply an event atomically.
func (m *Machine[S, E]) Fire(ctx context.Context, event E) (S, error) {
	m.mu.Lock()
	from := m.state
	t, ok := m.index[key(from, event)]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("%w: state=%s event=%s", ErrInvalidTransition, from, event)
	}
	to := t.To
	m.mu.Unlock()

	// Guard and Action run outside the critical section.
	if t.Guard != nil {
		if err := t.Guard(ctx, from, event); err != nil {
			return from, err
		}
	}
	if t.Action != nil {
		if err := t.Action(ctx, from, to, event); err != nil {
			return from, err
		}
	}

	m.mu.Lock()
	if m.state != from {
		cur := m.state
		m.mu.Unlock()
		return cur, fmt.Errorf("concurrent transition detected: from=%s cur=%s event=%s", from, cur, event)
	}
	m.state = to
	observer := m.observer
	m.mu.Unlock()

	if observer != nil {
		observer(from, to, event)
	}
	return to, nil
}

func key[S ~string, E ~string](from S, event E) string {
	return string(from) + "|" + string(event)
}
