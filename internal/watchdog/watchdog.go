// Package watchdog enforces liveness deadlines on a running encoder process.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNoOutput reports that the process produced no output line at all
	// within the no-output timeout after start.
	ErrNoOutput = errors.New("no output from encoder")
	// ErrNoProgress reports that no progress sample arrived within the
	// no-progress timeout.
	ErrNoProgress = errors.New("no progress from encoder")
)

type State int

const (
	StateStarting State = iota // no output seen yet
	StateRunning               // output seen
	StateTimedOut              // no-output deadline fired
	StateStalled               // no-progress deadline fired
	StateStopped               // Run returned without firing
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateTimedOut:
		return "timed_out"
	case StateStalled:
		return "stalled"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type clock interface {
	Now() time.Time
	NewTicker(d time.Duration) ticker
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) Now() time.Time                   { return time.Now() }
func (realClock) NewTicker(d time.Duration) ticker { return &realTicker{time.NewTicker(d)} }

type realTicker struct {
	*time.Ticker
}

func (rt *realTicker) C() <-chan time.Time { return rt.Ticker.C }

// DefaultInterval is how often deadlines are evaluated.
const DefaultInterval = time.Second

// Watchdog tracks time since process start and since the last progress
// sample. A zero timeout disables the corresponding check.
type Watchdog struct {
	mu sync.Mutex

	noOutput   time.Duration
	noProgress time.Duration
	interval   time.Duration

	started      time.Time
	lastProgress time.Time
	lines        int64

	state State
	clock clock
}

// Option customises a Watchdog.
type Option func(*Watchdog)

// WithInterval sets the evaluation tick.
func WithInterval(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.interval = d
		}
	}
}

// New creates a watchdog. The clock starts when Run is called.
func New(noOutput, noProgress time.Duration, opts ...Option) *Watchdog {
	w := &Watchdog{
		noOutput:   noOutput,
		noProgress: noProgress,
		interval:   DefaultInterval,
		clock:      realClock{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run evaluates deadlines until ctx is done or a deadline fires.
// A fired deadline returns ErrNoOutput or ErrNoProgress, both wrapping
// context.DeadlineExceeded. Cancellation returns nil.
func (w *Watchdog) Run(ctx context.Context) error {
	w.mu.Lock()
	now := w.clock.Now()
	w.started = now
	w.lastProgress = now
	w.state = StateStarting
	w.mu.Unlock()

	t := w.clock.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.state == StateStarting || w.state == StateRunning {
				w.state = StateStopped
			}
			w.mu.Unlock()
			return nil
		case <-t.C():
			if err := w.check(); err != nil {
				return err
			}
		}
	}
}

// ObserveOutput records that the process wrote a line.
func (w *Watchdog) ObserveOutput() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines++
	if w.state == StateStarting {
		w.state = StateRunning
	}
}

// ObserveProgress records a parsed progress sample and resets the no-progress deadline.
func (w *Watchdog) ObserveProgress() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastProgress = w.clock.Now()
}

func (w *Watchdog) check() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()

	if w.noOutput > 0 && w.lines == 0 {
		if idle := now.Sub(w.started); idle > w.noOutput {
			w.state = StateTimedOut
			return fmt.Errorf("%w for %s: %w", ErrNoOutput, idle.Truncate(time.Millisecond), context.DeadlineExceeded)
		}
	}
	if w.noProgress > 0 {
		if idle := now.Sub(w.lastProgress); idle > w.noProgress {
			w.state = StateStalled
			return fmt.Errorf("%w for %s: %w", ErrNoProgress, idle.Truncate(time.Millisecond), context.DeadlineExceeded)
		}
	}
	return nil
}

// State returns current watchdog state.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}
