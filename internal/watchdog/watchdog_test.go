package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClock struct {
	mu           sync.Mutex
	now          time.Time
	latestTicker *mockTicker
}

func (m *mockClock) Now() time.Time { m.mu.Lock(); defer m.mu.Unlock(); return m.now }
func (m *mockClock) NewTicker(d time.Duration) ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestTicker = &mockTicker{c: make(chan time.Time)}
	return m.latestTicker
}

func (m *mockClock) advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

type mockTicker struct {
	c chan time.Time
}

func (m *mockTicker) C() <-chan time.Time { return m.c }
func (m *mockTicker) Stop()               {}

// start runs w with a mock clock and returns the error channel and the ticker.
func start(t *testing.T, w *Watchdog) (*mockClock, *mockTicker, <-chan error, context.CancelFunc) {
	t.Helper()
	clock := &mockClock{now: time.Unix(1_700_000_000, 0)}
	w.clock = clock

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	var tk *mockTicker
	require.Eventually(t, func() bool {
		clock.mu.Lock()
		defer clock.mu.Unlock()
		tk = clock.latestTicker
		return tk != nil
	}, time.Second, time.Millisecond)
	return clock, tk, errCh, cancel
}

func TestWatchdog_NoOutputTimeout(t *testing.T) {
	w := New(2*time.Second, 0)
	clock, tk, errCh, _ := start(t, w)

	clock.advance(1 * time.Second)
	tk.c <- clock.Now()
	assert.Equal(t, StateStarting, w.State())

	clock.advance(2 * time.Second)
	tk.c <- clock.Now()

	err := <-errCh
	assert.ErrorIs(t, err, ErrNoOutput)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateTimedOut, w.State())
}

func TestWatchdog_OutputDisarmsNoOutput(t *testing.T) {
	w := New(2*time.Second, 0)
	clock, tk, errCh, cancel := start(t, w)

	w.ObserveOutput()
	assert.Equal(t, StateRunning, w.State())

	clock.advance(10 * time.Second)
	tk.c <- clock.Now()

	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, StateStopped, w.State())
}

func TestWatchdog_NoProgressTimeout(t *testing.T) {
	w := New(0, 5*time.Second)
	clock, tk, errCh, _ := start(t, w)

	// Output without progress does not reset the progress deadline.
	w.ObserveOutput()
	clock.advance(3 * time.Second)
	w.ObserveProgress()
	tk.c <- clock.Now()

	clock.advance(4 * time.Second)
	w.ObserveOutput()
	tk.c <- clock.Now()

	clock.advance(2 * time.Second)
	tk.c <- clock.Now()

	err := <-errCh
	assert.ErrorIs(t, err, ErrNoProgress)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateStalled, w.State())
}

func TestWatchdog_DisabledChecks(t *testing.T) {
	w := New(0, 0)
	clock, tk, errCh, cancel := start(t, w)

	clock.advance(24 * time.Hour)
	tk.c <- clock.Now()
	cancel()
	require.NoError(t, <-errCh)
}

func TestWatchdog_RealClockInterval(t *testing.T) {
	w := New(30*time.Millisecond, 0, WithInterval(5*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := w.Run(ctx)
	require.ErrorIs(t, err, ErrNoOutput)
}
