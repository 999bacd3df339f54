package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/xgenc/internal/log"
	"github.com/ManuGH/xgenc/internal/metrics"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// DefaultStallTimeout is how long Publish waits on one full subscriber
// before evicting it.
const DefaultStallTimeout = 2 * time.Second

// ErrSlowSubscriber is reported when a subscriber was evicted because its
// buffer stayed full for the stall timeout.
var ErrSlowSubscriber = errors.New("subscriber too slow")

// MemoryBus is an in-memory pub/sub. It is not durable. Every subscriber
// either receives each message in publish order or has its channel closed;
// a subscriber that cannot keep up is evicted so it never holds back the
// others.
type MemoryBus[T any] struct {
	name         string
	buffer       int
	stallTimeout time.Duration

	mu   sync.RWMutex
	subs []*memSub[T]
}

// Option configures a MemoryBus.
type Option func(*options)

type options struct {
	stallTimeout time.Duration
}

// WithStallTimeout sets how long one full subscriber may block a publish.
func WithStallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.stallTimeout = d
		}
	}
}

const dropLogEvery = 100

var dropCount atomic.Uint64

// NewMemoryBus creates a bus. name labels drop metrics; buffer <= 0 uses DefaultBuffer.
func NewMemoryBus[T any](name string, buffer int, opts ...Option) *MemoryBus[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	o := options{stallTimeout: DefaultStallTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryBus[T]{name: name, buffer: buffer, stallTimeout: o.stallTimeout}
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, ErrSlowSubscriber):
		return "slow_subscriber"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

// Publish offers msg to every subscriber. Each full subscriber gets up to the
// stall timeout, bounded by ctx; one that does not accept msg in time is
// evicted and delivery continues with the rest.
func (b *MemoryBus[T]) Publish(ctx context.Context, msg T) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	var (
		evict []*memSub[T]
		errs  []error
	)
	// Read lock is held across sends so Close never closes a channel mid-send.
	b.mu.RLock()
	for _, s := range b.subs {
		if err := b.deliver(ctx, s, msg); err != nil {
			evict = append(evict, s)
			errs = append(errs, err)
		}
	}
	b.mu.RUnlock()

	for i, s := range evict {
		b.recordDrop(errs[i])
		_ = s.Close()
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish on %q: %w", b.name, errors.Join(errs...))
	}
	return nil
}

func (b *MemoryBus[T]) deliver(ctx context.Context, s *memSub[T], msg T) error {
	select {
	case s.ch <- msg:
		return nil
	case <-s.closing:
		return nil
	default:
	}

	timer := time.NewTimer(b.stallTimeout)
	defer timer.Stop()
	select {
	case s.ch <- msg:
		return nil
	case <-s.closing:
		return nil
	case <-timer.C:
		return ErrSlowSubscriber
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBus[T]) recordDrop(err error) {
	reason := publishDropReason(err)
	metrics.IncBusDropReason(b.name, reason)
	count := dropCount.Add(1)
	if count%dropLogEvery == 1 {
		log.L().Warn().
			Str("bus", b.name).
			Str("reason", reason).
			Uint64("dropped", count).
			Msg("event bus evicted a subscriber that stopped accepting messages")
	}
}

// Subscribe registers a new subscriber. The subscription is closed
// automatically when ctx is done.
func (b *MemoryBus[T]) Subscribe(ctx context.Context) (Subscriber[T], error) {
	if ctx == nil {
		return nil, fmt.Errorf("subscribe context is nil")
	}
	s := &memSub[T]{
		b:       b,
		ch:      make(chan T, b.buffer),
		closing: make(chan struct{}),
	}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	n := len(b.subs)
	b.mu.Unlock()
	metrics.BusSubscribers.WithLabelValues(b.name).Set(float64(n))

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = s.Close()
			case <-s.closing:
			}
		}()
	}
	return s, nil
}

// Subscribers returns the number of active subscriptions.
func (b *MemoryBus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

type memSub[T any] struct {
	b       *MemoryBus[T]
	ch      chan T
	closing chan struct{}
	once    sync.Once
}

func (s *memSub[T]) C() <-chan T {
	return s.ch
}

func (s *memSub[T]) Close() error {
	s.once.Do(func() {
		// Unblock any in-flight Publish before taking the write lock.
		close(s.closing)

		s.b.mu.Lock()
		out := s.b.subs[:0]
		for _, c := range s.b.subs {
			if c != s {
				out = append(out, c)
			}
		}
		for i := len(out); i < len(s.b.subs); i++ {
			s.b.subs[i] = nil
		}
		s.b.subs = out
		n := len(out)
		close(s.ch)
		s.b.mu.Unlock()
		metrics.BusSubscribers.WithLabelValues(s.b.name).Set(float64(n))
	})
	return nil
}

var _ Bus[struct{}] = (*MemoryBus[struct{}])(nil)
