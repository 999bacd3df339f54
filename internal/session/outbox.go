// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"sync"

	"github.com/ManuGH/xgenc/internal/session/model"
)

// outbox is an unbounded FIFO between the session (which appends under its
// own lock) and the single goroutine that publishes to the bus. Appends
// never block, so no session lock is held while a subscriber is slow.
type outbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []model.Event
	closed bool
}

func newOutbox() *outbox {
	o := &outbox{}
	o.cond = sync.NewCond(&o.mu)
	return o
}

func (o *outbox) push(ev model.Event) {
	o.mu.Lock()
	if !o.closed {
		o.queue = append(o.queue, ev)
	}
	o.mu.Unlock()
	o.cond.Signal()
}

// close stops accepting events. Already queued events are still returned by next.
func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cond.Broadcast()
}

// next blocks until an event is available. It returns false once the outbox
// is closed and drained.
func (o *outbox) next() (model.Event, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.queue) == 0 && !o.closed {
		o.cond.Wait()
	}
	if len(o.queue) == 0 {
		return model.Event{}, false
	}
	ev := o.queue[0]
	o.queue[0] = model.Event{}
	o.queue = o.queue[1:]
	return ev, true
}
