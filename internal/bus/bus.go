// Package bus provides in-process fan-out of events to subscribers.
package bus

import "context"

// Publisher delivers a message to every current subscriber.
type Publisher[T any] interface {
	Publish(ctx context.Context, msg T) error
}

// Subscriber receives messages on C until Close is called.
type Subscriber[T any] interface {
	C() <-chan T
	Close() error
}

// Bus is a Publisher that accepts subscriptions.
type Bus[T any] interface {
	Publisher[T]
	Subscribe(ctx context.Context) (Subscriber[T], error)
}
