package store

import (
	"context"
	"fmt"
)

// Message is a single live pub/sub delivery.
type Message struct {
	Channel string
	Payload string
}

// Stream is a live pub/sub read over a set of channels. The channel set
// can grow while the stream is open; closing the stream releases every
// subscription it holds.
type Stream interface {
	// Messages returns the delivery channel. It is closed when the
	// stream is closed.
	Messages() <-chan Message

	// Add subscribes the stream to additional channels.
	Add(ctx context.Context, channels ...string) error

	// Close releases all subscriptions held by the stream.
	Close() error
}

// Store is the slice of the backing store this service consumes:
// append-only lists for durable state and pub/sub for live delivery.
// An empty ListRange result and an absent key are indistinguishable.
type Store interface {
	ListAppend(ctx context.Context, key string, value string) error
	ListRange(ctx context.Context, key string) ([]string, error)
	Publish(ctx context.Context, channel string, message string) error
	Subscribe(ctx context.Context, channels ...string) (Stream, error)
	Ping(ctx context.Context) error
	Close() error
}

// Error wraps a failed store operation with enough context to identify
// the operation and key that failed.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Key: key, Err: err}
}
