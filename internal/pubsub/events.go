// Package pubsub provides a generic publish/subscribe event system used for
// log fan-out, wallet account changes and command log events.
package pubsub

import (
	"context"
	"time"
)

// EventType names what happened.
type EventType string

const (
	// LogWritten carries a formatted debug log line.
	LogWritten EventType = "log.written"
	// SignerChanged carries the newly active signing address.
	SignerChanged EventType = "signer.changed"
	// CommandFinished carries the outcome of an orchestration command.
	CommandFinished EventType = "command.finished"
)

// Event is a published payload stamped with its type and publish time.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Publisher publishes typed payloads and reports how many subscribers got them.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T) int
}

// Next blocks until the next event arrives on ch, ctx ends, or ch is closed.
// ok is false in the last two cases.
func Next[T any](ctx context.Context, ch <-chan Event[T]) (event Event[T], ok bool) {
	select {
	case <-ctx.Done():
		return event, false
	case event, ok = <-ch:
		return event, ok
	}
}
