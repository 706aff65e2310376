// Package pubsub publishes committed instance changes to in-process subscribers.
package pubsub

import (
	"context"
	"time"
)

// EventType is the coarse lifecycle phase of a published change.
type EventType string

const (
	CreatedEvent    EventType = "created"
	UpdatedEvent    EventType = "updated"
	DeletedEvent    EventType = "deleted"
	RestoredEvent   EventType = "restored"
	PurgedEvent     EventType = "purged"
	ReplicatedEvent EventType = "replicated"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
