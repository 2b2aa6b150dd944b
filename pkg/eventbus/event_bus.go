// Package eventbus provides event-driven communication infrastructure for
// run triggering and progress streaming.
package eventbus

import (
	"context"

	"github.com/cadenza-io/cadenza/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler)
	Subscribe(ctx context.Context, topic string) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
