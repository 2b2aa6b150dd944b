// Package progress turns node and run transitions into a per-run ordered
// event stream. The publisher assigns each run a monotonically increasing
// sequence, forwards events to the event bus and fans them out to in-process
// subscribers. Subscribers get bounded buffers with drop-oldest overflow so
// a slow consumer never blocks the scheduler.
package progress

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cadenza-io/cadenza/pkg/eventbus"
	"github.com/cadenza-io/cadenza/pkg/events"
)

const subscriberBuffer = 64

// Sequenced is any event that can carry a per-run sequence number. All
// events embedding events.BaseEvent satisfy it through their pointer type.
type Sequenced interface {
	eventbus.Event
	SetSequence(seq uint64)
}

type subscriber struct {
	runID string
	ch    chan eventbus.Event
}

type Publisher struct {
	logger *slog.Logger
	bus    eventbus.EventPublisher

	mu          sync.Mutex
	sequences   map[string]uint64
	subscribers map[string][]*subscriber
}

// NewPublisher builds a progress publisher. The bus may be nil, in which
// case events only reach in-process subscribers.
func NewPublisher(logger *slog.Logger, bus eventbus.EventPublisher) *Publisher {
	return &Publisher{
		logger:      logger.With("module", "progress"),
		bus:         bus,
		sequences:   make(map[string]uint64),
		subscribers: make(map[string][]*subscriber),
	}
}

// Publish assigns the next sequence for the event's run and delivers it.
// The per-run lock is held across assignment and fan-out, so subscribers
// observe events for one run in sequence order: per node that means
// started, then progress, then the terminal event.
func (p *Publisher) Publish(ctx context.Context, runID string, event Sequenced) {
	p.mu.Lock()

	p.sequences[runID]++
	event.SetSequence(p.sequences[runID])

	for _, sub := range p.subscribers[runID] {
		deliver(sub.ch, event)
	}

	p.mu.Unlock()

	if p.bus == nil {
		return
	}

	if err := p.bus.Publish(ctx, events.ProgressTopic, runID, event); err != nil {
		p.logger.ErrorContext(ctx, "Failed to publish progress event",
			"run_id", runID, "event_type", event.GetType(), "error", err)
	}
}

// Subscribe returns a live feed of the run's events starting now; no
// history is replayed. The returned cancel function releases the
// subscription and closes the channel.
func (p *Publisher) Subscribe(runID string) (<-chan eventbus.Event, func()) {
	sub := &subscriber{runID: runID, ch: make(chan eventbus.Event, subscriberBuffer)}

	p.mu.Lock()
	p.subscribers[runID] = append(p.subscribers[runID], sub)
	p.mu.Unlock()

	return sub.ch, func() { p.unsubscribe(sub) }
}

func (p *Publisher) unsubscribe(sub *subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subscribers[sub.runID]
	for i, candidate := range subs {
		if candidate == sub {
			p.subscribers[sub.runID] = append(subs[:i], subs[i+1:]...)
			close(sub.ch)

			break
		}
	}

	if len(p.subscribers[sub.runID]) == 0 {
		delete(p.subscribers, sub.runID)
	}
}

// Forget drops the sequence counter of a finished run.
func (p *Publisher) Forget(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.sequences, runID)
}

// deliver pushes without blocking: when the buffer is full the oldest
// buffered event is dropped to make room.
func deliver(ch chan eventbus.Event, event eventbus.Event) {
	select {
	case ch <- event:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- event:
	default:
	}
}
