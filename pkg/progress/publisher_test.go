package progress

import (
	"fmt"
	"log/slog"
	"testing"

	"github.com/cadenza-io/cadenza/pkg/eventbus"
	"github.com/cadenza-io/cadenza/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAssignsPerRunSequence(t *testing.T) {
	publisher := NewPublisher(slog.Default(), nil)

	feed, cancel := publisher.Subscribe("r1")
	defer cancel()

	started := &events.NodeStarted{BaseEvent: events.NewBaseEvent(events.NodeStartedEvent, "r1"), NodeID: "fetch_recording"}
	completed := &events.NodeCompleted{BaseEvent: events.NewBaseEvent(events.NodeCompletedEvent, "r1"), NodeID: "fetch_recording"}
	other := &events.NodeStarted{BaseEvent: events.NewBaseEvent(events.NodeStartedEvent, "r2"), NodeID: "fetch_recording"}

	publisher.Publish(t.Context(), "r1", started)
	publisher.Publish(t.Context(), "r2", other)
	publisher.Publish(t.Context(), "r1", completed)

	assert.Equal(t, uint64(1), started.Sequence)
	assert.Equal(t, uint64(2), completed.Sequence)
	assert.Equal(t, uint64(1), other.Sequence, "sequences are per run")

	first := <-feed
	second := <-feed
	assert.Equal(t, events.NodeStartedEvent, first.GetType())
	assert.Equal(t, events.NodeCompletedEvent, second.GetType())
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	publisher := NewPublisher(slog.Default(), nil)

	feed, cancel := publisher.Subscribe("r1")
	defer cancel()

	total := subscriberBuffer + 10
	published := make([]*events.NodeProgress, 0, total)

	for i := 0; i < total; i++ {
		event := &events.NodeProgress{
			BaseEvent: events.NewBaseEvent(events.NodeProgressEvent, "r1"),
			NodeID:    fmt.Sprintf("node-%d", i),
		}
		publisher.Publish(t.Context(), "r1", event)
		published = append(published, event)
	}

	// The buffer holds the newest events; the oldest were dropped and the
	// relative order of the survivors is preserved.
	var received []eventbus.Event

	for {
		select {
		case event := <-feed:
			received = append(received, event)

			continue
		default:
		}

		break
	}

	require.Len(t, received, subscriberBuffer)

	last := received[len(received)-1].(*events.NodeProgress)
	assert.Equal(t, published[total-1].NodeID, last.NodeID)

	previous := uint64(0)
	for _, raw := range received {
		event := raw.(*events.NodeProgress)
		assert.Greater(t, event.Sequence, previous)
		previous = event.Sequence
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	publisher := NewPublisher(slog.Default(), nil)

	feed, cancel := publisher.Subscribe("r1")
	cancel()

	_, open := <-feed
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	publisher.Publish(t.Context(), "r1", &events.NodeStarted{
		BaseEvent: events.NewBaseEvent(events.NodeStartedEvent, "r1"),
	})
}
