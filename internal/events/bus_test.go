package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/birth-rectifier/backend/internal/storage/models"
)

func TestSubscribeReceivesOwnSessionEvents(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe("sess-1")
	defer cancel()

	bus.Publish(Event{SessionID: "sess-1", Type: TypeStateChanged, State: models.StateAwaitingAnswer})
	bus.Publish(Event{SessionID: "sess-2", Type: TypeStateChanged, State: models.StateComplete})

	select {
	case evt := <-ch:
		require.Equal(t, "sess-1", evt.SessionID)
		require.Equal(t, TypeStateChanged, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an event for the subscribed session")
	}

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event for session %s", evt.SessionID)
	default:
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe("sess-1")
	cancel()

	bus.Publish(Event{SessionID: "sess-1", Type: TypeAnswerApplied})

	select {
	case <-ch:
		t.Fatal("cancelled subscriber should not receive events")
	default:
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := NewBus()

	_, cancel := bus.Subscribe("sess-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{SessionID: "sess-1", Type: TypeAnswerApplied})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a subscriber that never drains")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus()

	ch1, cancel1 := bus.Subscribe("sess-1")
	defer cancel1()
	ch2, cancel2 := bus.Subscribe("sess-1")
	defer cancel2()

	bus.Publish(Event{SessionID: "sess-1", Type: TypeFinalized, Confidence: 93})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			require.Equal(t, TypeFinalized, evt.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the event")
		}
	}
}
