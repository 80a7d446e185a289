package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	a, unsubA := hub.Subscribe(4)
	b, unsubB := hub.Subscribe(4)
	defer unsubA()
	defer unsubB()

	hub.Publish(Event{Type: TypeFill, OrderID: "ord-1", Symbol: "AAPL"})

	evA := <-a
	evB := <-b
	assert.Equal(t, TypeFill, evA.Type)
	assert.Equal(t, "ord-1", evA.OrderID)
	assert.Equal(t, evA, evB)
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, unsub := hub.Subscribe(1)
	unsub()

	_, open := <-ch
	assert.False(t, open, "unsubscribe must close the channel")

	// Unsubscribing twice is harmless.
	unsub()

	// Publishing after unsubscribe must not panic.
	hub.Publish(Event{Type: TypeTradeUpdate})
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	ch, unsub := hub.Subscribe(1)
	defer unsub()

	hub.Publish(Event{Type: TypeTriggerHit, OrderID: "ord-1"})
	hub.Publish(Event{Type: TypeTriggerHit, OrderID: "ord-2"}) // buffer full, dropped

	ev := <-ch
	assert.Equal(t, "ord-1", ev.OrderID)

	select {
	case extra := <-ch:
		t.Fatalf("expected second event to be dropped, got %+v", extra)
	default:
	}
}

func TestHubConcurrentPublish(t *testing.T) {
	hub := NewHub()
	ch, unsub := hub.Subscribe(128)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(Event{Type: TypeTradeUpdate})
		}
		close(done)
	}()
	<-done

	require.Len(t, ch, 100)
}
