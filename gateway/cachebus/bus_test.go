package cachebus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	got1 := make(chan Event, 1)
	got2 := make(chan Event, 1)
	bus.Subscribe(SubscriberFunc(func(ev Event) { got1 <- ev }))
	bus.Subscribe(SubscriberFunc(func(ev Event) { got2 <- ev }))

	ev := Event{MountID: "m1", StorageConfigID: "c1", Paths: []string{"/a"}, Reason: ReasonUpload}
	bus.Publish(context.Background(), ev)

	for _, ch := range []chan Event{got1, got2} {
		select {
		case received := <-ch:
			assert.Equal(t, ev, received)
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber never received the event")
		}
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	bus := New()
	got := make(chan Event, 1)
	bus.Subscribe(SubscriberFunc(func(ev Event) { got <- ev }))
	bus.Close()

	bus.Publish(context.Background(), Event{Reason: ReasonRemove})

	select {
	case <-got:
		t.Fatal("event delivered after close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAfterCloseIsNoop(t *testing.T) {
	bus := New()
	bus.Close()
	require.NotPanics(t, func() {
		bus.Subscribe(SubscriberFunc(func(Event) {}))
		bus.Publish(context.Background(), Event{})
	})
}

func TestCloseTwice(t *testing.T) {
	bus := New()
	bus.Close()
	require.NotPanics(t, bus.Close)
}
