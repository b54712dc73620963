// Package cachebus carries cache-invalidation events from the filesystem
// facade to whichever caches subscribed: the signed-URL cache, driver
// metadata caches, the GitHub release cache. Delivery is asynchronous and
// best-effort; subscribers that fall behind lose events and rely on TTL
// expiry instead.
package cachebus

import (
	"context"
	"sync"

	"github.com/vfsgate/vfsgate/internal/dcontext"
)

// Event describes a mutation that may have invalidated cached state.
type Event struct {
	MountID         string
	StorageConfigID string
	// Paths are the virtual paths the mutation touched (destination paths
	// included for copy/rename).
	Paths  []string
	Reason string
}

// Reasons, for log legibility.
const (
	ReasonUpload = "upload"
	ReasonMkdir  = "mkdir"
	ReasonRemove = "remove"
	ReasonRename = "rename"
	ReasonCopy   = "copy"
	ReasonConfig = "config"
)

// Subscriber receives events. Handle must not block; subscribers needing
// slow work queue it internally.
type Subscriber interface {
	Handle(ev Event)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(ev Event)

func (f SubscriberFunc) Handle(ev Event) { f(ev) }

const subscriberQueue = 128

// Bus is a process-wide fan-out of invalidation events. The zero value is
// not usable; construct with New and close with Close at shutdown.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	closed bool
}

// New returns a started bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a subscriber and starts its delivery goroutine.
func (b *Bus) Subscribe(s Subscriber) {
	ch := make(chan Event, subscriberQueue)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	go func() {
		for ev := range ch {
			s.Handle(ev)
		}
	}()
}

// Publish delivers ev to every subscriber without blocking the caller. A
// full subscriber queue drops the event.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			dcontext.GetLogger(ctx).Debugf("cachebus: dropping %s event for mount %s (subscriber backlogged)", ev.Reason, ev.MountID)
		}
	}
}

// Close stops delivery. Pending queued events are still drained.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
