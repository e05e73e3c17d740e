// Package events fans change events out to live subscribers.
package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/loykin/testboard/internal/metrics"
	"github.com/loykin/testboard/internal/watch"
)

// Policy decides what happens to a subscriber whose buffer is full.
type Policy int

const (
	// Disconnect closes the subscriber's channel and removes it; the client is
	// expected to reconnect and refetch current state.
	Disconnect Policy = iota
	// Drop skips the event for that subscriber only.
	Drop
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Options configures a Broker.
type Options struct {
	Buffer int
	Policy Policy
	Logger *slog.Logger
}

// Subscription is a handle returned by Subscribe. C is closed when the subscription
// ends, either through Unsubscribe, Close or a Disconnect of a slow reader.
type Subscription struct {
	ID string
	C  <-chan watch.ChangeEvent

	ch chan watch.ChangeEvent
}

// Broker is an in-process pub/sub for watch.ChangeEvent. Publish never blocks.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	buffer int
	policy Policy
	closed bool
	log    *slog.Logger
}

func NewBroker(opts Options) *Broker {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Broker{
		subs:   make(map[string]*Subscription),
		buffer: opts.Buffer,
		policy: opts.Policy,
		log:    opts.Logger,
	}
}

// Subscribe registers a new subscriber. On a closed broker the returned channel is
// already closed.
func (b *Broker) Subscribe() *Subscription {
	ch := make(chan watch.ChangeEvent, b.buffer)
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub.ID] = sub
	metrics.SetSubscribers(len(b.subs))
	return sub
}

// Unsubscribe removes sub and closes its channel. Unknown or already removed
// subscriptions are ignored.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub.ID)
}

func (b *Broker) removeLocked(id string) {
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
	metrics.SetSubscribers(len(b.subs))
}

// Publish delivers ev to every subscriber without blocking. Holding the lock across
// the fan-out keeps each subscriber's stream in publish order.
func (b *Broker) Publish(ev watch.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	metrics.IncPublished()
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			metrics.IncDropped()
			if b.policy == Disconnect {
				b.log.Warn("disconnecting slow subscriber", "subscriber", id)
				b.removeLocked(id)
			}
		}
	}
}

// Len reports the number of live subscribers.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Closed reports whether Close was called.
func (b *Broker) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close ends every subscription; later publishes are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id := range b.subs {
		b.removeLocked(id)
	}
}
