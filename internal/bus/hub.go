// Package bus provides the in-process fan-out hub connecting the market
// streams, the strategy, and external observers.
//
// Publishing never blocks: every subscriber owns a bounded buffer and a
// slow subscriber only loses its own oldest unread events. The hub is an
// observability path by design; the ledger is never updated from it but
// from its own sequential, non-lossy applier channel.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/pourquoi/tradebot/internal/model"
	"github.com/pourquoi/tradebot/internal/strategy"
)

// Event is the tagged union carried by the hub: market data, a strategy
// action, or a ledger snapshot. Exactly one field is set.
type Event struct {
	Market *model.MarketEvent
	Action strategy.Action
	State  *model.StateSnapshot
}

// Subscription is one consumer's bounded view of the hub stream.
type Subscription struct {
	hub     *Hub
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// C returns the receive channel. It is closed when the hub closes or the
// subscription is cancelled.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped returns how many events this subscriber lost to overflow.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Cancel detaches the subscription from the hub.
func (s *Subscription) Cancel() {
	s.hub.unsubscribe(s)
}

// Hub is a multi-producer, multi-consumer broadcast channel.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewHub allocates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a consumer with the given buffer capacity.
func (h *Hub) Subscribe(capacity int) *Subscription {
	if capacity <= 0 {
		capacity = 1
	}
	sub := &Subscription{hub: h, ch: make(chan Event, capacity)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Publish fans the event out to every subscriber without blocking. When
// a subscriber's buffer is full its oldest unread event is dropped to
// make room.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		select {
		case sub.ch <- e:
			continue
		default:
		}
		// Full: evict the oldest, then retry once. A concurrent reader
		// may race the eviction, so the retry can still fail.
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
		default:
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Close detaches and closes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		sub.once.Do(func() { close(sub.ch) })
		delete(h.subs, sub)
	}
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		s.once.Do(func() { close(s.ch) })
	}
}
