// Package events carries engine state transitions to subscribers (the UI
// layer) over an in-process broadcast hub. The UI is a pure subscriber: it
// can observe every transition but never drives the state machine.
package events

import "sync"

// Type names a broadcast event.
type Type string

const (
	TypeFill           Type = "fill"
	TypeProfitPlaced   Type = "profit_placed"
	TypeProfitFailed   Type = "profit_failed"
	TypeBracketPlaced  Type = "bracket_placed"
	TypeBracketFailed  Type = "bracket_failed"
	TypeTriggerHit     Type = "trigger_hit"
	TypeTradeUpdate    Type = "trade_update"
	TypeFillTimeout    Type = "fill_timeout"
	TypeTriggerTimeout Type = "trigger_timeout"
)

// Event is one state transition published to subscribers. Fields carries
// event-specific detail (prices, exit order ids, errors).
type Event struct {
	Type    Type                   `json:"type"`
	OrderID string                 `json:"order_id,omitempty"`
	Symbol  string                 `json:"symbol,omitempty"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// Hub is a lightweight broadcast broker over channels. Every subscriber
// receives every event; publishing never blocks the engine.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

// NewHub creates an event hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, buffer)
	h.subs[id] = ch

	unsub := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, unsub
}

// Publish fans the event out to all subscribers. A subscriber whose buffer
// is full misses the event; the broker stays non-blocking.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// drop for slow subscribers
		}
	}
}
