// Package sse fans dispatch progress out to the browser tabs of each
// operator as server-sent events.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Event is one server-sent event. Data is encoded as JSON.
type Event struct {
	Name string
	Data any
}

// WriteTo writes e in the text/event-stream framing.
func (e Event) WriteTo(w io.Writer) (int64, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return 0, fmt.Errorf("encode event %s: %w", e.Name, err)
	}
	n, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Name, data)
	return int64(n), err
}

type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a listener for operator. The returned func removes
// it and closes the channel.
func (h *Hub) Subscribe(operator string) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	if _, ok := h.subs[operator]; !ok {
		h.subs[operator] = make(map[chan Event]struct{})
	}
	h.subs[operator][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if subscribers, ok := h.subs[operator]; ok {
				delete(subscribers, ch)
				if len(subscribers) == 0 {
					delete(h.subs, operator)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers event to every listener of operator. Slow listeners
// miss events rather than stall the dispatch run.
func (h *Hub) Publish(operator string, event Event) {
	if operator == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[operator] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *Hub) Subscribers(operator string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[operator])
}
