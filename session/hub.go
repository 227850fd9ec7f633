package session

import "sync"

// Hub broadcasts state changes to subscribers. Slow subscribers drop
// updates rather than block the state machine.
type Hub struct {
	mu   sync.Mutex
	subs map[int]chan State
	next int
}

func newHub() *Hub {
	return &Hub{subs: make(map[int]chan State)}
}

// Subscribe registers a listener and returns its channel together with an
// unsubscribe handle. Unsubscribing closes the channel; calling the
// handle twice is safe.
func (h *Hub) Subscribe() (<-chan State, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++

	ch := make(chan State, 8)
	h.subs[id] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}

	return ch, unsubscribe
}

func (h *Hub) publish(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		select {
		case sub <- s:
		default:
			// subscriber is behind; it will catch up on the next change.
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub)
	}
}
