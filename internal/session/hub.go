package session

import (
	"sync"

	"chronicle/internal/events"
)

// Hub fans ingested events out to per-session subscribers. Slow consumers
// drop events rather than block the ingest path; they recover by re-reading
// the ledger from their last seen sequence.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan events.Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[chan events.Event]struct{}{}}
}

func (h *Hub) Subscribe(sessionID string, buf int) (<-chan events.Event, func()) {
	ch := make(chan events.Event, buf)
	h.mu.Lock()
	if _, ok := h.subs[sessionID]; !ok {
		h.subs[sessionID] = map[chan events.Event]struct{}{}
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()
	unsub := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sessionSubs, ok := h.subs[sessionID]; ok {
			delete(sessionSubs, ch)
			close(ch)
			if len(sessionSubs) == 0 {
				delete(h.subs, sessionID)
			}
		}
	}
	return ch, unsub
}

func (h *Hub) Publish(ev events.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
