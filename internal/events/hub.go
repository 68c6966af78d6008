// Package events fans verified webhook events out to each agent's live
// stream. Streams are isolated per agent: a subscriber only ever sees its
// own agent's events.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"` // JSON payload
}

// Hub is an in-memory per-agent pub/sub with a small ring buffer for late
// clients.
type Hub struct {
	nextID atomic.Int64

	capacity int

	mu      sync.Mutex
	streams map[string]*stream
}

type stream struct {
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		capacity: capacity,
		streams:  make(map[string]*stream),
	}
}

// Broadcast publishes an event to one agent's stream. Slow subscribers are
// skipped rather than blocking the pipeline.
func (h *Hub) Broadcast(agentID, eventType string, data any) {
	id := h.nextID.Add(1)

	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:   id,
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	st := h.streamLocked(agentID)
	st.pushLocked(ev)
	for _, ch := range st.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe attaches to one agent's stream. The returned cancel func must be
// called to release the subscription.
func (h *Hub) Subscribe(agentID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.streamLocked(agentID)
	id := st.nextSubID
	st.nextSubID++
	ch := make(chan Event, 64)
	st.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := st.subs[id]; ok {
			delete(st.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// SnapshotSince returns an agent's buffered events with ID > lastID,
// oldest-first. If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(agentID string, lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.streams[agentID]
	if !ok {
		return nil
	}

	out := make([]Event, 0, st.size)
	for i := 0; i < st.size; i++ {
		ev := st.ring[(st.start+i)%len(st.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) streamLocked(agentID string) *stream {
	st, ok := h.streams[agentID]
	if !ok {
		st = &stream{
			ring: make([]Event, h.capacity),
			subs: make(map[int]chan Event),
		}
		h.streams[agentID] = st
	}
	return st
}

func (st *stream) pushLocked(ev Event) {
	capacity := len(st.ring)
	if capacity == 0 {
		return
	}

	if st.size < capacity {
		idx := (st.start + st.size) % capacity
		st.ring[idx] = ev
		st.size++
		return
	}

	// Overwrite oldest.
	st.ring[st.start] = ev
	st.start = (st.start + 1) % capacity
}
