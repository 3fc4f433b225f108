// Package streaming provides in-memory pub/sub for per-session progress
// events, with a bounded replay buffer backing SSE Last-Event-ID resume.
package streaming

import (
	"encoding/json"
	"sync"
	"time"
)

const defaultCapacity = 256

// Event is one progress update for a session.
type Event struct {
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Marshal returns the event JSON for SSE payloads.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager fans events out to session subscribers and retains a per-session
// ring for replay. Construct one per process and inject it; there is no
// global instance so tests can substitute their own.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe registers a buffered channel for sessionID. The caller must
// drain it and call Unsubscribe when done.
func (m *Manager) Subscribe(sessionID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[sessionID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes the channel.
func (m *Manager) Unsubscribe(sessionID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[sessionID]; ok {
		if _, present := subs[ch]; present {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(m.subscribers, sessionID)
		}
	}
}

// Publish assigns the next sequence number, records the event for replay and
// delivers it to every subscriber. Slow subscribers drop events rather than
// block the publisher.
func (m *Manager) Publish(sessionID string, evt Event) {
	evt.SessionID = sessionID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	m.mu.Lock()
	rg := m.history[sessionID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[sessionID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	// Delivery stays under the lock: sends are non-blocking, and holding it
	// keeps Unsubscribe from closing a channel mid-send.
	for ch := range m.subscribers[sessionID] {
		select {
		case ch <- evt:
		default:
		}
	}
	m.mu.Unlock()
}

// ReplaySince returns retained events with Seq > since, oldest first.
func (m *Manager) ReplaySince(sessionID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[sessionID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Drop discards the replay history for a finished session.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	delete(m.history, sessionID)
	m.mu.Unlock()
}

// ring is a fixed-capacity buffer of recent events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

// Sequence numbers start at 1 so ReplaySince(0) returns the full history.
func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity), nextSeq: 1} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
