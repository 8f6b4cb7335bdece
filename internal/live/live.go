// Package live fans incoming live-query notifications out to per-
// subscription consumer streams. Each subscription id owns a list of
// sinks; delivery to a sink never blocks the router. Sink buffers are
// bounded; on overflow the oldest buffered notification is dropped and
// a missed counter increments.
package live

import (
	"sync"
	"sync/atomic"

	"github.com/steveyegge/surgo/internal/debug"
	"github.com/steveyegge/surgo/internal/proto"
)

// DefaultBuffer is the per-sink buffer size when none is configured.
const DefaultBuffer = 64

// Stream is the consumer end of one sink. Notifications arrive in the
// order the server produced them for the subscription; the channel is
// closed when the subscription dies (kill, server close, or transport
// disconnect).
type Stream struct {
	ch     chan proto.Notification
	missed atomic.Int64

	closeMu sync.Mutex
	closed  bool
}

// Ch returns the notification channel.
func (s *Stream) Ch() <-chan proto.Notification { return s.ch }

// Missed reports how many notifications were dropped because the
// consumer fell behind the sink buffer.
func (s *Stream) Missed() int64 { return s.missed.Load() }

// deliver enqueues n, evicting the oldest buffered item when full.
func (s *Stream) deliver(n proto.Notification) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- n:
			return
		default:
		}
		select {
		case <-s.ch:
			s.missed.Add(1)
			debug.Logf("live: sink for %s overflowed, dropped oldest", n.ID)
		default:
		}
	}
}

// finish closes the channel. A finished stream yields no further items.
func (s *Stream) finish() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Mux is the per-subscription fan-out registry.
type Mux struct {
	mu      sync.RWMutex
	subs    map[string][]*Stream
	bufSize int
}

// NewMux builds a multiplexer. bufSize <= 0 selects DefaultBuffer.
func NewMux(bufSize int) *Mux {
	if bufSize <= 0 {
		bufSize = DefaultBuffer
	}
	return &Mux{subs: map[string][]*Stream{}, bufSize: bufSize}
}

// Register appends a new sink for id, creating the subscription entry
// if absent, and returns the consumer end.
func (m *Mux) Register(id string) *Stream {
	s := &Stream{ch: make(chan proto.Notification, m.bufSize)}
	m.mu.Lock()
	m.subs[id] = append(m.subs[id], s)
	m.mu.Unlock()
	return s
}

// Has reports whether id has at least one registered sink.
func (m *Mux) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[id]) > 0
}

// Dispatch broadcasts n to every sink registered for its subscription
// id. A close action is delivered as the final item, then every sink is
// finished and the entry dropped.
func (m *Mux) Dispatch(n proto.Notification) {
	m.mu.RLock()
	sinks := m.subs[n.ID]
	m.mu.RUnlock()
	if len(sinks) == 0 {
		debug.Logf("live: dropping notification for unknown subscription %s", n.ID)
		return
	}
	for _, s := range sinks {
		s.deliver(n)
	}
	if n.Action == proto.ActionClose {
		m.CloseID(n.ID)
	}
}

// CloseID finishes every sink for id and removes the entry.
func (m *Mux) CloseID(id string) {
	m.mu.Lock()
	sinks := m.subs[id]
	delete(m.subs, id)
	m.mu.Unlock()
	for _, s := range sinks {
		s.finish()
	}
}

// CloseAll finishes every sink across all ids. Invoked on disconnect:
// the server forgets live queries when the connection drops, so the
// streams end without a final close notification.
func (m *Mux) CloseAll() {
	m.mu.Lock()
	subs := m.subs
	m.subs = map[string][]*Stream{}
	m.mu.Unlock()
	for _, sinks := range subs {
		for _, s := range sinks {
			s.finish()
		}
	}
}

// IDs returns the currently registered subscription ids.
func (m *Mux) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	return ids
}
