// Package hub fans live state out to connected push subscribers. The hub is
// transport-agnostic: each subscriber drains a bounded channel of envelopes,
// and the WebSocket layer owns the actual socket writes.
package hub

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Envelope is one framed push message.
type Envelope struct {
	Type    string `json:"type"` // "state", "event" or "status"
	Payload any    `json:"payload"`
}

// sessionBuffer bounds each subscriber's queue. A subscriber that cannot
// keep up is dropped rather than stalling the event pump; it reconnects
// and starts from a fresh snapshot.
const sessionBuffer = 64

// SnapshotFunc produces the full current state sent to every new subscriber.
type SnapshotFunc func() any

// Session is one subscriber's view of the hub.
type Session struct {
	id  uuid.UUID
	out chan Envelope
}

// Out is the subscriber's message stream. It is closed when the session is
// removed from the hub.
func (s *Session) Out() <-chan Envelope {
	return s.out
}

// ID identifies the session in logs.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Hub tracks subscribers and broadcasts envelopes to all of them.
type Hub struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	snapshot SnapshotFunc
	status   string
	log      *zap.SugaredLogger
}

func New(snapshot SnapshotFunc, log *zap.SugaredLogger) *Hub {
	return &Hub{
		sessions: make(map[uuid.UUID]*Session),
		snapshot: snapshot,
		status:   "connecting",
		log:      log,
	}
}

// Register adds a subscriber. Its queue is pre-seeded with the full state
// snapshot and the current connection status, so a client is consistent the
// moment it starts reading.
func (h *Hub) Register() *Session {
	s := &Session{
		id:  uuid.New(),
		out: make(chan Envelope, sessionBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	s.out <- Envelope{Type: "state", Payload: h.snapshot()}
	s.out <- Envelope{Type: "status", Payload: h.status}
	h.sessions[s.id] = s
	h.log.Debugw("subscriber registered", "session", s.id, "total", len(h.sessions))
	return s
}

// Unregister removes a subscriber and closes its stream. Safe to call twice.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.id]; !ok {
		return
	}
	delete(h.sessions, s.id)
	close(s.out)
}

// Broadcast sends an event envelope to every subscriber.
func (h *Hub) Broadcast(payload any) {
	h.send(Envelope{Type: "event", Payload: payload})
}

// SetStatus records the upstream connection status and pushes it to every
// subscriber. Repeated identical statuses are not rebroadcast.
func (h *Hub) SetStatus(status string) {
	h.mu.Lock()
	if h.status == status {
		h.mu.Unlock()
		return
	}
	h.status = status
	h.mu.Unlock()
	h.send(Envelope{Type: "status", Payload: status})
}

// Status returns the last status pushed via SetStatus.
func (h *Hub) Status() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Hub) send(env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.sessions {
		select {
		case s.out <- env:
		default:
			// Queue full: the subscriber is too slow to keep a consistent
			// view. Drop it; the closed stream tells it to reconnect.
			delete(h.sessions, id)
			close(s.out)
			h.log.Warnw("dropping slow subscriber", "session", id)
		}
	}
}
