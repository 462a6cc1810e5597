// Package supervisor owns the manager connection lifecycle: it dials,
// resyncs derived state after every (re)connect, pumps events into the
// aggregator, and backs off exponentially between attempts.
package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gonopbx/pbxadmin/internal/ami"
	"github.com/gonopbx/pbxadmin/internal/live"
)

// Conn is the slice of the manager client the supervisor drives. *ami.Client
// satisfies it; tests substitute a fake.
type Conn interface {
	Execute(ctx context.Context, action string, params map[string]string) (ami.Event, error)
	Events() <-chan ami.Event
	Close() error
}

// ConnectFunc dials and authenticates one manager session.
type ConnectFunc func(ctx context.Context) (Conn, error)

// Connection status values pushed to subscribers. Degraded is a standing
// condition, not a one-shot error: it stays visible until a session comes up.
const (
	StatusConnecting = "connecting"
	StatusConnected  = "connected"
	StatusDegraded   = "degraded"
)

const (
	minBackoff    = time.Second
	maxBackoff    = 30 * time.Second
	sweepInterval = time.Second
)

// resyncActions enumerate current switch state after a reconnect. Their
// replies arrive as events and flow through the aggregator like live ones.
var resyncActions = []string{
	"PJSIPShowContacts",
	"PJSIPShowRegistrationsOutbound",
	"CoreShowChannels",
}

// Sink receives the supervisor's output: state changes, connection status
// transitions, and the raw event stream itself. *hub.Hub wired through thin
// closures satisfies it. Event fires for every event a session delivers,
// whether or not it moved any aggregated state.
type Sink struct {
	Change func(live.Change)
	Status func(string)
	Event  func(ami.Event)
}

type Supervisor struct {
	connect ConnectFunc
	agg     *live.Aggregator
	sink    Sink
	log     *zap.SugaredLogger

	mu   sync.Mutex
	conn Conn // nil while disconnected
}

func New(connect ConnectFunc, agg *live.Aggregator, sink Sink, log *zap.SugaredLogger) *Supervisor {
	if sink.Change == nil {
		sink.Change = func(live.Change) {}
	}
	if sink.Status == nil {
		sink.Status = func(string) {}
	}
	if sink.Event == nil {
		sink.Event = func(ami.Event) {}
	}
	return &Supervisor{
		connect: connect,
		agg:     agg,
		sink:    sink,
		log:     log,
	}
}

// Run drives the connect/pump/backoff loop until the context is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		s.sink.Status(StatusConnecting)
		conn, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warnw("manager connect failed", "error", err, "retry_in", backoff)
			s.sink.Status(StatusDegraded)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff

		s.setConn(conn)
		s.agg.Reset()
		s.resync(ctx, conn)
		s.sink.Status(StatusConnected)
		s.log.Infow("manager session established")

		err = s.pump(ctx, conn)
		s.setConn(nil)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		s.sink.Status(StatusDegraded)
		s.log.Warnw("manager session lost", "error", err, "retry_in", backoff)
		if !sleep(ctx, backoff) {
			return nil
		}
		backoff = nextBackoff(backoff)
	}
}

// Execute forwards an action to the current session. Callers get
// ErrConnectionLost immediately while disconnected instead of queueing.
func (s *Supervisor) Execute(ctx context.Context, action string, params map[string]string) (ami.Event, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ami.Event{}, ami.ErrConnectionLost
	}
	return conn.Execute(ctx, action, params)
}

func (s *Supervisor) setConn(conn Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// resync asks the switch to enumerate its current state. Failures are
// logged, not fatal: the live event stream converges on its own.
func (s *Supervisor) resync(ctx context.Context, conn Conn) {
	for _, action := range resyncActions {
		if _, err := conn.Execute(ctx, action, nil); err != nil {
			s.log.Warnw("resync action failed", "action", action, "error", err)
		}
	}
}

func (s *Supervisor) pump(ctx context.Context, conn Conn) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-conn.Events():
			if !ok {
				return ami.ErrConnectionLost
			}
			s.sink.Event(evt)
			for _, change := range s.agg.Apply(evt) {
				s.sink.Change(change)
			}
		case now := <-ticker.C:
			s.agg.Sweep(now)
		case <-ctx.Done():
			return nil
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
