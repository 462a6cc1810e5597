package ami

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultExecuteTimeout = 5 * time.Second

// Options configures a Client.
type Options struct {
	Host     string
	Port     int
	Username string
	Secret   string

	// ExecuteTimeout bounds each Execute call. Defaults to 5s.
	ExecuteTimeout time.Duration

	// EventBuffer is the capacity of the Events channel. Defaults to 256.
	EventBuffer int

	Logger *zap.SugaredLogger
}

func (o Options) addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Client owns one TCP connection to the switch's manager port. It frames
// requests and demultiplexes the inbound stream into correlated responses
// and unsolicited events. A Client is single-use: once the connection dies
// the supervisor dials a fresh one.
type Client struct {
	opts Options
	conn net.Conn
	log  *zap.SugaredLogger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Event
	nextID  uint64
	dead    bool

	events    chan Event
	done      chan struct{}
	quit      chan struct{}
	closeOnce sync.Once
}

// Dial connects, reads the protocol banner and authenticates.
// It fails with ErrConnect if the socket cannot be opened or dies before
// login completes, and with ErrAuth if the switch rejects the credentials.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.ExecuteTimeout <= 0 {
		opts.ExecuteTimeout = defaultExecuteTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", opts.addr())
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnect, opts.addr(), err)
	}

	reader := bufio.NewReader(conn)
	banner, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: reading banner: %v", ErrConnect, err)
	}
	opts.Logger.Debugw("manager banner", "banner", strings.TrimSpace(banner))

	c := &Client{
		opts:    opts,
		conn:    conn,
		log:     opts.Logger,
		pending: make(map[string]chan Event),
		events:  make(chan Event, opts.EventBuffer),
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
	}
	go c.readLoop(reader)

	resp, err := c.Execute(ctx, "Login", map[string]string{
		"Username": opts.Username,
		"Secret":   opts.Secret,
	})
	if err != nil {
		// The switch never ruled on the credentials; this is a transport
		// fault, not a rejection.
		c.Close()
		return nil, fmt.Errorf("%w: login: %v", ErrConnect, err)
	}
	if !resp.Success() {
		c.Close()
		return nil, fmt.Errorf("%w: %s", ErrAuth, resp.Get("Message"))
	}
	return c, nil
}

// Events returns the stream of unsolicited events. The channel is closed
// when the connection dies.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Execute sends an action and blocks until the correlated response arrives,
// the per-call timeout elapses (ErrTimeout) or the connection dies
// (ErrConnectionLost). A timed-out action is not cancelled on the switch;
// its late response, if any, is dropped with a warning.
func (c *Client) Execute(ctx context.Context, action string, params map[string]string) (Event, error) {
	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		return Event{}, ErrConnectionLost
	}
	c.nextID++
	id := strconv.FormatUint(c.nextID, 10)
	ch := make(chan Event, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.send(action, id, params); err != nil {
		c.unregister(id)
		return Event{}, fmt.Errorf("%w: writing %s: %v", ErrConnectionLost, action, err)
	}

	timer := time.NewTimer(c.opts.ExecuteTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return Event{}, ErrConnectionLost
		}
		return resp, nil
	case <-timer.C:
		c.unregister(id)
		return Event{}, fmt.Errorf("%w: %s after %s", ErrTimeout, action, c.opts.ExecuteTimeout)
	case <-ctx.Done():
		c.unregister(id)
		return Event{}, ctx.Err()
	case <-c.done:
		return Event{}, ErrConnectionLost
	}
}

// Close tears down the connection. All outstanding executes fail with
// ErrConnectionLost and the events channel is closed.
func (c *Client) Close() error {
	// Release the read loop first in case it is parked on a full events
	// channel with nobody left to drain it.
	c.closeOnce.Do(func() { close(c.quit) })
	return c.conn.Close()
}

func (c *Client) send(action, id string, params map[string]string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Action: %s\r\n", action)
	fmt.Fprintf(&b, "ActionID: %s\r\n", id)

	// Sorted for a stable wire order.
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, params[k])
	}
	b.WriteString("\r\n")

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write([]byte(b.String()))
	return err
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop(reader *bufio.Reader) {
	parser := NewParser(reader)
	for {
		msg, ok := parser.Next()
		if !ok {
			break
		}

		if msg.IsResponse() {
			id := msg.ActionID()
			c.mu.Lock()
			ch, found := c.pending[id]
			if found {
				delete(c.pending, id)
			}
			c.mu.Unlock()
			if !found {
				c.log.Warnw("dropping unmatched response", "action_id", id, "response", msg.Get("Response"))
				continue
			}
			ch <- msg
			continue
		}

		// Unsolicited event. The supervisor's pump is the single consumer
		// and drains until close; blocking here preserves event order.
		// Close releases the block so a full buffer cannot strand us.
		select {
		case c.events <- msg:
		case <-c.quit:
		}
	}

	// Socket gone: fail everything still in flight.
	c.mu.Lock()
	c.dead = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	close(c.done)
	close(c.events)
	c.conn.Close()
}
