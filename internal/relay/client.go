package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/collabcode/collabsync/internal/crdt"
	"github.com/collabcode/collabsync/internal/presence"
	"github.com/collabcode/collabsync/internal/wire"
)

// Common errors.
var (
	ErrConnect = errors.New("relay connection failed")
	ErrClosed  = errors.New("relay client closed")
)

const dialTimeout = 10 * time.Second

// Conn abstracts a websocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a connection to the relay at the given URL.
type Dialer func(ctx context.Context, url string) (Conn, error)

func defaultDialer(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// Config holds relay client configuration.
type Config struct {
	// URL is the relay base URL, e.g. ws://localhost:8080.
	URL      string
	Room     string
	ClientID string

	// Dialer defaults to a gorilla websocket dialer.
	Dialer Dialer

	// MaxAttempts bounds the reconnect budget per outage.
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// PingInterval is the keepalive cadence while connected.
	PingInterval time.Duration

	// QueueSize bounds how many already-delivered local operations are
	// retained for rebroadcast after a reconnect. Operations not yet
	// delivered are kept regardless of the bound.
	QueueSize int
}

// Client maintains a persistent connection to the relay for one room.
// Local operations are queued and rebroadcast after reconnects, so edits
// made during an outage are never lost; the document's merge semantics
// absorb any duplicates.
type Client struct {
	cfg Config

	mu     sync.Mutex
	state  State
	conn   Conn
	closed bool
	quit   chan struct{}

	// queue holds the most recent local operations; queue[:sent] have
	// been written on the current connection.
	queue []crdt.Operation
	sent  int

	pingOnce sync.Once

	onOperation   func(crdt.Operation)
	onPresence    func(presence.State)
	onLeave       func(clientID string)
	onStateChange func(State)
}

// NewClient creates a relay client. Callbacks should be registered before
// Connect is called.
func NewClient(cfg Config) *Client {
	if cfg.Dialer == nil {
		cfg.Dialer = defaultDialer
	}

	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}

	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = 250 * time.Millisecond
	}

	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 5 * time.Second
	}

	if cfg.PingInterval == 0 {
		cfg.PingInterval = 20 * time.Second
	}

	if cfg.QueueSize == 0 {
		cfg.QueueSize = 256
	}

	return &Client{
		cfg:  cfg,
		quit: make(chan struct{}),
	}
}

// OnOperation registers the callback for remote document operations.
func (c *Client) OnOperation(fn func(crdt.Operation)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onOperation = fn
}

// OnPresence registers the callback for remote presence updates.
func (c *Client) OnPresence(fn func(presence.State)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onPresence = fn
}

// OnLeave registers the callback for peers leaving the room.
func (c *Client) OnLeave(fn func(clientID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onLeave = fn
}

// OnStateChange registers the callback for connection state transitions.
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onStateChange = fn
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Connect establishes the relay connection and subscribes to the room.
// It returns once the relay has acknowledged the subscription, or with an
// ErrConnect-kind error. After an unexpected disconnect the client
// reconnects on its own; Connect may be called again after Failed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return ErrClosed
	}

	if c.state == Connecting || c.state == Connected || c.state == Reconnecting {
		c.mu.Unlock()

		return fmt.Errorf("%w: already %s", ErrConnect, c.state)
	}
	c.mu.Unlock()

	c.setState(Connecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(Disconnected)

		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	if !c.adopt(conn) {
		return ErrClosed
	}

	go c.run(conn)

	c.pingOnce.Do(func() { go c.pingLoop() })

	return nil
}

// dial opens a connection and waits for the relay's subscription ack.
// Frames arriving before the ack are dispatched normally.
func (c *Client) dial(ctx context.Context) (Conn, error) {
	url := fmt.Sprintf("%s/ws/%s?client=%s",
		strings.TrimSuffix(c.cfg.URL, "/"), c.cfg.Room, c.cfg.ClientID)

	conn, err := c.cfg.Dialer(ctx, url)
	if err != nil {
		return nil, err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()

			return nil, err
		}

		env, err := wire.Decode(data)
		if err != nil {
			log.Printf("relay: dropping malformed frame during connect: %v", err)

			continue
		}

		if env.Type == wire.TypeHello {
			return conn, nil
		}

		c.dispatch(env)
	}
}

// adopt installs a freshly acknowledged connection and rebroadcasts every
// queued operation on it.
func (c *Client) adopt(conn Conn) bool {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()

		return false
	}

	c.conn = conn
	c.sent = 0
	c.mu.Unlock()

	c.setState(Connected)

	c.mu.Lock()
	c.flushLocked()
	c.mu.Unlock()

	return true
}

// run is the read loop. It owns reconnection: on an unexpected error it
// retries with backoff and keeps reading on the replacement connection.
func (c *Client) run(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				c.setState(Disconnected)

				return
			}

			next, ok := c.reconnect()
			if !ok {
				return
			}

			conn = next

			continue
		}

		env, err := wire.Decode(data)
		if err != nil {
			log.Printf("relay: dropping malformed frame: %v", err)

			continue
		}

		c.dispatch(env)
	}
}

// dispatch routes a received envelope to the registered callbacks.
// Unknown kinds are skipped with a warning, never fatal.
func (c *Client) dispatch(env wire.Envelope) {
	if !env.Known() {
		log.Printf("relay: ignoring unknown message (v=%d type=%q)", env.V, env.Type)

		return
	}

	if env.Sender == c.cfg.ClientID {
		return
	}

	c.mu.Lock()
	onOperation, onPresence, onLeave := c.onOperation, c.onPresence, c.onLeave
	c.mu.Unlock()

	switch env.Type {
	case wire.TypeOp:
		var op crdt.Operation
		if err := json.Unmarshal(env.Payload, &op); err != nil {
			log.Printf("relay: dropping undecodable operation: %v", err)

			return
		}

		if onOperation != nil {
			onOperation(op)
		}
	case wire.TypePresence:
		var state presence.State
		if err := json.Unmarshal(env.Payload, &state); err != nil {
			log.Printf("relay: dropping undecodable presence update: %v", err)

			return
		}

		if onPresence != nil {
			onPresence(state)
		}
	case wire.TypeLeave:
		if onLeave != nil {
			onLeave(env.Sender)
		}
	case wire.TypeHello, wire.TypePing:
		// Keepalive traffic, nothing to do.
	}
}

// reconnect retries the connection with exponential backoff. It returns
// the new connection, or false once the budget is exhausted (state
// Failed) or the client was closed.
func (c *Client) reconnect() (Conn, bool) {
	c.setState(Reconnecting)

	backoff := c.cfg.BaseBackoff

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		select {
		case <-c.quit:
			c.setState(Disconnected)

			return nil, false
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		conn, err := c.dial(ctx)

		cancel()

		if err == nil {
			if !c.adopt(conn) {
				return nil, false
			}

			return conn, true
		}

		log.Printf("relay: reconnect attempt %d/%d failed: %v", attempt, c.cfg.MaxAttempts, err)

		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}

	c.setState(Failed)

	return nil, false
}

// BroadcastOperations queues local operations and sends them if
// connected. Queued operations survive outages and are rebroadcast after
// the next successful (re)connect.
func (c *Client) BroadcastOperations(ops []crdt.Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, op := range ops {
		c.queue = append(c.queue, op)
	}

	// Only operations already delivered on the current connection may be
	// trimmed. Undelivered ones are never dropped: per-character inserts
	// form a causal chain, and losing the head would leave every later op
	// permanently unresolvable on peers.
	if over := len(c.queue) - c.cfg.QueueSize; over > 0 {
		if over > c.sent {
			over = c.sent
		}

		if over > 0 {
			c.queue = c.queue[over:]
			c.sent -= over
		}
	}

	c.flushLocked()
}

// BroadcastPresence sends the local awareness state. Presence is
// ephemeral and never queued: during an outage updates are dropped.
func (c *Client) BroadcastPresence(state presence.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected || c.conn == nil {
		return
	}

	env, err := wire.New(wire.TypePresence, c.cfg.Room, c.cfg.ClientID, state)
	if err != nil {
		log.Printf("relay: encoding presence failed: %v", err)

		return
	}

	if err := c.writeLocked(env); err != nil {
		log.Printf("relay: presence send failed: %v", err)
	}
}

// PendingOperations returns how many local operations await delivery.
func (c *Client) PendingOperations() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.queue) - c.sent
}

// Close shuts the client down: the connection is released, retries are
// suppressed, and the state becomes Disconnected. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	close(c.quit)

	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	c.setState(Disconnected)

	return nil
}

// flushLocked writes unsent queued operations on the current connection.
// A write error leaves the remainder queued; the read loop notices the
// broken connection and reconnects.
func (c *Client) flushLocked() {
	if c.state != Connected || c.conn == nil {
		return
	}

	for c.sent < len(c.queue) {
		env, err := wire.New(wire.TypeOp, c.cfg.Room, c.cfg.ClientID, c.queue[c.sent])
		if err != nil {
			log.Printf("relay: encoding operation failed: %v", err)

			return
		}

		if err := c.writeLocked(env); err != nil {
			log.Printf("relay: operation send failed, keeping %d queued: %v",
				len(c.queue)-c.sent, err)

			return
		}

		c.sent++
	}
}

func (c *Client) writeLocked(env wire.Envelope) error {
	data, err := wire.Encode(env)
	if err != nil {
		return err
	}

	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// pingLoop sends a liveness message at the configured cadence while
// connected; the relay uses it to keep the sender's eviction timer fresh.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
			c.mu.Lock()

			if c.state == Connected && c.conn != nil {
				env, err := wire.New(wire.TypePing, c.cfg.Room, c.cfg.ClientID, nil)
				if err == nil {
					if err := c.writeLocked(env); err != nil {
						log.Printf("relay: keepalive failed: %v", err)
					}
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// setState records a transition and notifies the state callback outside
// the lock.
func (c *Client) setState(s State) {
	c.mu.Lock()

	if c.state == s {
		c.mu.Unlock()

		return
	}

	c.state = s
	fn := c.onStateChange
	c.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}
