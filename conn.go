package chatsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ErrNotConnected is returned when a wire emission is attempted without an
// established transport.
var ErrNotConnected = errors.New("not connected")

// ============================================================================
// Transport
// ============================================================================

// Transport dials the chat server. The default implementation speaks
// WebSocket; tests substitute an in-memory fake.
type Transport interface {
	Dial(ctx context.Context, url string) (TransportConn, error)
}

// TransportConn is a single established bidirectional connection.
type TransportConn interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(reason string) error
}

type wsTransport struct{}

// NewWebSocketTransport returns the default WebSocket transport.
func NewWebSocketTransport() Transport { return wsTransport{} }

func (wsTransport) Dial(ctx context.Context, url string) (TransportConn, error) {
	wsURL := strings.Replace(url, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) ReadFrame(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) WriteFrame(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Ping(ctx context.Context) error {
	return w.c.Ping(ctx)
}

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusNormalClosure, reason)
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	// A connection that held for a minute resets the backoff ladder.
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// Conn
// ============================================================================

// ConnConfig configures the connection manager.
type ConnConfig struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *ConnConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// Conn owns the socket lifecycle: connect, authenticate, reconnect,
// disconnect. It never mutates the message store; inbound frames are decoded
// and handed to the event sink serially, in arrival order.
type Conn struct {
	url       string
	transport Transport
	config    ConnConfig
	log       *slog.Logger

	mu               sync.Mutex
	state            ConnState
	lastErr          error
	conn             TransportConn
	identity         string
	intentionalClose bool
	cancelFn         context.CancelFunc

	recon reconnector

	// Registration happens during session wiring, before Connect.
	onEvent     func(Event)
	onState     []func(ConnState, error)
	onConnected []func(ctx context.Context)
}

// NewConn creates a connection manager for the given server URL.
func NewConn(url string, transport Transport, config ConnConfig, log *slog.Logger) *Conn {
	config.defaults()
	if transport == nil {
		transport = NewWebSocketTransport()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Conn{
		url:       url,
		transport: transport,
		config:    config,
		log:       log,
		state:     StateDisconnected,
		recon: reconnector{
			baseDelay:   config.ReconnectBaseDelay,
			maxDelay:    config.ReconnectMaxDelay,
			maxAttempts: config.MaxReconnectAttempts,
		},
	}
}

// OnEvent sets the sink for decoded inbound events. Frames are delivered
// one at a time from the read loop.
func (c *Conn) OnEvent(fn func(Event)) { c.onEvent = fn }

// OnStateChange registers a state observer. The error argument is non-nil
// only for error observations, which do not themselves change state.
func (c *Conn) OnStateChange(fn func(ConnState, error)) {
	c.onState = append(c.onState, fn)
}

// OnConnected registers a hook run after every successful connect, once
// presence has been announced on the personal room. The room tracker uses
// this to replay per-thread joins.
func (c *Conn) OnConnected(fn func(ctx context.Context)) {
	c.onConnected = append(c.onConnected, fn)
}

// State returns the current connection state and the last observed error.
func (c *Conn) State() (ConnState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.lastErr
}

// Identity returns the identity passed to Connect, or "".
func (c *Conn) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Conn) setState(state ConnState, err error) {
	c.mu.Lock()
	c.state = state
	if err != nil {
		c.lastErr = err
	}
	c.mu.Unlock()
	for _, h := range c.onState {
		h(state, err)
	}
}

// Connect establishes the transport and authenticates as identity. It is
// idempotent while already connecting or connected. On success it announces
// presence on the personal room and runs the registered connect hooks.
func (c *Conn) Connect(ctx context.Context, identity string) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.identity = identity
	c.intentionalClose = false
	c.mu.Unlock()
	c.setState(StateConnecting, nil)

	conn, err := c.transport.Dial(ctx, c.url)
	if err != nil {
		c.setState(StateDisconnected, err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.recon.markConnected()

	if err := c.Emit(ctx, JoinPersonalRoom{UserID: identity}, ""); err != nil {
		conn.Close("join failed")
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.setState(StateDisconnected, err)
		return err
	}

	c.setState(StateConnected, nil)

	connCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancelFn = cancel
	c.mu.Unlock()

	for _, hook := range c.onConnected {
		hook(connCtx)
	}

	go c.readLoop(connCtx)
	go c.heartbeatLoop(connCtx)

	return nil
}

// Disconnect tears down the transport. Room membership is cleared by the
// disconnected state observers.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	c.intentionalClose = true
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close("client disconnect")
	}
	c.setState(StateDisconnected, nil)
	return err
}

// Emit encodes cmd and writes it to the wire.
func (c *Conn) Emit(ctx context.Context, cmd Command, requestID string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := EncodeCommand(cmd, requestID)
	if err != nil {
		return err
	}
	return conn.WriteFrame(ctx, data)
}

// Connected reports whether the transport is currently established.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

func (c *Conn) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		data, err := conn.ReadFrame(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentionalClose
			c.conn = nil
			c.mu.Unlock()
			if intentional {
				return
			}

			c.setState(StateDisconnected, err)

			if c.config.AutoReconnect && c.recon.shouldReconnect() {
				c.scheduleReconnect()
			}
			return
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			c.log.Warn("dropping undecodable frame", "err", err)
			continue
		}
		if c.onEvent != nil {
			c.onEvent(ev)
		}
	}
}

func (c *Conn) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				// Force-close so the read loop observes the failure and
				// drives the reconnect cycle.
				conn.Close("heartbeat timeout")
				return
			}
		}
	}
}

func (c *Conn) scheduleReconnect() {
	delay := c.recon.nextDelay()
	c.log.Debug("reconnecting", "attempt", c.recon.attempt, "delay", delay)
	time.Sleep(delay)

	c.mu.Lock()
	identity := c.identity
	intentional := c.intentionalClose
	c.mu.Unlock()
	if intentional {
		return
	}

	if err := c.Connect(context.Background(), identity); err != nil {
		if c.config.AutoReconnect && c.recon.shouldReconnect() {
			c.scheduleReconnect()
		}
	}
}
