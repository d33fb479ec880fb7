// Package chatsync implements the real-time chat synchronization engine
// behind the BizLink mobile app: a persistent bidirectional connection with
// automatic reconnect-and-replay, a normalized thread/message store with
// optimistic send and server reconciliation, read-receipt propagation, and
// background notifications for unfocused threads.
//
// Example:
//
//	sess := chatsync.NewSession("https://chat.bizlink.app",
//		chatsync.WithNotifier(chatsync.DesktopNotifier{}),
//	)
//	if err := sess.Connect(ctx, "u1"); err != nil { ... }
//	defer sess.Disconnect()
//
//	sess.JoinThread(ctx, "r1")
//	sess.SendToThread(ctx, "r1", "hello", chatsync.SendOptions{})
package chatsync

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Session owns one app session's worth of chat state: the connection, the
// message store, room membership and the send pipeline. It is the single
// entry point for the UI layer.
type Session struct {
	conn     *Conn
	store    *Store
	rooms    *roomTracker
	pipeline *sendPipeline
	router   *router
	log      *slog.Logger

	mu      sync.Mutex
	focused string
}

type sessionConfig struct {
	transport  Transport
	notifier   Notifier
	log        *slog.Logger
	sendGap    time.Duration
	ackTimeout time.Duration
	conn       ConnConfig
}

// Option configures a Session.
type Option func(*sessionConfig)

// WithTransport substitutes the wire transport. Tests use this to inject an
// in-memory fake.
func WithTransport(t Transport) Option {
	return func(c *sessionConfig) { c.transport = t }
}

// WithNotifier sets the local notification sink. Default: none.
func WithNotifier(n Notifier) Option {
	return func(c *sessionConfig) { c.notifier = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *sessionConfig) { c.log = l }
}

// WithSendGap sets the minimum interval between outbound wire emissions.
func WithSendGap(d time.Duration) Option {
	return func(c *sessionConfig) { c.sendGap = d }
}

// WithAckTimeout sets how long a send may await its acknowledgment.
func WithAckTimeout(d time.Duration) Option {
	return func(c *sessionConfig) { c.ackTimeout = d }
}

// WithAutoReconnect toggles automatic reconnect-and-replay. Enabled by
// default.
func WithAutoReconnect(enabled bool) Option {
	return func(c *sessionConfig) { c.conn.AutoReconnect = enabled }
}

// WithHeartbeatInterval sets the transport ping interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *sessionConfig) { c.conn.HeartbeatInterval = d }
}

// NewSession creates a session for the given chat server URL.
func NewSession(url string, opts ...Option) *Session {
	cfg := sessionConfig{
		notifier: NopNotifier{},
		conn:     ConnConfig{AutoReconnect: true},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = slog.Default()
	}

	conn := NewConn(url, cfg.transport, cfg.conn, cfg.log)
	store := NewStore()
	rooms := newRoomTracker(conn, cfg.log)
	pipeline := newSendPipeline(conn, store, cfg.sendGap, cfg.ackTimeout, cfg.log)

	s := &Session{
		conn:     conn,
		store:    store,
		rooms:    rooms,
		pipeline: pipeline,
		log:      cfg.log,
	}
	s.router = &router{
		store:    store,
		pipeline: pipeline,
		notifier: cfg.notifier,
		log:      cfg.log,
		identity: conn.Identity,
		focused:  s.FocusedThread,
	}
	conn.OnEvent(s.router.HandleEvent)
	return s
}

// Connect establishes the transport and authenticates as identity.
// Idempotent while connecting or connected.
func (s *Session) Connect(ctx context.Context, identity string) error {
	return s.conn.Connect(ctx, identity)
}

// Disconnect tears down the transport and clears all room membership.
func (s *Session) Disconnect() error {
	s.rooms.reset()
	return s.conn.Disconnect()
}

// Store exposes the thread/message read model for the UI layer.
func (s *Session) Store() *Store { return s.store }

// ConnState returns the connection state and last observed error.
func (s *Session) ConnState() (ConnState, error) { return s.conn.State() }

// OnStateChange registers a connection-state observer.
func (s *Session) OnStateChange(fn func(ConnState, error)) {
	s.conn.OnStateChange(fn)
}

// JoinThread subscribes to a community thread's room, ensuring the thread
// exists locally. Safe to call from every screen mount; already-joined
// rooms are a cheap no-op.
func (s *Session) JoinThread(ctx context.Context, threadID string) {
	s.store.EnsureThread(threadID, KindCommunity, "", "")
	s.rooms.JoinThread(ctx, s.conn.Identity(), threadID)
}

// SendToThread sends text to the thread. Direct threads are keyed by the
// other user's id and created lazily; community threads must have been
// joined. Returns the optimistic message's temporary id.
func (s *Session) SendToThread(ctx context.Context, threadID, text string, opts SendOptions) (string, error) {
	kind := KindDirect
	if t, _, ok := s.store.Thread(threadID); ok {
		kind = t.Kind
	}
	return s.pipeline.Send(ctx, threadID, kind, text, opts)
}

// MarkVisibleRead marks the given messages read locally and reports them to
// the server. The local mark applies even when the wire emission fails.
func (s *Session) MarkVisibleRead(ctx context.Context, threadID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.store.MarkReadBulk(ids)

	cmd := MarkAsRead{
		UserID:     s.conn.Identity(),
		MessageIDs: ids,
		Kind:       KindDirect,
	}
	if t, _, ok := s.store.Thread(threadID); ok {
		cmd.Kind = t.Kind
	}
	if cmd.Kind == KindCommunity {
		cmd.RoomID = threadID
	} else {
		cmd.OtherUserID = threadID
	}
	return s.conn.Emit(ctx, cmd, "")
}

// SetFocusedThread records which thread the user is currently viewing.
// Messages arriving in other threads raise background notifications.
func (s *Session) SetFocusedThread(threadID string) {
	s.mu.Lock()
	s.focused = threadID
	s.mu.Unlock()
}

// FocusedThread returns the currently focused thread id, or "".
func (s *Session) FocusedThread() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}
