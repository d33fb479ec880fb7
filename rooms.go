package chatsync

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// roomTracker tracks which per-thread rooms the client wants to be in.
//
// Joins are marked optimistically so repeated calls from re-mounting screens
// are cheap no-ops. The joined set lives only for the current connection;
// the wanted set lives for the session and is replayed wholesale after every
// successful connect.
type roomTracker struct {
	conn *Conn
	log  *slog.Logger

	mu     sync.Mutex
	wanted map[string]struct{}
	joined map[string]struct{}
}

func newRoomTracker(conn *Conn, log *slog.Logger) *roomTracker {
	t := &roomTracker{
		conn:   conn,
		log:    log,
		wanted: make(map[string]struct{}),
		joined: make(map[string]struct{}),
	}
	conn.OnConnected(t.replay)
	conn.OnStateChange(func(state ConnState, _ error) {
		if state == StateDisconnected {
			t.clearJoined()
		}
	})
	return t
}

// JoinThread marks the per-thread room as wanted and emits the join when the
// transport is up. Already-joined rooms are a no-op, checked locally rather
// than round-tripped to the server. While disconnected the emission is
// deferred; the connect replay picks it up.
func (t *roomTracker) JoinThread(ctx context.Context, identity, threadID string) {
	t.mu.Lock()
	if _, ok := t.joined[threadID]; ok {
		t.mu.Unlock()
		return
	}
	t.wanted[threadID] = struct{}{}
	connected := t.conn.Connected()
	if connected {
		t.joined[threadID] = struct{}{}
	}
	t.mu.Unlock()

	if !connected {
		return
	}
	if err := t.conn.Emit(ctx, JoinRoom{UserID: identity, RoomID: threadID}, ""); err != nil {
		t.log.Warn("join emit failed", "room", threadID, "err", err)
	}
}

// replay re-emits every wanted join. Runs as a Conn connect hook, after
// presence was announced on the personal room.
func (t *roomTracker) replay(ctx context.Context) {
	identity := t.conn.Identity()

	t.mu.Lock()
	rooms := make([]string, 0, len(t.wanted))
	for r := range t.wanted {
		rooms = append(rooms, r)
		t.joined[r] = struct{}{}
	}
	t.mu.Unlock()
	sort.Strings(rooms)

	for _, r := range rooms {
		if err := t.conn.Emit(ctx, JoinRoom{UserID: identity, RoomID: r}, ""); err != nil {
			t.log.Warn("join replay failed", "room", r, "err", err)
		}
	}
}

// clearJoined drops per-connection membership; wanted rooms survive so the
// next connect can replay them.
func (t *roomTracker) clearJoined() {
	t.mu.Lock()
	t.joined = make(map[string]struct{})
	t.mu.Unlock()
}

// reset clears all membership. Used on intentional disconnect.
func (t *roomTracker) reset() {
	t.mu.Lock()
	t.wanted = make(map[string]struct{})
	t.joined = make(map[string]struct{})
	t.mu.Unlock()
}

// Joined reports whether the room is joined on the current connection.
func (t *roomTracker) Joined(threadID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.joined[threadID]
	return ok
}
