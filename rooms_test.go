package chatsync

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func joinedRooms(t *testing.T, c *fakeConn) []string {
	t.Helper()
	var rooms []string
	for _, f := range c.framesOf("join-room") {
		var cmd JoinRoom
		if err := json.Unmarshal(f.env.Payload, &cmd); err != nil {
			t.Fatalf("decode join: %v", err)
		}
		rooms = append(rooms, cmd.RoomID)
	}
	return rooms
}

func TestRooms_JoinEmitsOnce(t *testing.T) {
	sess, ft := newTestSession(t)
	ctx := context.Background()
	if err := sess.Connect(ctx, "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sess.Disconnect()

	sess.JoinThread(ctx, "r1")
	sess.JoinThread(ctx, "r1")
	sess.JoinThread(ctx, "r1")

	if rooms := joinedRooms(t, ft.conn(0)); len(rooms) != 1 || rooms[0] != "r1" {
		t.Fatalf("join emissions = %v, want exactly one r1", rooms)
	}
}

func TestRooms_JoinDeferredUntilConnected(t *testing.T) {
	sess, ft := newTestSession(t)
	ctx := context.Background()

	sess.JoinThread(ctx, "r1")
	if ft.dialCount() != 0 {
		t.Fatal("join while disconnected touched the wire")
	}

	if err := sess.Connect(ctx, "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sess.Disconnect()

	if rooms := joinedRooms(t, ft.conn(0)); len(rooms) != 1 || rooms[0] != "r1" {
		t.Fatalf("deferred join not replayed: %v", rooms)
	}
}

func TestRooms_ReplayAfterReconnect(t *testing.T) {
	ft := &fakeTransport{}
	conn := NewConn("https://chat.test", ft, ConnConfig{
		AutoReconnect:      true,
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
	}, quietLogger())
	tracker := newRoomTracker(conn, quietLogger())
	ctx := context.Background()

	if err := conn.Connect(ctx, "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Disconnect()

	tracker.JoinThread(ctx, "u1", "r1")
	tracker.JoinThread(ctx, "u1", "r2")

	ft.conn(0).dropFromServer()
	waitUntil(t, 2*time.Second, "reconnect", func() bool {
		return ft.dialCount() == 2 && conn.Connected()
	})

	rooms := joinedRooms(t, ft.conn(1))
	if len(rooms) != 2 || rooms[0] != "r1" || rooms[1] != "r2" {
		t.Fatalf("replayed joins = %v, want [r1 r2]", rooms)
	}

	// Re-joining after replay stays a no-op.
	tracker.JoinThread(ctx, "u1", "r1")
	if rooms := joinedRooms(t, ft.conn(1)); len(rooms) != 2 {
		t.Fatalf("replayed room re-emitted: %v", rooms)
	}
}

func TestRooms_ResetOnDisconnect(t *testing.T) {
	sess, ft := newTestSession(t)
	ctx := context.Background()
	if err := sess.Connect(ctx, "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	sess.JoinThread(ctx, "r1")
	sess.Disconnect()

	if err := sess.Connect(ctx, "u1"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	defer sess.Disconnect()

	// Intentional disconnect cleared the wanted set; nothing to replay.
	if rooms := joinedRooms(t, ft.conn(1)); len(rooms) != 0 {
		t.Fatalf("membership survived explicit disconnect: %v", rooms)
	}
}
