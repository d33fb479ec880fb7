package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestConn(ft *fakeTransport, cfg ConnConfig) *Conn {
	return NewConn("https://chat.test", ft, cfg, quietLogger())
}

func TestConn_ConnectIdempotent(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestConn(ft, ConnConfig{})
	ctx := context.Background()

	if err := c.Connect(ctx, "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()
	if err := c.Connect(ctx, "u1"); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	if ft.dialCount() != 1 {
		t.Fatalf("dials = %d, want 1", ft.dialCount())
	}
}

func TestConn_AnnouncesPersonalRoom(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestConn(ft, ConnConfig{})
	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	frames := ft.conn(0).framesOf("join-personal-room")
	if len(frames) != 1 {
		t.Fatalf("expected 1 personal-room join, got %d", len(frames))
	}
	var cmd JoinPersonalRoom
	if err := json.Unmarshal(frames[0].env.Payload, &cmd); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.UserID != "u1" {
		t.Fatalf("userId = %q", cmd.UserID)
	}
}

func TestConn_StateTransitions(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestConn(ft, ConnConfig{})

	var mu sync.Mutex
	var states []ConnState
	c.OnStateChange(func(s ConnState, _ error) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	want := []ConnState{StateConnecting, StateConnected, StateDisconnected}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

func TestConn_DialFailure(t *testing.T) {
	ft := &fakeTransport{failDials: 1}
	c := newTestConn(ft, ConnConfig{})

	if err := c.Connect(context.Background(), "u1"); err == nil {
		t.Fatal("expected dial error")
	}
	state, lastErr := c.State()
	if state != StateDisconnected || lastErr == nil {
		t.Fatalf("state = %s, err = %v", state, lastErr)
	}
}

func TestConn_EmitWhileDisconnected(t *testing.T) {
	c := newTestConn(&fakeTransport{}, ConnConfig{})
	err := c.Emit(context.Background(), JoinRoom{UserID: "u1", RoomID: "r1"}, "")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestConn_ReconnectAfterDrop(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestConn(ft, ConnConfig{
		AutoReconnect:      true,
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
	})
	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	ft.conn(0).dropFromServer()

	waitUntil(t, 2*time.Second, "reconnect", func() bool {
		return ft.dialCount() == 2 && c.Connected()
	})

	// The new connection re-announces presence.
	frames := ft.conn(1).framesOf("join-personal-room")
	if len(frames) != 1 {
		t.Fatalf("expected personal-room join on new connection, got %d", len(frames))
	}
}

func TestConn_NoReconnectAfterDisconnect(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestConn(ft, ConnConfig{
		AutoReconnect:      true,
		ReconnectBaseDelay: 10 * time.Millisecond,
	})
	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Disconnect()

	time.Sleep(100 * time.Millisecond)
	if ft.dialCount() != 1 {
		t.Fatalf("dials = %d after intentional disconnect", ft.dialCount())
	}
}
