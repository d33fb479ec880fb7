package chatsync

import (
	"testing"
	"time"
)

func testMessage(id, text string) Message {
	return Message{
		ID:        id,
		Text:      text,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SenderID:  "u2",
		Status:    StatusDelivered,
	}
}

func TestStore_AddMessageIdempotent(t *testing.T) {
	s := NewStore()
	s.EnsureThread("t1", KindDirect, "", "")

	for i := 0; i < 3; i++ {
		s.AddMessage("t1", KindDirect, testMessage("m1", "hi"))
	}

	_, msgs, ok := s.Thread("t1")
	if !ok {
		t.Fatal("thread missing")
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(msgs))
	}
	if msgs[0].ID != "m1" {
		t.Fatalf("unexpected id %q", msgs[0].ID)
	}
}

func TestStore_EnsureThread(t *testing.T) {
	t.Run("never overwrites message list", func(t *testing.T) {
		s := NewStore()
		s.EnsureThread("t1", KindCommunity, "General", "")
		s.AddMessage("t1", KindCommunity, testMessage("m1", "a"))

		s.EnsureThread("t1", KindCommunity, "Other", "sub")

		th, msgs, _ := s.Thread("t1")
		if len(msgs) != 1 {
			t.Fatalf("message list clobbered: %d entries", len(msgs))
		}
		if th.Title != "General" {
			t.Fatalf("title overwritten: %q", th.Title)
		}
		if th.Subtitle != "sub" {
			t.Fatalf("empty subtitle not filled: %q", th.Subtitle)
		}
	})

	t.Run("creates lazily", func(t *testing.T) {
		s := NewStore()
		s.AddMessage("t2", KindDirect, testMessage("m1", "a"))
		if _, _, ok := s.Thread("t2"); !ok {
			t.Fatal("thread not created on first reference")
		}
	})
}

func TestStore_ReplaceTempID(t *testing.T) {
	t.Run("preserves position and payload", func(t *testing.T) {
		s := NewStore()
		s.AddMessage("t1", KindCommunity, testMessage("m1", "first"))
		temp := Message{
			ID:       "tmp-1",
			Temp:     true,
			Text:     "middle",
			SenderID: "u1",
			Status:   StatusSending,
			Tagged:   []TaggedUser{{ID: "u3"}},
		}
		s.AddMessage("t1", KindCommunity, temp)
		s.AddMessage("t1", KindCommunity, testMessage("m3", "last"))

		if !s.ReplaceTempID("tmp-1", "m2") {
			t.Fatal("replace reported failure")
		}

		th, msgs, _ := s.Thread("t1")
		want := []string{"m1", "m2", "m3"}
		for i, id := range want {
			if th.MessageIDs[i] != id {
				t.Fatalf("sequence %v, want %v", th.MessageIDs, want)
			}
		}
		got := msgs[1]
		if got.Temp {
			t.Fatal("temp flag survived replacement")
		}
		if got.Text != temp.Text || got.SenderID != temp.SenderID || len(got.Tagged) != 1 {
			t.Fatalf("payload not preserved: %+v", got)
		}
		if _, ok := s.Message("tmp-1"); ok {
			t.Fatal("temp entry still present")
		}
	})

	t.Run("missing temp id is ignored", func(t *testing.T) {
		s := NewStore()
		if s.ReplaceTempID("tmp-gone", "m9") {
			t.Fatal("expected no-op for unknown temp id")
		}
	})
}

func TestStore_MarkReadBulk(t *testing.T) {
	s := NewStore()
	s.AddMessage("t1", KindDirect, testMessage("x", "a"))
	s.AddMessage("t1", KindDirect, testMessage("y", "b"))

	s.MarkReadBulk([]string{"x", "y", "missing"})

	for _, id := range []string{"x", "y"} {
		m, _ := s.Message(id)
		if !m.IsRead {
			t.Fatalf("%s not marked read", id)
		}
		if m.Status != StatusDelivered {
			t.Fatalf("%s status changed implicitly to %s", id, m.Status)
		}
	}
}

func TestStore_TransitionStatus(t *testing.T) {
	s := NewStore()
	msg := testMessage("m1", "a")
	msg.Status = StatusSending
	s.AddMessage("t1", KindDirect, msg)

	if !s.TransitionStatus("m1", StatusSending, StatusFailed) {
		t.Fatal("expected transition to apply")
	}
	if s.TransitionStatus("m1", StatusSending, StatusDelivered) {
		t.Fatal("stale transition applied over settled state")
	}
	m, _ := s.Message("m1")
	if m.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", m.Status)
	}
}

func TestStore_OnChange(t *testing.T) {
	s := NewStore()
	var seen []string
	s.OnChange(func(threadID string) { seen = append(seen, threadID) })

	s.AddMessage("t1", KindDirect, testMessage("m1", "a"))
	s.MarkReadBulk([]string{"m1"})

	if len(seen) < 2 {
		t.Fatalf("expected change callbacks, got %v", seen)
	}
	for _, id := range seen[len(seen)-2:] {
		if id != "t1" {
			t.Fatalf("unexpected thread id %q", id)
		}
	}
}

func TestStore_UnreadCount(t *testing.T) {
	s := NewStore()
	s.AddMessage("t1", KindDirect, testMessage("m1", "a"))
	read := testMessage("m2", "b")
	read.IsRead = true
	s.AddMessage("t1", KindDirect, read)

	if n := s.UnreadCount("t1"); n != 1 {
		t.Fatalf("unread = %d, want 1", n)
	}
}
