package chatsync

import (
	"sort"
	"sync"
)

// Store is the normalized in-memory entity store for threads and messages.
//
// Message records live in a single flat map keyed by id; each thread holds
// only the ordered sequence of ids. All state for the current app session
// lives here — there is no durable persistence.
type Store struct {
	mu       sync.RWMutex
	threads  map[string]*Thread
	messages map[string]*Message
	onChange []func(threadID string)
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		threads:  make(map[string]*Thread),
		messages: make(map[string]*Message),
	}
}

// OnChange registers a callback invoked after any mutation, with the id of
// the affected thread ("" when the thread cannot be attributed). Callbacks
// run synchronously on the mutating goroutine; they may read the store but
// must not mutate it.
func (s *Store) OnChange(fn func(threadID string)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *Store) notify(threadID string) {
	s.mu.RLock()
	handlers := append([]func(string){}, s.onChange...)
	s.mu.RUnlock()
	for _, h := range handlers {
		h(threadID)
	}
}

// ============================================================================
// Threads
// ============================================================================

// EnsureThread creates the thread if it does not exist. It never overwrites
// an existing thread's message sequence; title and subtitle fill in only
// when previously empty.
func (s *Store) EnsureThread(id string, kind ThreadKind, title, subtitle string) {
	s.mu.Lock()
	changed := s.ensureLocked(id, kind, title, subtitle)
	s.mu.Unlock()
	if changed {
		s.notify(id)
	}
}

func (s *Store) ensureLocked(id string, kind ThreadKind, title, subtitle string) bool {
	t, ok := s.threads[id]
	if !ok {
		s.threads[id] = &Thread{ID: id, Kind: kind, Title: title, Subtitle: subtitle}
		return true
	}
	changed := false
	if t.Title == "" && title != "" {
		t.Title = title
		changed = true
	}
	if t.Subtitle == "" && subtitle != "" {
		t.Subtitle = subtitle
		changed = true
	}
	return changed
}

// Thread returns a copy of the thread and its messages in order.
func (s *Store) Thread(id string) (Thread, []Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return Thread{}, nil, false
	}
	out := *t
	out.MessageIDs = append([]string{}, t.MessageIDs...)
	msgs := make([]Message, 0, len(t.MessageIDs))
	for _, mid := range t.MessageIDs {
		if m, ok := s.messages[mid]; ok {
			msgs = append(msgs, *m)
		}
	}
	return out, msgs, true
}

// Threads returns copies of all threads, sorted by id for stable iteration.
func (s *Store) Threads() []Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Thread, 0, len(s.threads))
	for _, t := range s.threads {
		c := *t
		c.MessageIDs = append([]string{}, t.MessageIDs...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ============================================================================
// Messages
// ============================================================================

// AddMessage appends msg to the thread's sequence. Idempotent with respect
// to msg.ID: re-adding an id already present refreshes the record without
// duplicating the sequence entry. The thread is created if missing.
func (s *Store) AddMessage(threadID string, kind ThreadKind, msg Message) {
	s.mu.Lock()
	s.ensureLocked(threadID, kind, "", "")
	t := s.threads[threadID]

	m := msg
	s.messages[msg.ID] = &m

	present := false
	for _, id := range t.MessageIDs {
		if id == msg.ID {
			present = true
			break
		}
	}
	if !present {
		t.MessageIDs = append(t.MessageIDs, msg.ID)
	}
	s.mu.Unlock()
	s.notify(threadID)
}

// Message returns a copy of the message record.
func (s *Store) Message(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// SetStatus sets the delivery status of a message. Returns false when the
// id is unknown.
func (s *Store) SetStatus(id string, status Status) bool {
	s.mu.Lock()
	m, ok := s.messages[id]
	if ok {
		m.Status = status
	}
	s.mu.Unlock()
	if ok {
		s.notify(s.threadOf(id))
	}
	return ok
}

// TransitionStatus sets status only when the message is currently in from.
// This is the guard that lets an ack and a timeout race: whichever resolves
// second observes the changed state and leaves it alone.
func (s *Store) TransitionStatus(id string, from, to Status) bool {
	s.mu.Lock()
	m, ok := s.messages[id]
	applied := ok && m.Status == from
	if applied {
		m.Status = to
	}
	s.mu.Unlock()
	if applied {
		s.notify(s.threadOf(id))
	}
	return applied
}

// MarkReadBulk sets isRead for every listed id. Status is untouched; read
// state and delivery state advance independently.
func (s *Store) MarkReadBulk(ids []string) {
	s.mu.Lock()
	touched := make(map[string]struct{})
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			m.IsRead = true
			touched[s.threadOfLocked(id)] = struct{}{}
		}
	}
	s.mu.Unlock()
	for tid := range touched {
		s.notify(tid)
	}
}

// ReplaceTempID moves all state keyed by tempID to realID, rewriting every
// thread sequence in place so the message keeps its ordinal position. A
// missing tempID is silently ignored: a duplicate ack may race a
// timeout-driven failure that already consumed the entry.
func (s *Store) ReplaceTempID(tempID, realID string) bool {
	s.mu.Lock()
	m, ok := s.messages[tempID]
	var threadID string
	if ok {
		delete(s.messages, tempID)
		m.ID = realID
		m.Temp = false
		s.messages[realID] = m
		for _, t := range s.threads {
			for i, id := range t.MessageIDs {
				if id == tempID {
					t.MessageIDs[i] = realID
					threadID = t.ID
				}
			}
		}
	}
	s.mu.Unlock()
	if ok {
		s.notify(threadID)
	}
	return ok
}

// threadOf returns the id of the thread containing the message, or "".
func (s *Store) threadOf(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threadOfLocked(id)
}

func (s *Store) threadOfLocked(id string) string {
	for _, t := range s.threads {
		for _, mid := range t.MessageIDs {
			if mid == id {
				return t.ID
			}
		}
	}
	return ""
}

// UnreadCount returns the number of unread messages in the thread.
func (s *Store) UnreadCount(threadID string) int {
	_, msgs, ok := s.Thread(threadID)
	if !ok {
		return 0
	}
	return UnreadIn(msgs)
}
