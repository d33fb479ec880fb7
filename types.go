package chatsync

import (
	"strings"
	"time"
)

// ============================================================================
// Message & Thread Model
// ============================================================================

// Status is the delivery state of a message.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
	StatusFailed    Status = "failed"
)

// ThreadKind distinguishes one-to-one conversations from community rooms.
type ThreadKind string

const (
	KindDirect    ThreadKind = "direct"
	KindCommunity ThreadKind = "community"
)

// TaggedUser is a user referenced inside a message body.
type TaggedUser struct {
	ID     string `json:"id"`
	Handle string `json:"handle,omitempty"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Message is the authoritative record for a single chat message. A message
// belongs to exactly one thread; threads reference it by ID only.
type Message struct {
	ID         string       `json:"id"`
	Temp       bool         `json:"temp,omitempty"`
	Text       string       `json:"text"`
	CreatedAt  time.Time    `json:"createdAt"`
	SenderID   string       `json:"senderId"`
	SenderName string       `json:"senderName,omitempty"`
	Avatar     string       `json:"avatar,omitempty"`
	Status     Status       `json:"status"`
	IsRead     bool         `json:"isRead"`
	MediaURI   string       `json:"mediaUri,omitempty"`
	MimeType   string       `json:"mimeType,omitempty"`
	DurationMs int          `json:"durationMs,omitempty"`
	ReplyTo    string       `json:"replyTo,omitempty"`
	Tagged     []TaggedUser `json:"taggedUsers,omitempty"`
}

// Thread is a logical conversation: a direct pair or a community room.
// MessageIDs is the ordered sequence of message identifiers; the message
// records themselves live in the store's flat map.
type Thread struct {
	ID         string     `json:"id"`
	Kind       ThreadKind `json:"kind"`
	Title      string     `json:"title,omitempty"`
	Subtitle   string     `json:"subtitle,omitempty"`
	MessageIDs []string   `json:"messageIds"`
}

// UnreadIn counts the unread messages in msgs.
func UnreadIn(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		if !m.IsRead {
			n++
		}
	}
	return n
}

// DedupeTagged returns tagged with duplicate IDs and entries lacking a
// resolvable ID removed, preserving first-occurrence order.
func DedupeTagged(tagged []TaggedUser) []TaggedUser {
	if len(tagged) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tagged))
	out := make([]TaggedUser, 0, len(tagged))
	for _, tu := range tagged {
		id := strings.TrimSpace(tu.ID)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		tu.ID = id
		out = append(out, tu)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ============================================================================
// Connection State
// ============================================================================

// ConnState represents the connection lifecycle state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)
