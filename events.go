package chatsync

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire format for every frame in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"requestId,omitempty"`
}

// Inbound event type names.
const (
	evDirectMessage = "receive-direct-message"
	evRoomMessage   = "receive-room-message"
	evMessagesRead  = "messages-read"
	evAck           = "ack"
)

// Outbound command type names.
const (
	cmdJoinPersonalRoom = "join-personal-room"
	cmdJoinRoom         = "join-room"
	cmdSendDirect       = "send-direct-message"
	cmdSendRoom         = "send-room-message"
	cmdMarkAsRead       = "mark-as-read"
)

// ============================================================================
// Inbound Events
// ============================================================================

// Event is a decoded inbound wire event. The set of implementations is
// closed; consumers dispatch with a type switch.
type Event interface {
	eventType() string
}

// DirectMessageEvent is a new one-to-one message.
type DirectMessageEvent struct {
	ID             string `json:"id"`
	Message        string `json:"message"`
	CreatedAt      string `json:"createdAt"`
	Sender         string `json:"sender"`
	ReceiverID     string `json:"receiverId"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profilePicture"`
	Read           bool   `json:"read"`
}

func (*DirectMessageEvent) eventType() string { return evDirectMessage }

// RoomMessageEvent is a new message broadcast to a community room.
type RoomMessageEvent struct {
	ID             string   `json:"id"`
	ChannelID      string   `json:"channelId"`
	Message        string   `json:"message"`
	CreatedAt      string   `json:"createdAt"`
	Sender         string   `json:"sender"`
	Username       string   `json:"username"`
	ProfilePicture string   `json:"profilePicture"`
	Read           bool     `json:"read"`
	Attachment     string   `json:"attachment,omitempty"`
	TaggedUserIDs  []string `json:"taggedUserIds,omitempty"`
}

func (*RoomMessageEvent) eventType() string { return evRoomMessage }

// MessagesReadEvent is a read-receipt batch.
type MessagesReadEvent struct {
	MessageIDs []string `json:"messageIds"`
}

func (*MessagesReadEvent) eventType() string { return evMessagesRead }

// AckEvent confirms an emitted send, carrying the server-assigned id and
// whether the recipient has already read the message.
type AckEvent struct {
	RequestID string `json:"requestId"`
	ID        string `json:"_id"`
	Read      bool   `json:"read"`
}

func (*AckEvent) eventType() string { return evAck }

// UnknownEventError reports a frame whose type has no decoder.
type UnknownEventError struct {
	Type string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Type)
}

// DecodeEvent parses a wire frame into its typed event.
func DecodeEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var ev Event
	switch env.Type {
	case evDirectMessage:
		ev = &DirectMessageEvent{}
	case evRoomMessage:
		ev = &RoomMessageEvent{}
	case evMessagesRead:
		ev = &MessagesReadEvent{}
	case evAck:
		ev = &AckEvent{}
	default:
		return nil, &UnknownEventError{Type: env.Type}
	}

	if err := json.Unmarshal(env.Payload, ev); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return ev, nil
}

// ============================================================================
// Outbound Commands
// ============================================================================

// Command is an outbound wire command.
type Command interface {
	commandType() string
}

// JoinPersonalRoom announces presence on the identity-scoped inbox room.
type JoinPersonalRoom struct {
	UserID string `json:"userId"`
}

func (JoinPersonalRoom) commandType() string { return cmdJoinPersonalRoom }

// JoinRoom subscribes the client to a per-thread room.
type JoinRoom struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

func (JoinRoom) commandType() string { return cmdJoinRoom }

// SendDirectMessage carries a one-to-one message.
type SendDirectMessage struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
}

func (SendDirectMessage) commandType() string { return cmdSendDirect }

// SendRoomMessage carries a community-room message. The server responds
// with an AckEvent referencing the envelope's request id.
type SendRoomMessage struct {
	SenderID      string   `json:"senderId"`
	RoomID        string   `json:"roomId"`
	Message       string   `json:"message"`
	Attachment    string   `json:"attachment,omitempty"`
	TaggedUserIDs []string `json:"taggedUserIds,omitempty"`
}

func (SendRoomMessage) commandType() string { return cmdSendRoom }

// MarkAsRead reports a batch of messages as read by the local user.
type MarkAsRead struct {
	UserID      string     `json:"userId"`
	MessageIDs  []string   `json:"messageIds"`
	Kind        ThreadKind `json:"kind"`
	RoomID      string     `json:"roomId,omitempty"`
	OtherUserID string     `json:"otherUserId,omitempty"`
}

func (MarkAsRead) commandType() string { return cmdMarkAsRead }

// EncodeCommand wraps cmd in an Envelope and marshals it for the wire.
func EncodeCommand(cmd Command, requestID string) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", cmd.commandType(), err)
	}
	return json.Marshal(Envelope{
		Type:      cmd.commandType(),
		Payload:   payload,
		RequestID: requestID,
	})
}
