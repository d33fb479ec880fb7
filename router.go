package chatsync

import (
	"log/slog"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"
)

// mediaPlaceholder is the notification body used when a message carries an
// attachment instead of text.
const mediaPlaceholder = "Sent an attachment"

// router dispatches decoded wire events into store mutations and side
// effects. Events arrive serially from the connection's read loop; a
// malformed event is logged and dropped so it cannot interrupt the stream.
type router struct {
	store    *Store
	pipeline *sendPipeline
	notifier Notifier
	log      *slog.Logger
	identity func() string
	focused  func() string
}

func (r *router) HandleEvent(ev Event) {
	switch e := ev.(type) {
	case *AckEvent:
		r.pipeline.HandleAck(e)
	case *DirectMessageEvent:
		r.handleDirect(e)
	case *RoomMessageEvent:
		r.handleRoom(e)
	case *MessagesReadEvent:
		r.handleRead(e)
	}
}

// handleDirect inserts a one-to-one message. The thread id is "the other
// party" relative to the local identity. An echo of the local user's own
// message reconciles the oldest pending send for that thread instead of
// inserting a second record.
func (r *router) handleDirect(e *DirectMessageEvent) {
	if e.ID == "" || e.Sender == "" {
		r.log.Warn("dropping malformed direct message", "id", e.ID, "sender", e.Sender)
		return
	}

	local := r.identity()
	other := e.Sender
	title := e.Username
	if e.Sender == local {
		if e.ReceiverID == "" {
			r.log.Warn("dropping own-message echo without receiver", "id", e.ID)
			return
		}
		other = e.ReceiverID
		title = ""
		if r.pipeline.ResolveInferred(other, e.ID, e.Read) {
			return
		}
	}

	status := StatusDelivered
	if e.Read {
		status = StatusSeen
	}

	r.store.EnsureThread(other, KindDirect, title, "")
	r.store.AddMessage(other, KindDirect, Message{
		ID:         e.ID,
		Text:       e.Message,
		CreatedAt:  parseWireTime(e.CreatedAt),
		SenderID:   e.Sender,
		SenderName: e.Username,
		Avatar:     e.ProfilePicture,
		Status:     status,
		IsRead:     e.Read,
	})

	if e.Sender != local && r.focused() != other {
		r.raiseNotification(e.Username, e.Message, "")
	}
}

// handleRoom inserts a community-room message. The sender-equality check is
// the sole de-duplication mechanism for the local user's own echo and runs
// before any store mutation.
func (r *router) handleRoom(e *RoomMessageEvent) {
	if e.Sender != "" && e.Sender == r.identity() {
		return
	}
	if e.ID == "" || e.Sender == "" || e.ChannelID == "" {
		r.log.Warn("dropping malformed room message",
			"id", e.ID, "sender", e.Sender, "channel", e.ChannelID)
		return
	}

	status := StatusDelivered
	if e.Read {
		status = StatusSeen
	}

	msg := Message{
		ID:         e.ID,
		Text:       e.Message,
		CreatedAt:  parseWireTime(e.CreatedAt),
		SenderID:   e.Sender,
		SenderName: e.Username,
		Avatar:     e.ProfilePicture,
		Status:     status,
		IsRead:     e.Read,
	}

	if e.Attachment != "" {
		msg.MediaURI = e.Attachment
		msg.MimeType = mimeForURL(e.Attachment)
	} else if uri, mt, ok := detectImageURL(e.Message); ok {
		msg.MediaURI = uri
		msg.MimeType = mt
	}

	if len(e.TaggedUserIDs) > 0 {
		tagged := make([]TaggedUser, 0, len(e.TaggedUserIDs))
		for _, id := range e.TaggedUserIDs {
			tagged = append(tagged, TaggedUser{ID: id})
		}
		msg.Tagged = DedupeTagged(tagged)
	}

	r.store.EnsureThread(e.ChannelID, KindCommunity, "", "")
	r.store.AddMessage(e.ChannelID, KindCommunity, msg)

	if r.focused() != e.ChannelID {
		r.raiseNotification(e.Username, e.Message, msg.MediaURI)
	}
}

// handleRead marks the listed ids read and independently advances each one
// to seen.
func (r *router) handleRead(e *MessagesReadEvent) {
	if len(e.MessageIDs) == 0 {
		return
	}
	r.store.MarkReadBulk(e.MessageIDs)
	for _, id := range e.MessageIDs {
		r.store.SetStatus(id, StatusSeen)
	}
}

func (r *router) raiseNotification(sender, text, mediaURI string) {
	body := text
	if mediaURI != "" {
		body = mediaPlaceholder
	}
	if err := r.notifier.Notify(sender, body); err != nil {
		r.log.Debug("notification failed", "err", err)
	}
}

// detectImageURL reports whether text is a bare URL with an image-file
// extension, returning the URL and its default media type.
func detectImageURL(text string) (uri, mimeType string, ok bool) {
	t := strings.TrimSpace(text)
	if strings.ContainsAny(t, " \t\n") {
		return "", "", false
	}
	if !strings.HasPrefix(t, "http://") && !strings.HasPrefix(t, "https://") {
		return "", "", false
	}
	mt := mimeForURL(t)
	if !strings.HasPrefix(mt, "image/") {
		return "", "", false
	}
	return t, mt, true
}

func mimeForURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(path.Ext(u.Path))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	return mime.TypeByExtension(ext)
}

func parseWireTime(s string) time.Time {
	if s == "" {
		return time.Now()
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}
