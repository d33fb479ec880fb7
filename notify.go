package chatsync

import (
	"strings"

	"github.com/gen2brain/beeep"
)

// Notifier raises local background notifications for messages arriving in
// threads the user is not looking at.
type Notifier interface {
	Notify(title, body string) error
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(title, body string) error { return nil }

// DesktopNotifier raises OS-level notifications.
type DesktopNotifier struct {
	// AppIcon is an optional path to the notification icon.
	AppIcon string
}

func (n DesktopNotifier) Notify(title, body string) error {
	return beeep.Notify(title, truncateNotification(body, 100), n.AppIcon)
}

func truncateNotification(s string, maxLen int) string {
	// Collapse whitespace for notification
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "…"
}
