package report

import (
	"strings"
	"time"
)

// EventKind is a server lifecycle event announced to subscribers.
type EventKind string

const (
	EventStarted EventKind = "started"
	EventStopped EventKind = "stopped"
	EventCrashed EventKind = "crashed"
	EventKilled  EventKind = "killed"
	EventUnknown EventKind = "unknown"
)

// UnknownServer names a server when the event payload carries no title.
const UnknownServer = "Unknown server"

// EventMessage renders a one-off announcement for a server event.
func EventMessage(serverName string, kind EventKind, at time.Time, loc *time.Location) string {
	if blank(serverName) {
		serverName = UnknownServer
	}
	var icon, text string
	switch kind {
	case EventStarted:
		icon, text = "🟢", "Server "+serverName+" has started."
	case EventStopped:
		icon, text = "🛑", "Server "+serverName+" has stopped."
	case EventCrashed:
		icon, text = "💥", "Server "+serverName+" has crashed!"
	case EventKilled:
		icon, text = "⚡", "Server "+serverName+" was force-stopped."
	default:
		icon, text = "ℹ️", "Received an event for server "+serverName+"."
	}

	var b strings.Builder
	b.WriteString(icon + " " + text)
	if !at.IsZero() {
		b.WriteString("\n🕒 " + FormatTime(at, loc))
	}
	return b.String()
}
