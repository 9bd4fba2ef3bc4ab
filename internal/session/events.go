package session

import (
	"github.com/dshills/linesync/internal/diagnostics"
	"github.com/dshills/linesync/internal/dirty"
)

// EventKind identifies what changed.
type EventKind int

// Event kinds.
const (
	// EventUpdate follows a delta applied to a view's cache.
	EventUpdate EventKind = iota
	// EventFlush follows a full flush of a view's associated data.
	EventFlush
	// EventScroll carries a scroll_to hint.
	EventScroll
	// EventStyles follows a style definition or theme change.
	EventStyles
	// EventThemes follows a new list of available themes.
	EventThemes
	// EventViewState follows a language, plugin or config change on a view.
	EventViewState
	// EventAlert carries a message for the user.
	EventAlert
	// EventExit reports that the engine terminated.
	EventExit
)

var eventNames = [...]string{"update", "flush", "scroll", "styles", "themes", "view-state", "alert", "exit"}

// String returns the event kind name.
func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event is delivered to subscribers after the session state has changed.
type Event struct {
	Kind   EventKind
	ViewID string

	// Invalid lists rows to redraw, for EventUpdate.
	Invalid dirty.Set
	// Revision is the cache revision after the update.
	Revision uint64
	// Err is set when an update was only partially applied.
	Err error

	// Message is the alert text.
	Message string

	// Exit and CrashLog describe an EventExit. CrashLog is empty for a clean
	// exit or when the log could not be written.
	Exit     diagnostics.ExitStatus
	CrashLog string
}

// Listener receives events. Listeners run on the connection's reader
// goroutine after all locks are released; they must not block for long.
type Listener func(Event)
