package presence

import (
	"time"

	"tapbridge/event"
)

// DefaultWindow is the debounce window used when none is configured.
const DefaultWindow = 1500 * time.Millisecond

// Tracker converts raw reads from one reader into debounced taps.
// It is owned by a single reader loop and is not safe for concurrent use.
type Tracker struct {
	readerID   string
	window     time.Duration
	lastUID    string // empty while no card is present
	lastSeenAt time.Time
}

// New creates a Tracker for readerID. A window <= 0 selects DefaultWindow.
func New(readerID string, window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{readerID: readerID, window: window}
}

// Observe feeds one raw read taken at t. An empty uid means no card.
// It returns a Tap when the read starts a new presentation, changes card,
// or the same card has stayed on the reader longer than the window.
func (t *Tracker) Observe(uid string, at time.Time) (event.Tap, bool) {
	if uid == "" {
		t.lastUID = ""
		return event.Tap{}, false
	}

	if t.lastUID == uid && at.Sub(t.lastSeenAt) <= t.window {
		return event.Tap{}, false
	}

	t.lastUID = uid
	t.lastSeenAt = at
	return event.NewTap(uid, t.readerID, at), true
}

// Present returns the UID currently on the reader, if any.
func (t *Tracker) Present() (string, bool) {
	return t.lastUID, t.lastUID != ""
}
