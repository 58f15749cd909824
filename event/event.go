package event

import (
	"strings"
	"time"
)

// Tap is one accepted card detection on a reader.
type Tap struct {
	CardUID    string
	ReaderID   string
	ObservedAt time.Time
}

// NewTap builds a Tap with the UID upper-cased and the timestamp in UTC.
func NewTap(uid, readerID string, observedAt time.Time) Tap {
	return Tap{
		CardUID:    strings.ToUpper(strings.TrimSpace(uid)),
		ReaderID:   readerID,
		ObservedAt: observedAt.UTC(),
	}
}
