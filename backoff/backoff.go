// Package backoff holds the doubling retry delay shared by the bridge's
// network and hardware loops.
package backoff

import (
	"context"
	"time"
)

// Backoff is the delay state of one retry loop.
// It is owned by a single loop and is not safe for concurrent use.
type Backoff struct {
	floor   time.Duration
	ceiling time.Duration
	delay   time.Duration
	attempt int
}

// New returns a Backoff starting at floor and capped at ceiling.
func New(floor, ceiling time.Duration) *Backoff {
	if floor <= 0 {
		floor = time.Second
	}
	if ceiling < floor {
		ceiling = floor
	}
	return &Backoff{floor: floor, ceiling: ceiling, delay: floor}
}

// Next records a failure and returns how long to wait before retrying.
// The following call returns twice as much, up to the ceiling.
func (b *Backoff) Next() time.Duration {
	d := b.delay
	b.attempt++
	b.delay = min(b.delay*2, b.ceiling)
	return d
}

// Delay returns the wait the next failure will produce.
func (b *Backoff) Delay() time.Duration {
	return b.delay
}

// Attempt returns the number of failures since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset returns to the floor after a successful recovery.
func (b *Backoff) Reset() {
	b.delay = b.floor
	b.attempt = 0
}

// Sleep waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ctx.Err()
	}
}
