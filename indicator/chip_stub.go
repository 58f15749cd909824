//go:build !linux

package indicator

import (
	"errors"
	"time"
)

var ErrChipNotSupported = errors.New("gpio character device not supported on this platform")

// NewChip returns ErrChipNotSupported on non-linux platforms.
func NewChip(chip string, greenPin, yellowPin, redPin *uint8, tapFlash time.Duration) (*Lights, error) {
	return nil, ErrChipNotSupported
}
