//go:build linux

package indicator

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// chipLamps drives LEDs as output lines on a GPIO character device.
type chipLamps struct {
	lines [3]*gpiocdev.Line
}

// NewChip creates an indicator on the given GPIO chip (e.g. "gpiochip0").
// Pins are line offsets on that chip.
func NewChip(chip string, greenPin, yellowPin, redPin *uint8, tapFlash time.Duration) (*Lights, error) {
	c := &chipLamps{}
	for i, pin := range []*uint8{greenPin, yellowPin, redPin} {
		if pin == nil {
			continue
		}
		line, err := gpiocdev.RequestLine(chip, int(*pin), gpiocdev.AsOutput(0))
		if err != nil {
			c.close()
			return nil, fmt.Errorf("request %s line %d: %w", chip, *pin, err)
		}
		c.lines[i] = line
	}
	return newLights(c, tapFlash), nil
}

func (c *chipLamps) set(l led, on bool) {
	line := c.lines[l]
	if line == nil {
		return
	}
	v := 0
	if on {
		v = 1
	}
	line.SetValue(v)
}

func (c *chipLamps) close() error {
	var lastErr error
	for i, line := range c.lines {
		if line == nil {
			continue
		}
		if err := line.Close(); err != nil {
			lastErr = err
		}
		c.lines[i] = nil
	}
	return lastErr
}
