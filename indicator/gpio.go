package indicator

import (
	"fmt"
	"time"

	"github.com/hjkoskel/govattu"
)

// vattuLamps drives LEDs through /dev/gpiomem.
type vattuLamps struct {
	hw   govattu.Vattu
	pins [3]*uint8
}

// NewGPIO creates a new GPIO-based indicator.
func NewGPIO(greenPin, yellowPin, redPin *uint8, tapFlash time.Duration) (*Lights, error) {
	hw, err := govattu.Open()
	if err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}

	v := &vattuLamps{hw: hw, pins: [3]*uint8{greenPin, yellowPin, redPin}}

	// Initialize all pins as outputs
	for _, pin := range v.pins {
		if pin != nil {
			hw.PinMode(*pin, govattu.ALToutput)
		}
	}
	return newLights(v, tapFlash), nil
}

func (v *vattuLamps) set(l led, on bool) {
	pin := v.pins[l]
	if pin == nil {
		return
	}
	if on {
		v.hw.PinSet(*pin)
	} else {
		v.hw.PinClear(*pin)
	}
}

func (v *vattuLamps) close() error {
	return v.hw.Close()
}
