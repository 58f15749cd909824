package indicator

import "time"

// Indicator is the interface for status indicator implementations (LEDs, neopixels, etc).
// Implementations are safe for use by several reader pipelines at once.
type Indicator interface {
	// Online sets the indicator to connected and ready.
	Online()

	// Tap briefly signals that a card tap was forwarded.
	Tap()

	// ConnectionLost sets the indicator to connection lost state.
	ConnectionLost()

	// ReaderFault sets the indicator to reader fault state.
	ReaderFault()

	// Shutdown sets the indicator to shutdown state.
	Shutdown()

	// Release releases any hardware resources.
	Release() error
}

// Config holds configuration for indicator implementations.
type Config struct {
	// GPIO LED pins (nil = not configured)
	GreenPin  *uint8 `yaml:"green_pin"`
	YellowPin *uint8 `yaml:"yellow_pin"`
	RedPin    *uint8 `yaml:"red_pin"`

	// GPIO character device (e.g. "gpiochip0"); when set the pins above are
	// line offsets on that chip instead of /dev/gpiomem pins
	Chip string `yaml:"chip"`

	// Neopixel pipe path (empty = not configured)
	NeopixelPipe string `yaml:"neopixel_pipe"`

	// Framebuffer device for a status screen, e.g. /dev/fb0 (needs -tags=screen)
	Framebuffer string `yaml:"framebuffer"`
	Font        string `yaml:"font"`

	// How long the tap signal stays lit
	TapFlash time.Duration `yaml:"tap_flash"`
}

// New creates an Indicator based on the provided configuration.
// Returns a Multi indicator if more than one output is configured.
func New(cfg Config) (Indicator, error) {
	var indicators []Indicator

	// Add GPIO indicator if any pins configured
	if cfg.GreenPin != nil || cfg.YellowPin != nil || cfg.RedPin != nil {
		var (
			lights *Lights
			err    error
		)
		if cfg.Chip != "" {
			lights, err = NewChip(cfg.Chip, cfg.GreenPin, cfg.YellowPin, cfg.RedPin, cfg.TapFlash)
		} else {
			lights, err = NewGPIO(cfg.GreenPin, cfg.YellowPin, cfg.RedPin, cfg.TapFlash)
		}
		if err != nil {
			return nil, err
		}
		indicators = append(indicators, lights)
	}

	// Add Neopixel indicator if pipe configured
	if cfg.NeopixelPipe != "" {
		neo, err := NewNeopixel(cfg.NeopixelPipe)
		if err != nil {
			for _, ind := range indicators {
				ind.Release()
			}
			return nil, err
		}
		indicators = append(indicators, neo)
	}

	if cfg.Framebuffer != "" {
		screen, err := NewScreen(cfg.Framebuffer, cfg.Font, cfg.TapFlash)
		if err != nil {
			for _, ind := range indicators {
				ind.Release()
			}
			return nil, err
		}
		indicators = append(indicators, screen)
	}

	if len(indicators) == 0 {
		return &Noop{}, nil
	}
	if len(indicators) == 1 {
		return indicators[0], nil
	}
	return NewMulti(indicators...), nil
}
