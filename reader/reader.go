package reader

import (
	"context"
	"fmt"
	"time"

	"tapbridge/device"
)

// TagReader is the interface for all card reader implementations.
type TagReader interface {
	// Read performs one polling attempt and returns the card UID as
	// upper-case hex. A return of ("", nil) means no card was presented.
	Read(ctx context.Context) (string, error)

	// Close releases any resources held by the reader.
	Close() error
}

// Config holds settings shared by the reader families.
type Config struct {
	Baud        int           `yaml:"baud"`         // serial baud rate, 0 = protocol default
	PollTimeout time.Duration `yaml:"poll_timeout"` // how long one serial poll waits for a card
	BusCommand  []string      `yaml:"bus_command"`  // listing command for bus readers
	BusTimeout  time.Duration `yaml:"bus_timeout"`  // bound on one listing command run
	KeyFormat   string        `yaml:"key_format"`   // keyboard readers: "10h", "8d", ...
}

func (c Config) pollTimeout() time.Duration {
	if c.PollTimeout <= 0 {
		return time.Second
	}
	return c.PollTimeout
}

// Open creates a TagReader for desc.
func Open(desc device.Descriptor, cfg Config) (TagReader, error) {
	switch desc.Family {
	case device.Serial:
		switch desc.Protocol {
		case device.ProtocolWiegand:
			return NewWiegand(desc.Path, cfg.Baud)
		case device.ProtocolEM:
			return NewEM(desc.Path, cfg.Baud)
		default:
			return NewPN532(desc.Path, cfg.Baud, cfg.pollTimeout())
		}
	case device.Bus:
		return NewBus(desc.Path, cfg.BusCommand, cfg.BusTimeout)
	case device.Keyboard:
		return NewKeyboard(desc.Path, cfg.KeyFormat)
	default:
		return nil, fmt.Errorf("reader family %s not supported", desc.Family)
	}
}

// Probe checks that desc can be opened, without waiting for a card.
func Probe(desc device.Descriptor, cfg Config) error {
	if desc.Family == device.Bus {
		return probeBus(cfg.BusCommand)
	}
	r, err := Open(desc, cfg)
	if err != nil {
		return err
	}
	return r.Close()
}
