package reader

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kenshaw/evdev"
)

const keyboardPollWindow = 500 * time.Millisecond

// Keyboard implements TagReader for USB keyboard-style RFID readers
// that output digits followed by Enter.
type Keyboard struct {
	device    *evdev.Evdev
	path      string
	events    <-chan *evdev.EventEnvelope
	cancel    context.CancelFunc
	numDigits int  // expected number of digits (0 = any)
	isHex     bool // true for hex input, false for decimal
	format    string
	strbuf    string
}

// NewKeyboard creates a new keyboard reader on the specified input device.
// Format specifies the input format: "10h" (10 hex digits), "10d" (10 decimal), "8h", "8d", etc.
// If format is empty, defaults to "10h".
func NewKeyboard(device string, format string) (*Keyboard, error) {
	dev, err := evdev.OpenFile(device)
	if err != nil {
		return nil, wrap("open evdev", device, err)
	}

	slog.Debug("opened keyboard device", "device", device, "name", dev.Name(),
		"vendor", fmt.Sprintf("0x%04x", dev.ID().Vendor), "product", fmt.Sprintf("0x%04x", dev.ID().Product))

	numDigits, isHex, format := parseKeyFormat(format)

	ctx, cancel := context.WithCancel(context.Background())
	return &Keyboard{
		device:    dev,
		path:      device,
		events:    dev.Poll(ctx),
		cancel:    cancel,
		numDigits: numDigits,
		isHex:     isHex,
		format:    format,
	}, nil
}

// parseKeyFormat parses format strings like "10h" or "8d".
func parseKeyFormat(format string) (numDigits int, isHex bool, normalized string) {
	if format == "" {
		format = "10h"
	}
	format = strings.ToLower(format)

	switch {
	case strings.HasSuffix(format, "h"):
		numDigits, _ = strconv.Atoi(strings.TrimSuffix(format, "h"))
		return numDigits, true, format
	case strings.HasSuffix(format, "d"):
		numDigits, _ = strconv.Atoi(strings.TrimSuffix(format, "d"))
		return numDigits, false, format
	default:
		// bare number, assume hex
		numDigits, _ = strconv.Atoi(format)
		return numDigits, true, format
	}
}

// Read implements TagReader.Read for keyboard readers.
// Collects key presses until Enter or the poll window ends.
func (k *Keyboard) Read(ctx context.Context) (string, error) {
	timer := time.NewTimer(keyboardPollWindow)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", nil
		case event := <-k.events:
			if event == nil {
				return "", wrap("read evdev", k.path, fmt.Errorf("keyboard device closed: %w", errDeviceGone))
			}

			if _, ok := event.Type.(evdev.KeyType); !ok || event.Value != 1 {
				continue
			}

			if event.Type == evdev.KeyEnter {
				line := k.strbuf
				k.strbuf = ""
				if line == "" {
					continue
				}
				uid, err := k.decode(line)
				if err != nil {
					slog.Warn("bad badge", "device", k.path, "format", k.format, "error", err)
					continue
				}
				return uid, nil
			}

			k.strbuf += evdev.KeyType(event.Code).String()
		}
	}
}

// decode parses one typed line according to the configured format.
func (k *Keyboard) decode(line string) (string, error) {
	if k.numDigits > 0 && len(line) != k.numDigits {
		return "", fmt.Errorf("expected %d digits, got %d (%q)", k.numDigits, len(line), line)
	}

	base := 10
	if k.isHex {
		base = 16
	}
	number, err := strconv.ParseUint(line, base, 64)
	if err != nil {
		return "", fmt.Errorf("line %q (base %d): %w", line, base, err)
	}
	return fmt.Sprintf("%08X", number&0xffffffff), nil
}

// Close implements TagReader.Close.
func (k *Keyboard) Close() error {
	if k.device == nil {
		return nil
	}
	k.cancel()
	err := k.device.Close()
	k.device = nil
	return err
}
