package reader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

const (
	stx = 0x02
	etx = 0x03

	wiegandPollWindow = 500 * time.Millisecond
	wiegandMaxBody    = 16
)

// Wiegand implements TagReader for serial RFID modules that send the tag
// as ASCII hex between STX and ETX.
type Wiegand struct {
	port   serial.Port
	device string
	baud   int
}

// NewWiegand creates a new Wiegand reader on the specified serial port.
func NewWiegand(device string, baud int) (*Wiegand, error) {
	if baud == 0 {
		baud = 9600
	}
	w := &Wiegand{device: device, baud: baud}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Wiegand) open() error {
	mode := &serial.Mode{
		BaudRate: w.baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(w.device, mode)
	if err != nil {
		return wrap("open", w.device, err)
	}
	_ = p.SetReadTimeout(50 * time.Millisecond)

	w.port = p
	w.flush()
	return nil
}

// Read implements TagReader.Read for Wiegand readers.
func (w *Wiegand) Read(ctx context.Context) (string, error) {
	if w.port == nil {
		if err := w.open(); err != nil {
			return "", err
		}
	}

	deadline := time.Now().Add(wiegandPollWindow)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		tag, err := w.readFrame()
		if err != nil {
			_ = w.Close()
			return "", err
		}
		if tag != "" {
			return tag, nil
		}
	}
	return "", nil
}

// readFrame attempts to read a single card frame. Garbled frames are
// discarded and reported as no card.
func (w *Wiegand) readFrame() (string, error) {
	first := make([]byte, 1)
	n, err := w.port.Read(first)
	if err != nil {
		return "", wrap("read STX", w.device, err)
	}
	if n == 0 {
		return "", nil
	}

	if first[0] != stx {
		w.flush()
		return "", nil
	}

	var body strings.Builder
	buf := make([]byte, 1)

	for {
		n, err := w.port.Read(buf)
		if err != nil {
			return "", wrap("read body", w.device, err)
		}
		if n == 0 || body.Len() > wiegandMaxBody {
			w.flush()
			return "", nil
		}
		if buf[0] == etx {
			break
		}
		body.WriteByte(buf[0])
	}

	id, err := decodeWiegandBody(body.String())
	if err != nil {
		w.flush()
		return "", nil
	}
	return id, nil
}

// decodeWiegandBody validates a frame body: 10 hex digits of tag data,
// optionally followed by 2 hex digits of XOR checksum.
func decodeWiegandBody(body string) (string, error) {
	body = strings.ToUpper(strings.TrimSpace(body))
	var id, sum string
	switch {
	case len(body) == 12:
		id, sum = body[:10], body[10:]
	case len(body) > 0 && len(body) <= 10:
		id = strings.Repeat("0", 10-len(body)) + body
	default:
		return "", fmt.Errorf("frame length %d", len(body))
	}

	var checksum byte
	for i := 0; i < len(id); i += 2 {
		hi, err := hexCharToNibble(id[i])
		if err != nil {
			return "", fmt.Errorf("invalid hex at pos %d: %w", i, err)
		}
		lo, err := hexCharToNibble(id[i+1])
		if err != nil {
			return "", fmt.Errorf("invalid hex at pos %d: %w", i+1, err)
		}
		checksum ^= byte((hi << 4) | lo)
	}

	if sum != "" {
		hi, err1 := hexCharToNibble(sum[0])
		lo, err2 := hexCharToNibble(sum[1])
		if err1 != nil || err2 != nil {
			return "", fmt.Errorf("invalid checksum %q", sum)
		}
		if byte((hi<<4)|lo) != checksum {
			return "", fmt.Errorf("checksum mismatch: got %s, want %02X", sum, checksum)
		}
	}
	return id, nil
}

// Close implements TagReader.Close.
func (w *Wiegand) Close() error {
	if w.port == nil {
		return nil
	}
	err := w.port.Close()
	w.port = nil
	return err
}

func (w *Wiegand) flush() {
	if w.port == nil {
		return
	}
	_ = w.port.SetReadTimeout(10 * time.Millisecond)
	defer func() {
		_ = w.port.SetReadTimeout(50 * time.Millisecond)
	}()

	tmp := make([]byte, 64)
	for {
		n, err := w.port.Read(tmp)
		if err != nil || n == 0 {
			return
		}
	}
}

func hexCharToNibble(c byte) (int, error) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), nil
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, nil
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, nil
	default:
		return 0, fmt.Errorf("not a hex char: %q", c)
	}
}
