package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

const emFrameLen = 9

// EM implements TagReader for 125 kHz serial readers using the framed
// protocol [0x02][0x09][data...][checksum][0x03].
type EM struct {
	port   io.ReadWriteCloser
	device string
	baud   int
}

// NewEM creates a new framed EM4100 serial reader.
func NewEM(device string, baud int) (*EM, error) {
	if baud == 0 {
		baud = 115200
	}
	e := &EM{device: device, baud: baud}
	if err := e.open(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *EM) open() error {
	c := &serial.Config{
		Name:        e.device,
		Baud:        e.baud,
		ReadTimeout: 500 * time.Millisecond,
	}
	port, err := serial.OpenPort(c)
	if err != nil {
		return wrap("open", e.device, err)
	}
	e.port = port
	return nil
}

// Read implements TagReader.Read for framed serial readers.
func (e *EM) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if e.port == nil {
		if err := e.open(); err != nil {
			return "", err
		}
	}

	buff := make([]byte, emFrameLen)
	n, err := e.port.Read(buff)
	if errors.Is(err, io.EOF) {
		return "", nil // read timeout
	}
	if err != nil {
		_ = e.Close()
		return "", wrap("read", e.device, err)
	}
	if n != emFrameLen {
		return "", nil // partial read
	}

	tag, ok := decodeEMFrame(buff)
	if !ok {
		return "", nil
	}
	return tag, nil
}

// decodeEMFrame checks preamble, terminator and XOR checksum and returns
// the 32-bit tag number as 8 hex digits.
func decodeEMFrame(buff []byte) (string, bool) {
	if len(buff) != emFrameLen {
		return "", false
	}
	if !bytes.Equal(buff[0:2], []byte{0x02, 0x09}) {
		return "", false
	}
	if buff[8] != 0x03 {
		return "", false
	}

	data := buff[1:7]
	xor := data[0]
	for i := 1; i < len(data); i++ {
		xor ^= data[i]
	}
	if xor != buff[7] {
		return "", false
	}

	tagno := (uint32(data[2]) << 24) | (uint32(data[3]) << 16) | (uint32(data[4]) << 8) | uint32(data[5])
	return fmt.Sprintf("%08X", tagno), true
}

// Close implements TagReader.Close.
func (e *EM) Close() error {
	if e.port == nil {
		return nil
	}
	err := e.port.Close()
	e.port = nil
	return err
}
