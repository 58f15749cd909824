package reader

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

// PN532 frame and command bytes (HSU interface).
const (
	pn532HostToPN = 0xD4
	pn532PNToHost = 0xD5

	cmdGetFirmwareVersion  = 0x02
	cmdSAMConfiguration    = 0x14
	cmdRFConfiguration     = 0x32
	cmdInListPassiveTarget = 0x4A
	cmdInRelease           = 0x52

	pn532DefaultBaud = 115200
	pn532ReadTimeout = 50 * time.Millisecond
	pn532AckTimeout  = 100 * time.Millisecond
	pn532CmdTimeout  = time.Second

	// passive activation retries per poll; 0xFF would wait forever
	pn532PollRetries = 0x10
)

var (
	pn532Ack    = []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}
	pn532Wakeup = []byte{0x55, 0x55, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
)

// PN532 implements TagReader for PN532 modules on a serial (HSU) link.
// The port stays open between polls and is reopened after an I/O failure.
type PN532 struct {
	path        string
	pollTimeout time.Duration
	dial        func() (io.ReadWriteCloser, error)
	port        io.ReadWriteCloser
	pending     []byte
	Firmware    string
}

// NewPN532 opens a PN532 on device and configures it for polling.
func NewPN532(device string, baud int, pollTimeout time.Duration) (*PN532, error) {
	if baud == 0 {
		baud = pn532DefaultBaud
	}
	dial := func() (io.ReadWriteCloser, error) {
		mode := &serial.Mode{
			BaudRate: baud,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}
		p, err := serial.Open(device, mode)
		if err != nil {
			return nil, err
		}
		if err := p.SetReadTimeout(pn532ReadTimeout); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	}
	return newPN532(device, pollTimeout, dial)
}

func newPN532(path string, pollTimeout time.Duration, dial func() (io.ReadWriteCloser, error)) (*PN532, error) {
	p := &PN532{path: path, pollTimeout: pollTimeout, dial: dial}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PN532) connect() error {
	port, err := p.dial()
	if err != nil {
		return wrap("open", p.path, err)
	}
	p.port = port
	p.pending = nil

	if _, err := port.Write(pn532Wakeup); err != nil {
		p.drop()
		return wrap("wakeup", p.path, err)
	}

	fw, err := p.command(cmdGetFirmwareVersion, nil, pn532CmdTimeout)
	if err != nil {
		p.drop()
		return wrap("firmware", p.path, err)
	}
	if len(fw) < 4 {
		p.drop()
		return wrap("firmware", p.path, fmt.Errorf("short firmware response % X", fw))
	}
	p.Firmware = fmt.Sprintf("PN5%02X v%d.%d", fw[0], fw[1], fw[2])

	// normal mode, 1s virtual card timeout, use IRQ
	if _, err := p.command(cmdSAMConfiguration, []byte{0x01, 0x14, 0x01}, pn532CmdTimeout); err != nil {
		p.drop()
		return wrap("sam config", p.path, err)
	}
	// MaxRetries item: ATR, PSL, passive activation
	if _, err := p.command(cmdRFConfiguration, []byte{0x05, 0xFF, 0x01, pn532PollRetries}, pn532CmdTimeout); err != nil {
		p.drop()
		return wrap("rf config", p.path, err)
	}
	return nil
}

// Read implements TagReader.Read. One call lists at most one ISO14443A
// target and releases it straight away.
func (p *PN532) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.port == nil {
		if err := p.connect(); err != nil {
			return "", err
		}
	}

	resp, err := p.command(cmdInListPassiveTarget, []byte{0x01, 0x00}, p.pollTimeout)
	if err != nil {
		if err != errTimeout {
			p.drop()
		}
		return "", wrap("poll", p.path, err)
	}

	tg, uid, err := parseTarget(resp)
	if err != nil {
		return "", wrap("poll", p.path, err)
	}
	if uid == "" {
		return "", nil
	}

	if _, err := p.command(cmdInRelease, []byte{tg}, pn532CmdTimeout); err != nil && err != errTimeout {
		p.drop()
	}
	return uid, nil
}

// Close implements TagReader.Close.
func (p *PN532) Close() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

func (p *PN532) drop() {
	_ = p.Close()
}

// parseTarget decodes an InListPassiveTarget response for 106 kbps type A.
func parseTarget(resp []byte) (byte, string, error) {
	if len(resp) < 1 {
		return 0, "", fmt.Errorf("empty target list")
	}
	if resp[0] == 0 {
		return 0, "", nil
	}
	// Tg, SENS_RES(2), SEL_RES, NFCIDLength, NFCID
	if len(resp) < 6 {
		return 0, "", fmt.Errorf("short target data % X", resp)
	}
	n := int(resp[5])
	if n == 0 || len(resp) < 6+n {
		return 0, "", fmt.Errorf("bad NFCID length %d in % X", n, resp)
	}
	return resp[1], strings.ToUpper(hex.EncodeToString(resp[6 : 6+n])), nil
}

// command sends one command frame and returns the response parameters.
func (p *PN532) command(cmd byte, params []byte, timeout time.Duration) ([]byte, error) {
	if _, err := p.port.Write(encodeFrame(cmd, params)); err != nil {
		return nil, err
	}

	ack, err := p.readFrame(time.Now().Add(pn532AckTimeout))
	if err != nil {
		return nil, err
	}
	if ack != nil {
		return nil, fmt.Errorf("expected ACK for command %#02x, got % X", cmd, ack)
	}

	data, err := p.readFrame(time.Now().Add(timeout))
	if err == errTimeout {
		// abort the pending command so the next one is accepted
		_, _ = p.port.Write(pn532Ack)
		return nil, errTimeout
	}
	if err != nil {
		return nil, err
	}
	if len(data) < 2 || data[0] != pn532PNToHost || data[1] != cmd+1 {
		return nil, fmt.Errorf("unexpected response % X to command %#02x", data, cmd)
	}
	return data[2:], nil
}

// encodeFrame builds 00 00 FF LEN LCS TFI CMD PARAMS DCS 00.
func encodeFrame(cmd byte, params []byte) []byte {
	data := make([]byte, 0, 2+len(params))
	data = append(data, pn532HostToPN, cmd)
	data = append(data, params...)

	var sum byte
	for _, b := range data {
		sum += b
	}

	n := byte(len(data))
	frame := make([]byte, 0, len(data)+7)
	frame = append(frame, 0x00, 0x00, 0xFF, n, -n)
	frame = append(frame, data...)
	frame = append(frame, -sum, 0x00)
	return frame
}

// readFrame returns the payload (TFI onward) of the next frame, or nil for
// an ACK frame.
func (p *PN532) readFrame(deadline time.Time) ([]byte, error) {
	// start code 00 FF
	var prev byte = 0xAA
	for {
		b, err := p.readByte(deadline)
		if err != nil {
			return nil, err
		}
		if prev == 0x00 && b == 0xFF {
			break
		}
		prev = b
	}

	n, err := p.readByte(deadline)
	if err != nil {
		return nil, err
	}
	lcs, err := p.readByte(deadline)
	if err != nil {
		return nil, err
	}
	if n == 0x00 && lcs == 0xFF {
		_, err := p.readByte(deadline) // postamble
		return nil, err
	}
	if n+lcs != 0 {
		return nil, fmt.Errorf("bad length checksum %#02x/%#02x", n, lcs)
	}

	body := make([]byte, int(n)+2) // data, DCS, postamble
	for i := range body {
		if body[i], err = p.readByte(deadline); err != nil {
			return nil, err
		}
	}
	data := body[:n]
	var sum byte
	for _, b := range data {
		sum += b
	}
	if sum+body[n] != 0 {
		return nil, fmt.Errorf("bad data checksum in frame % X", body)
	}
	return data, nil
}

func (p *PN532) readByte(deadline time.Time) (byte, error) {
	var buf []byte
	for len(p.pending) == 0 {
		if buf == nil {
			buf = make([]byte, 64)
		}
		n, err := p.port.Read(buf)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			if time.Now().After(deadline) {
				return 0, errTimeout
			}
			continue
		}
		p.pending = append(p.pending, buf[:n]...)
	}
	b := p.pending[0]
	p.pending = p.pending[1:]
	return b, nil
}
