package reader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakePN532 answers command frames the way a PN532 module does.
type fakePN532 struct {
	mu       sync.Mutex
	rx       []byte
	uid      []byte
	silent   bool // never answer InListPassiveTarget
	aborts   int
	releases int
	closed   bool
	writeErr error
}

func responseFrame(data ...byte) []byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	n := byte(len(data))
	frame := []byte{0x00, 0x00, 0xFF, n, -n}
	frame = append(frame, data...)
	return append(frame, -sum, 0x00)
}

func (f *fakePN532) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if b[0] == 0x55 {
		return len(b), nil
	}
	if bytes.Equal(b, pn532Ack) {
		f.aborts++
		return len(b), nil
	}

	cmd := b[6]
	f.rx = append(f.rx, pn532Ack...)
	switch cmd {
	case cmdGetFirmwareVersion:
		f.rx = append(f.rx, responseFrame(0xD5, 0x03, 0x32, 0x01, 0x06, 0x07)...)
	case cmdSAMConfiguration, cmdRFConfiguration:
		f.rx = append(f.rx, responseFrame(0xD5, cmd+1)...)
	case cmdInListPassiveTarget:
		if f.silent {
			break
		}
		if f.uid == nil {
			f.rx = append(f.rx, responseFrame(0xD5, 0x4B, 0x00)...)
			break
		}
		data := []byte{0xD5, 0x4B, 0x01, 0x01, 0x00, 0x44, 0x00, byte(len(f.uid))}
		f.rx = append(f.rx, responseFrame(append(data, f.uid...)...)...)
	case cmdInRelease:
		f.releases++
		f.rx = append(f.rx, responseFrame(0xD5, 0x53, 0x00)...)
	}
	return len(b), nil
}

func (f *fakePN532) Read(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.rx) == 0 {
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
		f.mu.Lock()
		return 0, nil
	}
	n := copy(b, f.rx)
	f.rx = f.rx[n:]
	return n, nil
}

func (f *fakePN532) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func openFake(t *testing.T, f *fakePN532) *PN532 {
	t.Helper()
	p, err := newPN532("/dev/ttyFAKE0", 30*time.Millisecond, func() (io.ReadWriteCloser, error) {
		return f, nil
	})
	if err != nil {
		t.Fatalf("newPN532() error = %v", err)
	}
	return p
}

func TestEncodeFrame(t *testing.T) {
	got := encodeFrame(cmdGetFirmwareVersion, nil)
	want := []byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD4, 0x02, 0x2A, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("encodeFrame() = % X, want % X", got, want)
	}
}

func TestPN532ReadCard(t *testing.T) {
	f := &fakePN532{uid: []byte{0x04, 0xa2, 0x3b, 0x1c}}
	p := openFake(t, f)

	if p.Firmware != "PN532 v1.6" {
		t.Errorf("Firmware = %q, want %q", p.Firmware, "PN532 v1.6")
	}

	uid, err := p.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if uid != "04A23B1C" {
		t.Errorf("Read() = %q, want %q", uid, "04A23B1C")
	}
	if f.releases != 1 {
		t.Errorf("releases = %d, want 1", f.releases)
	}
}

func TestPN532ReadNoCard(t *testing.T) {
	p := openFake(t, &fakePN532{})

	uid, err := p.Read(context.Background())
	if err != nil || uid != "" {
		t.Errorf("Read() = %q, %v, want empty, nil", uid, err)
	}
}

func TestPN532ReadTimeout(t *testing.T) {
	f := &fakePN532{silent: true}
	p := openFake(t, f)

	_, err := p.Read(context.Background())
	if KindOf(err) != KindTimeout {
		t.Fatalf("Read() error = %v, want timeout kind", err)
	}
	if f.aborts != 1 {
		t.Errorf("aborts = %d, want 1", f.aborts)
	}
	if p.port == nil {
		t.Error("port dropped after timeout, want kept open")
	}
}

func TestPN532ReopensAfterIOError(t *testing.T) {
	f := &fakePN532{}
	p := openFake(t, f)

	f.writeErr = errors.New("input/output error")
	if _, err := p.Read(context.Background()); err == nil {
		t.Fatal("Read() error = nil, want error")
	}
	if p.port != nil || !f.closed {
		t.Fatal("port not dropped after I/O error")
	}

	f.writeErr = nil
	f.uid = []byte{0xDE, 0xAD, 0xBE, 0xEF}
	uid, err := p.Read(context.Background())
	if err != nil || uid != "DEADBEEF" {
		t.Errorf("Read() after reopen = %q, %v, want DEADBEEF, nil", uid, err)
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name    string
		resp    []byte
		wantUID string
		wantErr bool
	}{
		{"none", []byte{0x00}, "", false},
		{"seven byte uid", []byte{0x01, 0x01, 0x00, 0x44, 0x00, 0x07, 0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, "04112233445566", false},
		{"truncated", []byte{0x01, 0x01, 0x00}, "", true},
		{"length overrun", []byte{0x01, 0x01, 0x00, 0x44, 0x00, 0x07, 0x04}, "", true},
		{"empty", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, uid, err := parseTarget(tt.resp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTarget() error = %v, wantErr %v", err, tt.wantErr)
			}
			if uid != tt.wantUID {
				t.Errorf("parseTarget() uid = %q, want %q", uid, tt.wantUID)
			}
		})
	}
}
