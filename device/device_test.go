package device

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Descriptor
	}{
		{"tty:USB0:pn532", Descriptor{Path: "/dev/ttyUSB0", Family: Serial, Protocol: ProtocolPN532}},
		{"tty:AMA0", Descriptor{Path: "/dev/ttyAMA0", Family: Serial, Protocol: ProtocolPN532}},
		{"tty:ACM1:Wiegand", Descriptor{Path: "/dev/ttyACM1", Family: Serial, Protocol: ProtocolWiegand}},
		{"tty:USB2:em", Descriptor{Path: "/dev/ttyUSB2", Family: Serial, Protocol: ProtocolEM}},
		{"/dev/ttyUSB1", Descriptor{Path: "/dev/ttyUSB1", Family: Serial, Protocol: ProtocolPN532}},
		{"usb", Descriptor{Path: "", Family: Bus}},
		{"usb:pn53x_usb:001:004", Descriptor{Path: "pn53x_usb:001:004", Family: Bus}},
		{"kbd:/dev/input/event3", Descriptor{Path: "/dev/input/event3", Family: Keyboard}},
		{"/dev/input/event0", Descriptor{Path: "/dev/input/event0", Family: Keyboard}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "COM3", "tty:", "tty:USB0:pn533", "tty:USB0:pn532:x", "kbd:event0", "udp:1.2.3.4"} {
		if _, err := Parse(in); !errors.Is(err, ErrUnparseable) {
			t.Errorf("Parse(%q) error = %v, want ErrUnparseable", in, err)
		}
	}
}

func TestInferID(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/dev/ttyUSB0", "reader-1"},
		{"/dev/ttyUSB1", "reader-2"},
		{"/dev/ttyACM3", "reader-4"},
		{"/dev/ttyAMA0", "reader-1"},
		{"/dev/serial0", "lane-a"},
		{"", "lane-a"},
	}
	for _, tt := range tests {
		if got := InferID(tt.path, "lane-a"); got != tt.want {
			t.Errorf("InferID(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLocatePicksFirstWorkingCandidate(t *testing.T) {
	var probed []string
	l := &Locator{
		Candidates: func() ([]string, error) {
			return []string{"/dev/ttyUSB1", "/dev/ttyUSB0"}, nil
		},
		Probe: func(d Descriptor) error {
			probed = append(probed, d.Path)
			if d.Path == "/dev/ttyUSB1" {
				return errors.New("no answer")
			}
			return nil
		},
		Logger: quietLogger(),
	}

	desc, ok, err := l.Locate()
	if err != nil || !ok {
		t.Fatalf("Locate() = %v, %v, want ok", ok, err)
	}
	if desc.Path != "/dev/ttyUSB0" {
		t.Errorf("Path = %q, want /dev/ttyUSB0", desc.Path)
	}
	if desc.LogicalID != "reader-1" {
		t.Errorf("LogicalID = %q, want reader-1", desc.LogicalID)
	}
	if len(probed) != 1 {
		t.Errorf("probed %v, want only the first working candidate", probed)
	}
}

func TestLocateOverrideSkipsProbing(t *testing.T) {
	l := &Locator{
		Override:  "tty:USB3:pn532",
		DefaultID: "lane-2",
		Candidates: func() ([]string, error) {
			t.Error("Candidates called with an override configured")
			return nil, nil
		},
		Probe: func(Descriptor) error {
			t.Error("Probe called with an override configured")
			return nil
		},
	}

	desc, ok, err := l.Locate()
	if err != nil || !ok {
		t.Fatalf("Locate() = %v, %v, want ok", ok, err)
	}
	if desc.Path != "/dev/ttyUSB3" || desc.LogicalID != "lane-2" {
		t.Errorf("Locate() = %+v, want /dev/ttyUSB3 as lane-2", desc)
	}
}

func TestLocateOverrideUnparseable(t *testing.T) {
	l := &Locator{Override: "bogus"}
	if _, _, err := l.Locate(); !errors.Is(err, ErrUnparseable) {
		t.Errorf("Locate() error = %v, want ErrUnparseable", err)
	}
}

func TestResolveFallsBack(t *testing.T) {
	l := &Locator{
		Fallback:   "tty:USB1:pn532",
		Candidates: func() ([]string, error) { return []string{"/dev/ttyUSB0"}, nil },
		Probe:      func(Descriptor) error { return errors.New("busy") },
		Logger:     quietLogger(),
	}

	desc, err := l.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if desc.Path != "/dev/ttyUSB1" || desc.LogicalID != "reader-2" {
		t.Errorf("Resolve() = %+v, want /dev/ttyUSB1 as reader-2", desc)
	}
}

func TestLocateAll(t *testing.T) {
	l := &Locator{
		Candidates: func() ([]string, error) {
			return []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2"}, nil
		},
		Probe: func(d Descriptor) error {
			if d.Path == "/dev/ttyUSB1" {
				return errors.New("not a reader")
			}
			return nil
		},
		Logger: quietLogger(),
	}

	got := l.LocateAll()
	if len(got) != 2 {
		t.Fatalf("LocateAll() = %+v, want 2 readers", got)
	}
	if got[0].LogicalID != "reader-1" || got[1].LogicalID != "reader-3" {
		t.Errorf("ids = %q, %q, want reader-1, reader-3", got[0].LogicalID, got[1].LogicalID)
	}
}
