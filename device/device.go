package device

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnparseable is returned for device strings that name no known transport.
var ErrUnparseable = errors.New("unparseable device string")

// DefaultID is the logical reader id used when nothing else applies.
const DefaultID = "reader-1"

// Family selects the transport used to talk to a reader.
type Family int

const (
	// Serial readers speak a framed protocol over a tty.
	Serial Family = iota
	// Bus readers are polled through an external listing command.
	Bus
	// Keyboard readers are USB HID devices typing the UID.
	Keyboard
)

func (f Family) String() string {
	switch f {
	case Serial:
		return "serial"
	case Bus:
		return "bus"
	case Keyboard:
		return "keyboard"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// Serial protocols.
const (
	ProtocolPN532   = "pn532"
	ProtocolWiegand = "wiegand"
	ProtocolEM      = "em"
)

// Descriptor identifies one physical reader for the life of the process.
type Descriptor struct {
	Path      string
	Family    Family
	Protocol  string // serial family only
	LogicalID string
}

func (d Descriptor) String() string {
	switch d.Family {
	case Serial:
		return fmt.Sprintf("%s %s (%s)", d.LogicalID, d.Path, d.Protocol)
	default:
		return fmt.Sprintf("%s %s (%s)", d.LogicalID, d.Path, d.Family)
	}
}

// Parse reads a device string:
//
//	tty:USB0[:pn532|wiegand|em]   serial reader on /dev/ttyUSB0
//	/dev/ttyUSB0                  serial PN532 reader
//	usb[:connstring]              bus reader through the listing command
//	kbd:/dev/input/event0         keyboard-wedge reader
//	/dev/input/event0             keyboard-wedge reader
//
// The returned Descriptor has no LogicalID.
func Parse(s string) (Descriptor, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Descriptor{}, fmt.Errorf("%w: empty", ErrUnparseable)

	case strings.HasPrefix(s, "/dev/input/"):
		return Descriptor{Path: s, Family: Keyboard}, nil

	case strings.HasPrefix(s, "/dev/"):
		return Descriptor{Path: s, Family: Serial, Protocol: ProtocolPN532}, nil

	case strings.HasPrefix(s, "kbd:"):
		path := strings.TrimPrefix(s, "kbd:")
		if !strings.HasPrefix(path, "/") {
			return Descriptor{}, fmt.Errorf("%w: %q", ErrUnparseable, s)
		}
		return Descriptor{Path: path, Family: Keyboard}, nil

	case s == "usb" || strings.HasPrefix(s, "usb:"):
		return Descriptor{Path: strings.TrimPrefix(strings.TrimPrefix(s, "usb"), ":"), Family: Bus}, nil

	case strings.HasPrefix(s, "tty:"):
		parts := strings.Split(strings.TrimPrefix(s, "tty:"), ":")
		if len(parts) > 2 || parts[0] == "" {
			return Descriptor{}, fmt.Errorf("%w: %q", ErrUnparseable, s)
		}
		protocol := ProtocolPN532
		if len(parts) == 2 {
			protocol = strings.ToLower(parts[1])
		}
		switch protocol {
		case ProtocolPN532, ProtocolWiegand, ProtocolEM:
		default:
			return Descriptor{}, fmt.Errorf("%w: unknown protocol %q", ErrUnparseable, protocol)
		}
		return Descriptor{Path: "/dev/tty" + parts[0], Family: Serial, Protocol: protocol}, nil
	}

	return Descriptor{}, fmt.Errorf("%w: %q", ErrUnparseable, s)
}

var portIndex = regexp.MustCompile(`(?:USB|ACM|AMA)(\d+)$`)

// InferID guesses a logical id from a device path: /dev/ttyUSB1 becomes
// reader-2. Paths without a port number get fallback.
func InferID(path, fallback string) string {
	m := portIndex.FindStringSubmatch(path)
	if m == nil {
		return fallback
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return fallback
	}
	return ReaderID(n + 1)
}

// ReaderID formats the 1-based logical id.
func ReaderID(n int) string {
	return fmt.Sprintf("reader-%d", n)
}
