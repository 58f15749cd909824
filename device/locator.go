package device

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"go.bug.st/serial"
)

// candidatePrefixes are the tty names readers show up under: USB serial
// adapters, CDC-ACM devices and the Raspberry Pi UART.
var candidatePrefixes = []string{"ttyUSB", "ttyACM", "ttyAMA"}

// ProbeFunc opens a device without reading from it.
type ProbeFunc func(Descriptor) error

// Locator finds which serial port hosts a working reader.
type Locator struct {
	// Override, when set, is used verbatim and skips probing.
	Override string
	// DefaultID is assigned to the override or the fallback device.
	DefaultID string
	// Fallback is the static device used when nothing probes successfully.
	Fallback string
	// Protocol is the serial protocol assumed for discovered ports.
	Protocol string

	Probe      ProbeFunc
	Candidates func() ([]string, error)
	Logger     *slog.Logger
}

// Locate returns the device this process should drive. ok is false only
// when probing found nothing; callers then use Resolve's fallback.
func (l *Locator) Locate() (desc Descriptor, ok bool, err error) {
	if l.Override != "" {
		desc, err := Parse(l.Override)
		if err != nil {
			return Descriptor{}, false, fmt.Errorf("device override: %w", err)
		}
		desc.LogicalID = l.defaultID()
		return desc, true, nil
	}

	found := l.probeAll(true)
	if len(found) == 0 {
		return Descriptor{}, false, nil
	}
	return found[0], true, nil
}

// LocateAll returns every candidate that probes successfully, each with
// its enumeration-order id.
func (l *Locator) LocateAll() []Descriptor {
	return l.probeAll(false)
}

// Resolve is Locate with the fallback applied: the static device path and
// an id inferred from it.
func (l *Locator) Resolve() (Descriptor, error) {
	desc, ok, err := l.Locate()
	if err != nil || ok {
		return desc, err
	}

	desc, err = Parse(l.Fallback)
	if err != nil {
		return Descriptor{}, fmt.Errorf("fallback device: %w", err)
	}
	desc.LogicalID = InferID(desc.Path, l.defaultID())
	l.logger().Warn("no reader answered probing, using fallback device",
		"device", desc.Path, "reader_id", desc.LogicalID)
	return desc, nil
}

func (l *Locator) probeAll(firstOnly bool) []Descriptor {
	paths, err := l.candidates()
	if err != nil {
		l.logger().Warn("enumerate serial ports", "error", err)
		return nil
	}

	protocol := l.Protocol
	if protocol == "" {
		protocol = ProtocolPN532
	}

	var found []Descriptor
	for i, path := range paths {
		desc := Descriptor{
			Path:      path,
			Family:    Serial,
			Protocol:  protocol,
			LogicalID: ReaderID(i + 1),
		}
		if l.Probe != nil {
			if err := l.Probe(desc); err != nil {
				l.logger().Debug("probe failed", "device", path, "error", err)
				continue
			}
		}
		l.logger().Info("reader found", "device", path, "reader_id", desc.LogicalID)
		found = append(found, desc)
		if firstOnly {
			break
		}
	}
	return found
}

func (l *Locator) candidates() ([]string, error) {
	if l.Candidates != nil {
		paths, err := l.Candidates()
		if err != nil {
			return nil, err
		}
		paths = slices.Clone(paths)
		slices.Sort(paths)
		return paths, nil
	}
	return SerialCandidates()
}

func (l *Locator) defaultID() string {
	if l.DefaultID != "" {
		return l.DefaultID
	}
	return DefaultID
}

func (l *Locator) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// SerialCandidates lists reader-capable serial ports in stable order.
func SerialCandidates() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}

	var paths []string
	for _, p := range ports {
		base := filepath.Base(p)
		for _, prefix := range candidatePrefixes {
			if strings.HasPrefix(base, prefix) {
				paths = append(paths, p)
				break
			}
		}
	}
	slices.Sort(paths)
	return paths, nil
}
