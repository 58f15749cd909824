package reader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"

	"go.bug.st/serial"
	"golang.org/x/sys/unix"
)

// ErrFatal marks hardware failures that need the device reopened.
var ErrFatal = errors.New("fatal hardware error")

// errTimeout is raised by protocol code when the reader does not answer
// within its deadline.
var errTimeout = errors.New("reader did not answer")

// errDeviceGone is raised when a device stream ends underneath a reader.
var errDeviceGone = errors.New("device disconnected")

// Kind classifies a hardware I/O failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindPermissionDenied
	KindNotFound
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindPermissionDenied:
		return "permission denied"
	case KindNotFound:
		return "not found"
	case KindBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Error is a classified hardware failure.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FatalError is returned once retrying cannot help.
type FatalError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *FatalError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("reader %s failed after %d attempts: %v", e.Path, e.Attempts, e.Err)
	}
	return fmt.Sprintf("reader %s failed: %v", e.Path, e.Err)
}

func (e *FatalError) Unwrap() []error { return []error{ErrFatal, e.Err} }

// IsFatal reports whether err requires probing and reopening the device.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// KindOf returns the classification carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return KindUnknown
}

// wrap classifies err at the call site that produced it.
// Context cancellation is passed through untouched.
func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &Error{Kind: classify(err), Op: op, Path: path, Err: err}
}

func classify(err error) Kind {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortBusy:
			return KindBusy
		case serial.PortNotFound, serial.PortClosed:
			return KindNotFound
		case serial.PermissionDenied:
			return KindPermissionDenied
		}
	}

	switch {
	case errors.Is(err, errTimeout),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, unix.ETIMEDOUT):
		return KindTimeout
	case errors.Is(err, fs.ErrPermission), errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return KindPermissionDenied
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, exec.ErrNotFound), errors.Is(err, errDeviceGone),
		errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO), errors.Is(err, unix.EIO):
		return KindNotFound
	case errors.Is(err, unix.EBUSY), errors.Is(err, unix.EAGAIN):
		return KindBusy
	}
	return KindUnknown
}
