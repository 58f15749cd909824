package reader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

var (
	defaultBusCommand = []string{"nfc-list"}
	nfcidPattern      = regexp.MustCompile(`UID \(NFCID\d\):\s*((?:[0-9a-fA-F]{2}\s*)+)`)
)

const defaultBusTimeout = 2 * time.Second

// Bus implements TagReader for bus-attached readers driven through a
// short-lived listing command such as libnfc's nfc-list.
type Bus struct {
	connstring string
	command    []string
	timeout    time.Duration
}

// NewBus creates a bus reader. connstring, when set, selects the device
// through LIBNFC_DEFAULT_DEVICE.
func NewBus(connstring string, command []string, timeout time.Duration) (*Bus, error) {
	if len(command) == 0 {
		command = defaultBusCommand
	}
	if timeout <= 0 {
		timeout = defaultBusTimeout
	}
	if _, err := exec.LookPath(command[0]); err != nil {
		return nil, wrap("lookup", command[0], err)
	}
	return &Bus{connstring: connstring, command: command, timeout: timeout}, nil
}

// Read implements TagReader.Read. A command that runs out of time means
// no card was presented.
func (b *Bus) Read(ctx context.Context) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, b.command[0], b.command[1:]...)
	cmd.WaitDelay = 100 * time.Millisecond
	if b.connstring != "" {
		cmd.Env = append(os.Environ(), "LIBNFC_DEFAULT_DEVICE="+b.connstring)
	}
	out, err := cmd.CombinedOutput()

	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return "", nil
	}

	if uid, ok := parseNFCList(string(out)); ok {
		return uid, nil
	}
	if err != nil || strings.Contains(string(out), "No NFC device found") {
		return "", wrap("run "+b.command[0], b.connstring, busError(err, out))
	}
	return "", nil
}

// Close implements TagReader.Close.
func (b *Bus) Close() error {
	return nil
}

// parseNFCList extracts the first NFCID from listing output.
func parseNFCList(out string) (string, bool) {
	m := nfcidPattern.FindStringSubmatch(out)
	if m == nil {
		return "", false
	}
	uid := strings.ToUpper(strings.Join(strings.Fields(m[1]), ""))
	return uid, uid != ""
}

// busError turns a failed listing run into an error the classifier
// understands.
func busError(err error, out []byte) error {
	text := strings.TrimSpace(string(out))
	if strings.Contains(text, "No NFC device found") || strings.Contains(text, "Unable to open NFC device") {
		return fmt.Errorf("%s: %w", text, errDeviceGone)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && text != "" {
		return fmt.Errorf("%w: %s", err, text)
	}
	return err
}

func probeBus(command []string) error {
	if len(command) == 0 {
		command = defaultBusCommand
	}
	if _, err := exec.LookPath(command[0]); err != nil {
		return wrap("lookup", command[0], err)
	}
	return nil
}
