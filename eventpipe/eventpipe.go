// Package eventpipe feeds manually entered card UIDs to the bridge, one per
// line, from stdin or from a named pipe.
package eventpipe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// Config holds configuration for the manual entry source.
type Config struct {
	Path string `yaml:"path"` // Named pipe path (e.g., "/tmp/tapbridge-uids"); empty reads stdin
}

// Source reads UID lines.
type Source struct {
	path   string
	in     io.Reader
	logger *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a Source. With a pipe path the FIFO is (re)created; otherwise
// lines are read from stdin.
func New(cfg Config, stdin io.Reader, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{path: cfg.Path, in: stdin, logger: logger, closed: make(chan struct{})}
	if cfg.Path == "" {
		return s, nil
	}

	if err := os.Remove(cfg.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale pipe %s: %w", cfg.Path, err)
	}
	if err := unix.Mkfifo(cfg.Path, 0o666); err != nil {
		return nil, fmt.Errorf("create named pipe %s: %w", cfg.Path, err)
	}
	return s, nil
}

// Lines starts reading and returns the UIDs as they arrive. The channel is
// closed on a quit command, at end of stdin, on Close or when ctx ends.
func (s *Source) Lines(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		if s.path == "" {
			s.scan(ctx, s.in, out)
			return
		}
		s.listen(ctx, out)
	}()
	return out
}

// listen reopens the pipe each time a writer closes it.
func (s *Source) listen(ctx context.Context, out chan<- string) {
	s.logger.Info("manual entry pipe listening", "path", s.path)
	for {
		if s.stopped(ctx) {
			return
		}

		// Open blocks until a writer connects.
		f, err := os.OpenFile(s.path, os.O_RDONLY, 0)
		if err != nil {
			if s.stopped(ctx) {
				return
			}
			s.logger.Error("open manual entry pipe", "path", s.path, "error", err)
			return
		}
		quit := s.scan(ctx, f, out)
		f.Close()
		if quit {
			return
		}
	}
}

// scan forwards UIDs from r. It reports whether the source should stop.
func (s *Source) scan(ctx context.Context, r io.Reader, out chan<- string) bool {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if s.stopped(ctx) {
			return true
		}

		uid, quit, err := parseLine(scanner.Text())
		if quit {
			s.logger.Info("manual entry finished")
			return true
		}
		if err != nil {
			s.logger.Warn("manual entry ignored", "error", err)
			continue
		}
		if uid == "" {
			continue
		}

		select {
		case out <- uid:
		case <-ctx.Done():
			return true
		case <-s.closed:
			return true
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Error("read manual entry", "error", err)
	}
	return s.path == ""
}

func (s *Source) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Close stops the source and removes the pipe.
func (s *Source) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	if s.path == "" {
		return nil
	}

	// Wake a reader blocked in open.
	if f, err := os.OpenFile(s.path, os.O_WRONLY|unix.O_NONBLOCK, 0); err == nil {
		f.Close()
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// parseLine parses one manual entry line.
// Line format:
//
//	<uid>          - Card UID in hex
//	tag <uid>      - Same, with an explicit keyword
//	rfid <uid>     - Alias for tag
//	q|quit|exit    - End manual entry
//	# comment      - Ignored, as are blank lines
func parseLine(line string) (uid string, quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", false, nil
	}

	parts := strings.Fields(line)
	switch strings.ToLower(parts[0]) {
	case "q", "quit", "exit":
		return "", true, nil
	case "tag", "rfid":
		if len(parts) != 2 {
			return "", false, fmt.Errorf("%s requires one UID: %q", parts[0], line)
		}
		return strings.ToUpper(parts[1]), false, nil
	}
	if len(parts) != 1 {
		return "", false, fmt.Errorf("unexpected input: %q", line)
	}
	return strings.ToUpper(parts[0]), false, nil
}
