package eventpipe

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(t *testing.T, ch <-chan string) []string {
	t.Helper()
	var got []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case uid, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, uid)
		case <-timeout:
			t.Fatalf("source not closed, got %v so far", got)
		}
	}
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line     string
		wantUID  string
		wantQuit bool
		wantErr  bool
	}{
		{"04a23b1c", "04A23B1C", false, false},
		{"  deadbeef  ", "DEADBEEF", false, false},
		{"tag 04a23b1c", "04A23B1C", false, false},
		{"RFID deadbeef", "DEADBEEF", false, false},
		{"", "", false, false},
		{"# comment", "", false, false},
		{"q", "", true, false},
		{"QUIT", "", true, false},
		{"exit", "", true, false},
		{"tag", "", false, true},
		{"04a2 3b1c", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			uid, quit, err := parseLine(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLine() error = %v, wantErr %v", err, tt.wantErr)
			}
			if uid != tt.wantUID || quit != tt.wantQuit {
				t.Errorf("parseLine() = %q, %v, want %q, %v", uid, quit, tt.wantUID, tt.wantQuit)
			}
		})
	}
}

func TestStdinStopsAtQuit(t *testing.T) {
	in := strings.NewReader("04a23b1c\n\nnot a uid\ndeadbeef\nquit\ncafebabe\n")
	s, err := New(Config{}, in, quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got := collect(t, s.Lines(context.Background()))
	want := []string{"04A23B1C", "DEADBEEF"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Lines() = %v, want %v", got, want)
	}
}

func TestStdinStopsAtEOF(t *testing.T) {
	s, err := New(Config{}, strings.NewReader("04a23b1c"), quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := collect(t, s.Lines(context.Background())); !reflect.DeepEqual(got, []string{"04A23B1C"}) {
		t.Errorf("Lines() = %v", got)
	}
}

func TestNamedPipe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uids")
	s, err := New(Config{Path: path}, nil, quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	lines := s.Lines(context.Background())

	write := func(text string) *os.File {
		t.Helper()
		w, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			t.Fatalf("open pipe for writing: %v", err)
		}
		if _, err := w.WriteString(text); err != nil {
			t.Fatalf("write pipe: %v", err)
		}
		return w
	}

	// The source reopens the pipe after the first writer hangs up.
	write("04a23b1c\n").Close()
	if uid := <-lines; uid != "04A23B1C" {
		t.Fatalf("first uid = %q", uid)
	}

	w := write("tag deadbeef\nq\n")
	defer w.Close()
	if got := collect(t, lines); !reflect.DeepEqual(got, []string{"DEADBEEF"}) {
		t.Errorf("Lines() = %v, want [DEADBEEF]", got)
	}
}

func TestCloseUnblocksPipe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uids")
	s, err := New(Config{Path: path}, nil, quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	lines := s.Lines(context.Background())
	time.Sleep(20 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := collect(t, lines); len(got) != 0 {
		t.Errorf("Lines() = %v, want none", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("pipe still exists after Close: %v", err)
	}
}
