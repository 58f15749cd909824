package indicator

import (
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"
)

type fakeLamps struct {
	mu     sync.Mutex
	on     [3]bool
	closed bool
}

func (f *fakeLamps) set(l led, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on[l] = on
}

func (f *fakeLamps) close() error {
	f.closed = true
	return nil
}

func (f *fakeLamps) state() [3]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

func TestLightsStates(t *testing.T) {
	tests := []struct {
		name  string
		apply func(*Lights)
		want  [3]bool // green, yellow, red
	}{
		{"online", (*Lights).Online, [3]bool{true, false, false}},
		{"connection lost", (*Lights).ConnectionLost, [3]bool{false, true, true}},
		{"reader fault", (*Lights).ReaderFault, [3]bool{false, false, true}},
		{"shutdown", (*Lights).Shutdown, [3]bool{false, false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeLamps{on: [3]bool{true, true, true}}
			g := newLights(f, time.Millisecond)
			tt.apply(g)
			if got := f.state(); got != tt.want {
				t.Errorf("lamps = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLightsTapFlashRestores(t *testing.T) {
	f := &fakeLamps{}
	g := newLights(f, 20*time.Millisecond)
	g.Online()
	g.Tap()

	if got, want := f.state(), [3]bool{true, true, false}; got != want {
		t.Fatalf("lamps during flash = %v, want %v", got, want)
	}

	deadline := time.Now().Add(time.Second)
	for f.state() != [3]bool{true, false, false} {
		if time.Now().After(deadline) {
			t.Fatalf("lamps after flash = %v, want green only", f.state())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLightsRelease(t *testing.T) {
	f := &fakeLamps{}
	g := newLights(f, time.Hour)
	g.ConnectionLost()
	g.Tap()
	if err := g.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if got := f.state(); got != [3]bool{} {
		t.Errorf("lamps after release = %v, want all off", got)
	}
	if !f.closed {
		t.Error("lamps not closed")
	}
}

type recorder struct {
	calls []string
}

func (r *recorder) Online()         { r.calls = append(r.calls, "online") }
func (r *recorder) Tap()            { r.calls = append(r.calls, "tap") }
func (r *recorder) ConnectionLost() { r.calls = append(r.calls, "connection_lost") }
func (r *recorder) ReaderFault()    { r.calls = append(r.calls, "reader_fault") }
func (r *recorder) Shutdown()       { r.calls = append(r.calls, "shutdown") }
func (r *recorder) Release() error  { r.calls = append(r.calls, "release"); return nil }

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := NewMulti(a, b)
	m.Online()
	m.Tap()
	m.ReaderFault()
	m.ConnectionLost()
	m.Shutdown()
	m.Release()

	want := []string{"online", "tap", "reader_fault", "connection_lost", "shutdown", "release"}
	for i, r := range []*recorder{a, b} {
		if !reflect.DeepEqual(r.calls, want) {
			t.Errorf("indicator %d calls = %v, want %v", i, r.calls, want)
		}
	}
}

func TestNewUnconfiguredIsNoop(t *testing.T) {
	ind, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := ind.(*Noop); !ok {
		t.Errorf("New() = %T, want *Noop", ind)
	}
}

func TestNeopixelWritesCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neopixel")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	ind, err := New(Config{NeopixelPipe: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ind.Online()
	ind.ReaderFault()
	if err := ind.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := neoConnectionLost + neoOnline + neoReaderFault
	if string(got) != want {
		t.Errorf("pipe contents = %q, want %q", got, want)
	}
}
