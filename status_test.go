package main

import (
	"reflect"
	"sync"
	"testing"

	"tapbridge/bridge"
	"tapbridge/mqtt"
)

type recordingIndicator struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingIndicator) record(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recordingIndicator) Online()         { r.record("online") }
func (r *recordingIndicator) Tap()            { r.record("tap") }
func (r *recordingIndicator) ConnectionLost() { r.record("connection_lost") }
func (r *recordingIndicator) ReaderFault()    { r.record("reader_fault") }
func (r *recordingIndicator) Shutdown()       { r.record("shutdown") }
func (r *recordingIndicator) Release() error  { return nil }

func TestStatusMirror(t *testing.T) {
	client, err := mqtt.New(mqtt.Config{}, "pos-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	ind := &recordingIndicator{}
	s := &statusMirror{indicator: ind, mqtt: client}

	for _, st := range []bridge.State{
		bridge.StateConnectionLost,
		bridge.StateOnline,
		bridge.StateTap,
		bridge.StateReaderFault,
		bridge.StateShutdown,
	} {
		s.Report("reader-1", st)
	}

	// Shutdown is left to main, which owns the shared indicator.
	want := []string{"connection_lost", "online", "tap", "reader_fault"}
	if !reflect.DeepEqual(ind.calls, want) {
		t.Errorf("indicator calls = %v, want %v", ind.calls, want)
	}
}
