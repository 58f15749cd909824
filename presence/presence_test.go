package presence

import (
	"testing"
	"time"
)

type read struct {
	uid string
	at  time.Duration
}

func run(tr *Tracker, reads []read) []string {
	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	var got []string
	for _, r := range reads {
		if tap, ok := tr.Observe(r.uid, base.Add(r.at)); ok {
			got = append(got, tap.CardUID)
		}
	}
	return got
}

func TestObserveSequences(t *testing.T) {
	tests := []struct {
		name  string
		reads []read
		want  int
	}{
		{
			name: "resting card then re-tap after gap",
			reads: []read{
				{"", 0},
				{"AA", 100 * time.Millisecond},
				{"AA", 200 * time.Millisecond},
				{"", 300 * time.Millisecond},
				{"AA", 2300 * time.Millisecond},
			},
			want: 2,
		},
		{
			name: "card resting within window",
			reads: []read{
				{"AA", 0},
				{"AA", 500 * time.Millisecond},
				{"AA", 1000 * time.Millisecond},
				{"AA", 1500 * time.Millisecond},
			},
			want: 1,
		},
		{
			name: "card resting past window",
			reads: []read{
				{"AA", 0},
				{"AA", 1000 * time.Millisecond},
				{"AA", 1600 * time.Millisecond},
				{"AA", 2000 * time.Millisecond},
			},
			want: 2,
		},
		{
			name: "card swap",
			reads: []read{
				{"AA", 0},
				{"BB", 100 * time.Millisecond},
				{"AA", 200 * time.Millisecond},
			},
			want: 3,
		},
		{
			name: "quick lift and replace",
			reads: []read{
				{"AA", 0},
				{"", 50 * time.Millisecond},
				{"AA", 100 * time.Millisecond},
			},
			want: 2,
		},
		{
			name:  "no card",
			reads: []read{{"", 0}, {"", time.Second}},
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run(New("reader-1", 0), tt.reads)
			if len(got) != tt.want {
				t.Errorf("taps = %v (%d), want %d", got, len(got), tt.want)
			}
		})
	}
}

func TestObserveTapFields(t *testing.T) {
	tr := New("reader-2", time.Second)
	at := time.Date(2026, 1, 5, 10, 0, 0, 0, time.FixedZone("CET", 3600))

	tap, ok := tr.Observe("deadbeef", at)
	if !ok {
		t.Fatal("Observe() ok = false, want true")
	}
	if tap.CardUID != "DEADBEEF" {
		t.Errorf("CardUID = %q, want %q", tap.CardUID, "DEADBEEF")
	}
	if tap.ReaderID != "reader-2" {
		t.Errorf("ReaderID = %q, want %q", tap.ReaderID, "reader-2")
	}
	if tap.ObservedAt.Location() != time.UTC || !tap.ObservedAt.Equal(at) {
		t.Errorf("ObservedAt = %v, want %v in UTC", tap.ObservedAt, at)
	}
}

func TestAbsentClearsPresence(t *testing.T) {
	tr := New("reader-1", 0)
	now := time.Now()
	tr.Observe("AA", now)
	if uid, ok := tr.Present(); !ok || uid != "AA" {
		t.Fatalf("Present() = %q, %v, want AA, true", uid, ok)
	}
	tr.Observe("", now.Add(10*time.Millisecond))
	if _, ok := tr.Present(); ok {
		t.Error("Present() ok = true after empty read, want false")
	}
}
