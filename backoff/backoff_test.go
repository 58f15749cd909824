package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNextDoublesToCeiling(t *testing.T) {
	floor, ceiling := time.Second, 60*time.Second
	b := New(floor, ceiling)

	for n := 1; n <= 10; n++ {
		b.Next()
		want := min(floor*time.Duration(1<<n), ceiling)
		if got := b.Delay(); got != want {
			t.Errorf("after %d failures Delay() = %v, want %v", n, got, want)
		}
		if b.Attempt() != n {
			t.Errorf("Attempt() = %d, want %d", b.Attempt(), n)
		}
	}
}

func TestNextReturnsWaitSequence(t *testing.T) {
	b := New(time.Second, 30*time.Second)
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i, w := range want {
		if got := b.Next(); got != w*time.Second {
			t.Errorf("Next() #%d = %v, want %v", i+1, got, w*time.Second)
		}
	}
}

func TestResetReturnsToFloor(t *testing.T) {
	b := New(time.Second, 60*time.Second)
	b.Next()
	b.Next()
	b.Next()
	b.Reset()

	if got := b.Next(); got != time.Second {
		t.Errorf("Next() after Reset = %v, want %v", got, time.Second)
	}
	if b.Attempt() != 1 {
		t.Errorf("Attempt() = %d, want 1", b.Attempt())
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() did not return promptly on cancelled context")
	}
}

func TestSleepElapses(t *testing.T) {
	if err := Sleep(context.Background(), 5*time.Millisecond); err != nil {
		t.Errorf("Sleep() error = %v, want nil", err)
	}
}
