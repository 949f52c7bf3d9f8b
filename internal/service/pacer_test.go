package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPacer_SpacesCalls(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var slept []time.Duration
	p := NewPacer(2*time.Second, WithPacerClock(
		func() time.Time { return now },
		func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			now = now.Add(d)
			return nil
		}))

	ctx := context.Background()
	noop := func(context.Context) error { return nil }
	if err := p.Do(ctx, noop); err != nil {
		t.Fatalf("first Do() error = %v", err)
	}
	if len(slept) != 0 {
		t.Fatalf("first call should not wait, slept %v", slept)
	}

	now = now.Add(500 * time.Millisecond)
	if err := p.Do(ctx, noop); err != nil {
		t.Fatalf("second Do() error = %v", err)
	}
	if len(slept) != 1 || slept[0] != 1500*time.Millisecond {
		t.Fatalf("slept = %v, want [1.5s]", slept)
	}

	now = now.Add(5 * time.Second)
	if err := p.Do(ctx, noop); err != nil {
		t.Fatalf("third Do() error = %v", err)
	}
	if len(slept) != 1 {
		t.Errorf("no wait expected once the interval elapsed, slept %v", slept)
	}
}

func TestPacer_GapStartsWhenCallReturns(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var slept []time.Duration
	p := NewPacer(2*time.Second, WithPacerClock(
		func() time.Time { return now },
		func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			now = now.Add(d)
			return nil
		}))

	ctx := context.Background()
	slow := func(context.Context) error {
		now = now.Add(10 * time.Second)
		return errors.New("backend failed")
	}
	if err := p.Do(ctx, slow); err == nil {
		t.Fatal("Do() should return the call's error")
	}

	var startedAt time.Time
	if err := p.Do(ctx, func(context.Context) error {
		startedAt = now
		return nil
	}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Fatalf("slept = %v, want the full interval after a long call", slept)
	}
	want := time.Date(2026, 1, 1, 0, 0, 12, 0, time.UTC)
	if !startedAt.Equal(want) {
		t.Errorf("second call started at %v, want %v", startedAt, want)
	}
}

func TestPacer_Cancelled(t *testing.T) {
	p := NewPacer(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("first Do() error = %v", err)
	}
	cancel()

	called := false
	start := time.Now()
	err := p.Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("fn must not run after cancellation")
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled wait should return promptly")
	}
}

func TestPacer_ZeroInterval(t *testing.T) {
	p := NewPacer(0)
	calls := 0
	for i := 0; i < 3; i++ {
		if err := p.Do(context.Background(), func(context.Context) error {
			calls++
			return nil
		}); err != nil {
			t.Fatalf("Do() error = %v", err)
		}
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}
