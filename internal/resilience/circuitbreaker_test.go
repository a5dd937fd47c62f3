package resilience

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testBreaker returns a breaker whose clock the test controls.
func testBreaker(cfg BreakerConfig) (*Breaker, *time.Time) {
	b := NewBreaker(cfg, quietLog())
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	b.nowFunc = func() time.Time { return now }
	return b, &now
}

func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "stt"}, quietLog())
	if b.thresh != 5 {
		t.Errorf("threshold = %d, want 5", b.thresh)
	}
	if b.coolDown != 30*time.Second {
		t.Errorf("coolDown = %v, want 30s", b.coolDown)
	}
	if b.probes != 3 {
		t.Errorf("probes = %d, want 3", b.probes)
	}
	if b.State() != Closed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := testBreaker(BreakerConfig{Threshold: 3, CoolDown: time.Hour})

	for range 3 {
		_ = b.Do(func() error { return errBackend })
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want open after 3 failures", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b, _ := testBreaker(BreakerConfig{Threshold: 3, CoolDown: time.Hour})

	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return nil })
	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })

	if b.State() != Closed {
		t.Fatalf("state = %v, want closed (success resets the streak)", b.State())
	}
}

func TestBreakerProbesAndCloses(t *testing.T) {
	b, now := testBreaker(BreakerConfig{Threshold: 2, CoolDown: time.Minute, Probes: 2})

	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })
	if b.State() != Open {
		t.Fatal("expected open")
	}

	*now = now.Add(time.Minute)
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want half-open after cool-down", b.State())
	}

	for i := range 2 {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed after successful probes", b.State())
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b, now := testBreaker(BreakerConfig{Threshold: 2, CoolDown: time.Minute, Probes: 3})

	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })
	*now = now.Add(time.Minute)

	if err := b.Do(func() error { return errBackend }); err == nil {
		t.Fatal("expected error from failing probe")
	}

	// Re-opened, and the cool-down restarts from the probe failure.
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen after failed probe", err)
	}
}

func TestBreakerReset(t *testing.T) {
	b, _ := testBreaker(BreakerConfig{Threshold: 2, CoolDown: time.Hour})

	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })
	b.Reset()

	if b.State() != Closed {
		t.Fatalf("state = %v, want closed after reset", b.State())
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestStateString(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(9), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
