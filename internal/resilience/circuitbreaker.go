// Package resilience protects the voice pipeline's provider calls from
// cascading failures.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open).
// [Failover] composes several instances of a provider type, each behind its
// own breaker, so a dying primary STT/LLM/TTS backend is bypassed in favour
// of the next healthy one without dropping the call.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker is open and the
// cool-down has not elapsed.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards every call. Normal operation.
	Closed State = iota

	// Open rejects calls with [ErrOpen] until the cool-down elapses.
	Open

	// HalfOpen lets a bounded number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields get defaults.
type BreakerConfig struct {
	// Name labels the breaker in log lines, usually the provider name.
	Name string

	// Threshold is the consecutive-failure count that opens the breaker.
	// Default 5.
	Threshold int

	// CoolDown is how long the breaker stays open before probing.
	// Default 30s.
	CoolDown time.Duration

	// Probes is the number of half-open calls allowed before the breaker
	// decides. Default 3.
	Probes int
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name     string
	thresh   int
	coolDown time.Duration
	probes   int
	log      *slog.Logger
	nowFunc  func() time.Time

	mu         sync.Mutex
	state      State
	failures   int
	lastFail   time.Time
	probeCalls int
	probeFails int
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(cfg BreakerConfig, log *slog.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{
		name:     cfg.Name,
		thresh:   cfg.Threshold,
		coolDown: cfg.CoolDown,
		probes:   cfg.Probes,
		log:      log.With("component", "breaker", "breaker", cfg.Name),
		nowFunc:  time.Now,
	}
}

// Do runs fn if the breaker allows it. In the open state it returns [ErrOpen]
// without calling fn; in half-open only a bounded number of probes pass.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if b.nowFunc().Sub(b.lastFail) < b.coolDown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.probeCalls = 0
		b.probeFails = 0
		b.log.Info("circuit half-open, probing")

	case HalfOpen:
		if b.probeCalls >= b.probes {
			// Probe budget spent, verdict pending from in-flight calls.
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == HalfOpen
	if probing {
		b.probeCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.lastFail = b.nowFunc()

	if probing {
		b.probeFails++
		b.state = Open
		b.failures = b.thresh
		b.log.Warn("circuit re-opened by failed probe")
		return
	}

	b.failures++
	if b.failures >= b.thresh {
		b.state = Open
		b.log.Warn("circuit opened", "consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probeCalls-b.probeFails >= b.probes {
			b.state = Closed
			b.failures = 0
			b.probeCalls = 0
			b.probeFails = 0
			b.log.Info("circuit closed after successful probes")
		}
		return
	}
	b.failures = 0
}

// State reports the breaker's mode. An open breaker whose cool-down has
// elapsed reports [HalfOpen]; the actual transition happens on the next Do.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.nowFunc().Sub(b.lastFail) >= b.coolDown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probeCalls = 0
	b.probeFails = 0
	b.log.Info("circuit reset")
}
