package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrExhausted is returned when every backend in a [Failover] either failed
// or had an open breaker.
var ErrExhausted = errors.New("resilience: all backends failed")

// backend pairs one provider instance with its dedicated breaker.
type backend[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Failover holds an ordered list of interchangeable backends. Calls go to the
// first backend whose breaker admits them; on failure the next one is tried.
//
// Failover is safe for concurrent use once assembled. Add is not safe to call
// concurrently with Try.
type Failover[T any] struct {
	backends []backend[T]
	cfg      BreakerConfig
	log      *slog.Logger
}

// NewFailover creates a failover group with primary as the preferred backend.
// cfg.Name is overridden per backend.
func NewFailover[T any](primary T, name string, cfg BreakerConfig, log *slog.Logger) *Failover[T] {
	if log == nil {
		log = slog.Default()
	}
	f := &Failover[T]{cfg: cfg, log: log.With("component", "failover")}
	f.Add(name, primary)
	return f
}

// Add appends a backend. Backends are tried in registration order.
func (f *Failover[T]) Add(name string, value T) {
	cfg := f.cfg
	cfg.Name = name
	f.backends = append(f.backends, backend[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(cfg, f.log),
	})
}

// Try runs fn against each backend in order until one succeeds. Backends with
// open breakers are skipped. When every backend fails, the returned error
// wraps [ErrExhausted] and the last failure.
func (f *Failover[T]) Try(fn func(T) error) error {
	var lastErr error
	for i := range f.backends {
		be := &f.backends[i]
		err := be.breaker.Do(func() error { return fn(be.value) })
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			f.log.Debug("skipping backend, circuit open", "backend", be.name)
		} else {
			f.log.Warn("backend failed, trying next", "backend", be.name, "error", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

// Try1 runs fn against each backend until one returns a value. A package
// function rather than a method because Go methods cannot add type
// parameters.
func Try1[T, R any](f *Failover[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range f.backends {
		be := &f.backends[i]
		var out R
		err := be.breaker.Do(func() error {
			var inner error
			out, inner = fn(be.value)
			return inner
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			f.log.Debug("skipping backend, circuit open", "backend", be.name)
		} else {
			f.log.Warn("backend failed, trying next", "backend", be.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}
