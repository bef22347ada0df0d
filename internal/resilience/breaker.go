// Package resilience guards collaborator calls with a circuit breaker and a
// bounded exponential retry.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Default circuit breaker settings.
const (
	defaultMaxFailures uint32        = 5
	defaultOpenTimeout time.Duration = 30 * time.Second
	defaultInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	Enabled bool
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before going half-open.
	OpenTimeout time.Duration
	// Interval is the cyclic period of the closed state for clearing counts.
	Interval time.Duration
}

// Breaker wraps gobreaker for one collaborator. A nil *Breaker passes calls
// straight through, which is what a disabled config yields.
type Breaker[T any] struct {
	name string
	cb   *gobreaker.CircuitBreaker[T]
}

// NewBreaker returns nil when cfg.Enabled is false.
func NewBreaker[T any](name string, cfg BreakerConfig, logger *slog.Logger) *Breaker[T] {
	if !cfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = defaultOpenTimeout
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	cb := gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // one probe while half-open
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Our own cancellation says nothing about the collaborator's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &Breaker[T]{name: name, cb: cb}
}

// Execute runs fn through the breaker.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	if b == nil {
		return fn()
	}
	out, err := b.cb.Execute(fn)
	if err != nil && IsOpen(err) {
		return out, fmt.Errorf("%s circuit open: %w", b.name, err)
	}
	return out, err
}

// State reports the breaker state, or "disabled" for a nil breaker.
func (b *Breaker[T]) State() string {
	if b == nil {
		return "disabled"
	}
	return b.cb.State().String()
}

// IsOpen reports whether err came from a breaker refusing the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
