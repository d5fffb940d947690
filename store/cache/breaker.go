package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
)

// BreakerConfig configures the circuit breaker in front of the remote store.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32        // consecutive failures before opening (default: 5)
	OpenTimeout      time.Duration // time spent open before a trial call (default: 30s)
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "durable-cache",
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

func newBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("durable cache breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// An absent key is a healthy answer from the store, and a caller
		// giving up says nothing about it.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrKeyNotFound) || isCallerDone(err)
		},
	})
}

// callerDoneError reports a remote call abandoned because the caller's
// context ended first.
type callerDoneError struct {
	cause error
}

func (e *callerDoneError) Error() string { return "caller context done: " + e.cause.Error() }
func (e *callerDoneError) Unwrap() error { return e.cause }

func isCallerDone(err error) bool {
	var done *callerDoneError
	return errors.As(err, &done) || errors.Is(err, context.Canceled)
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
