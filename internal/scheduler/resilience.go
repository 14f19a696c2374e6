package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryConfig configures exponential backoff retry behavior for
// ResilientWork.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 2min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// CircuitBreakerSettings tunes the gobreaker.Settings a CircuitBreakerRegistry
// builds for every category it has not yet seen. The zero value is not
// usable directly; construct one with DefaultCircuitBreakerSettings.
type CircuitBreakerSettings struct {
	MaxRequests         uint32        // half-open probe budget (default 3)
	Interval            time.Duration // closed-state counter reset period (default 0, never reset)
	Timeout             time.Duration // open-state duration before probing half-open (default 30s)
	ConsecutiveFailures uint32        // consecutive failures before tripping (default 5)
}

// DefaultCircuitBreakerSettings returns the registry's built-in defaults.
func DefaultCircuitBreakerSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		MaxRequests:         3,
		Interval:            0,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// CircuitBreakerRegistry manages one circuit breaker per named category of
// task (e.g. "fetch-pricing", "write-s3"), so that many tasks calling the
// same flaky external resource share trip state instead of each retrying
// independently into the same outage.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	defaults CircuitBreakerSettings
}

// NewCircuitBreakerRegistry creates a new, empty registry using
// DefaultCircuitBreakerSettings for every category.
func NewCircuitBreakerRegistry() *CircuitBreakerRegistry {
	return NewCircuitBreakerRegistryWithSettings(DefaultCircuitBreakerSettings())
}

// NewCircuitBreakerRegistryWithSettings creates a new, empty registry that
// builds every category's breaker from settings, letting a driver tune
// trip behavior (e.g. from a RunConfig) without recompiling.
func NewCircuitBreakerRegistryWithSettings(settings CircuitBreakerSettings) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		defaults: settings,
	}
}

// Get returns the circuit breaker for the given category, creating one on
// first access using the registry's configured settings.
func (r *CircuitBreakerRegistry) Get(category string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[category]; ok {
		return cb
	}

	settings := r.defaults
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        category,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[category] = cb
	return cb
}

// ResilientWork wraps a fallible operation into the no-input, no-return
// closure Task.work requires. op is retried with exponential backoff and
// run through cb's circuit breaker; if it is still failing once retries
// are exhausted or the breaker is open, the error is written to errOut (if
// non-nil) and swallowed rather than propagated. A panic raised by op is
// recovered and treated as a failed attempt.
//
// This is the hardening spec.md §4.3/§7 permits: a work closure is
// required not to fail, because an unrecovered failure would stall every
// transitive successor and WaitAll forever, so ResilientWork guarantees the
// Task it backs always reaches TaskCompleted. errOut lets the caller
// observe the terminal failure through captured state, the only channel
// spec.md allows for task outcomes.
func ResilientWork(ctx context.Context, cb *gobreaker.CircuitBreaker, retryCfg RetryConfig, op func(ctx context.Context) error, errOut *error) func() {
	return func() {
		operation := func() error {
			if err := ctx.Err(); err != nil {
				return backoff.Permanent(err)
			}

			_, err := cb.Execute(func() (_ interface{}, err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("work panicked: %v", r)
					}
				}()
				return nil, op(ctx)
			})
			if err != nil {
				if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
					return backoff.Permanent(err)
				}
				if ctx.Err() != nil {
					return backoff.Permanent(err)
				}
				return err
			}

			return nil
		}

		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = retryCfg.InitialInterval
		policy.MaxInterval = retryCfg.MaxInterval
		policy.MaxElapsedTime = retryCfg.MaxElapsedTime
		policy.Multiplier = retryCfg.Multiplier
		policy.RandomizationFactor = retryCfg.RandomizationFactor

		err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
		if err != nil {
			log.Printf("resilient work exhausted retries: %v", err)
			if errOut != nil {
				*errOut = err
			}
		}
	}
}
