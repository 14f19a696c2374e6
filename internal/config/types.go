package config

import (
	"fmt"
	"time"
)

// DAGShapeConfig describes a layered synthetic DAG to generate for a
// benchmark run: layerSizes[i] tasks in layer i, each depending on fanIn
// tasks from the previous layer (wrapping around if fanIn exceeds the
// previous layer's size).
type DAGShapeConfig struct {
	LayerSizes []int `json:"layer_sizes"`
	FanIn      int   `json:"fan_in"`
}

// RetryConfig mirrors scheduler.RetryConfig in JSON-friendly form so a
// benchmark or driver run can tune hardening behavior without recompiling.
// Durations use time.ParseDuration syntax, e.g. "10ms".
type RetryConfig struct {
	InitialInterval     string  `json:"initial_interval"`
	MaxInterval         string  `json:"max_interval"`
	MaxElapsedTime      string  `json:"max_elapsed_time"`
	Multiplier          float64 `json:"multiplier"`
	RandomizationFactor float64 `json:"randomization_factor"`
}

// Resolve parses the string durations into the three durations a
// scheduler.RetryConfig needs, substituting 100ms, 10s and 2m for empty
// strings. Called
// once at driver startup; a malformed duration is a configuration error.
func (r RetryConfig) Resolve() (initial, maxInterval, maxElapsed time.Duration, err error) {
	if initial, err = time.ParseDuration(orDefault(r.InitialInterval, "100ms")); err != nil {
		return 0, 0, 0, fmt.Errorf("initial_interval: %w", err)
	}
	if maxInterval, err = time.ParseDuration(orDefault(r.MaxInterval, "10s")); err != nil {
		return 0, 0, 0, fmt.Errorf("max_interval: %w", err)
	}
	if maxElapsed, err = time.ParseDuration(orDefault(r.MaxElapsedTime, "2m")); err != nil {
		return 0, 0, 0, fmt.Errorf("max_elapsed_time: %w", err)
	}
	return initial, maxInterval, maxElapsed, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// CircuitBreakerConfig mirrors scheduler.CircuitBreakerSettings in
// JSON-friendly form. Category names which resilience category it tunes
// ("default" if a run only needs one); Interval and Timeout use
// time.ParseDuration syntax, e.g. "30s".
type CircuitBreakerConfig struct {
	Category            string `json:"category"`
	MaxRequests         uint32 `json:"max_requests"`
	Interval            string `json:"interval"`
	Timeout             string `json:"timeout"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// Resolve parses the string durations into the fields a
// scheduler.CircuitBreakerSettings needs. Called once at driver startup; a
// malformed duration is a configuration error.
func (c CircuitBreakerConfig) Resolve() (maxRequests uint32, interval, timeout time.Duration, consecutiveFailures uint32, err error) {
	if interval, err = time.ParseDuration(orDefault(c.Interval, "0s")); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("interval: %w", err)
	}
	if timeout, err = time.ParseDuration(orDefault(c.Timeout, "30s")); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("timeout: %w", err)
	}

	maxRequests = c.MaxRequests
	if maxRequests == 0 {
		maxRequests = 3
	}
	consecutiveFailures = uint32(c.ConsecutiveFailures)
	if consecutiveFailures == 0 {
		consecutiveFailures = 5
	}

	return maxRequests, interval, timeout, consecutiveFailures, nil
}

// RunConfig is the top-level configuration for a dagbench run: how many
// workers service the scheduler, what DAG shape to generate, and how
// hardened work closures should retry and trip their circuit breakers.
type RunConfig struct {
	Workers          int                    `json:"workers"`
	DAG              DAGShapeConfig         `json:"dag"`
	Retry            RetryConfig            `json:"retry"`
	CircuitBreakers  []CircuitBreakerConfig `json:"circuit_breakers,omitempty"`
	SimulatedLatency string                 `json:"simulated_latency,omitempty"` // per-task sleep, e.g. "100us"
	FailureRate      float64                `json:"failure_rate,omitempty"`      // 0..1, probability that each work attempt fails; failed attempts are retried through ResilientWork
}
