package config

// DefaultConfig returns the configuration used when no file overrides are
// present: a modest worker pool, a 10->50->10->1 layered shape with fan-in
// 2, and conservative retry/breaker settings.
func DefaultConfig() *RunConfig {
	return &RunConfig{
		Workers: 8,
		DAG: DAGShapeConfig{
			LayerSizes: []int{10, 50, 10, 1},
			FanIn:      2,
		},
		Retry: RetryConfig{
			InitialInterval:     "10ms",
			MaxInterval:         "1s",
			MaxElapsedTime:      "30s",
			Multiplier:          2.0,
			RandomizationFactor: 0.5,
		},
		CircuitBreakers: []CircuitBreakerConfig{
			{
				Category:            "default",
				MaxRequests:         1,
				Interval:            "30s",
				Timeout:             "10s",
				ConsecutiveFailures: 5,
			},
		},
	}
}
