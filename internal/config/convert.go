package config

import (
	"github.com/aristath/taskloop/internal/resilience"
)

// RetryPolicy returns the strategy retry policy.
func (c *Config) RetryPolicy() resilience.RetryConfig {
	r := resilience.DefaultRetryConfig()
	r.InitialInterval = c.Retry.InitialInterval.Std()
	r.MaxInterval = c.Retry.MaxInterval.Std()
	r.MaxElapsedTime = c.Retry.MaxElapsedTime.Std()
	r.MaxRetries = c.Retry.MaxRetries
	return r
}

// BreakerPolicy returns the circuit breaker settings.
func (c *Config) BreakerPolicy() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		MaxRequests:         c.Breaker.MaxRequests,
		Timeout:             c.Breaker.Timeout.Std(),
		ConsecutiveFailures: c.Breaker.ConsecutiveFailures,
	}
}
