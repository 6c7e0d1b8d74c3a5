package config

import (
	"errors"
	"fmt"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Validate rejects out-of-range values. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Loop.MaxIterations > 0, "loop.max_iterations must be positive, got %d", c.Loop.MaxIterations)
	check(c.Loop.Parallelism > 0, "loop.parallelism must be positive, got %d", c.Loop.Parallelism)
	check(c.Loop.TaskTimeout > 0, "loop.task_timeout must be positive, got %s", c.Loop.TaskTimeout)
	check(c.Loop.ContextChars >= 0, "loop.context_chars must not be negative")

	d := c.Decision
	check(d.MaxRetries >= 0, "decision.max_retries must not be negative")
	check(d.StuckThreshold >= 1, "decision.stuck_threshold must be at least 1, got %d", d.StuckThreshold)
	check(inUnit(d.ConfidenceThreshold), "decision.confidence_threshold must be within [0, 1], got %v", d.ConfidenceThreshold)
	check(inUnit(d.LowPrioritySkipProgress), "decision.low_priority_skip_progress must be within [0, 1], got %v", d.LowPrioritySkipProgress)
	check(inUnit(d.CompletionProgress), "decision.completion_progress must be within [0, 1], got %v", d.CompletionProgress)

	m := c.Memory
	check(m.MaxObservations >= 0 && m.MaxReflections >= 0 && m.MaxDecisions >= 0 && m.MaxFacts >= 0 && m.MaxPatterns >= 0,
		"memory caps must not be negative")

	check(c.Decomposer.MaxDepth >= 0 && c.Decomposer.MaxDepth <= 4, "decomposer.max_depth must be within [0, 4], got %d", c.Decomposer.MaxDepth)
	check(c.Decomposer.MaxSubtasks >= 0, "decomposer.max_subtasks must not be negative")
	check(c.Observation.MaxFiles >= 0, "observation.max_files must not be negative")
	check(!c.Observation.Watch || c.Observation.Workspace != "", "observation.watch requires observation.workspace")

	check(c.Breaker.ConsecutiveFailures > 0, "breaker.consecutive_failures must be positive")
	check(c.Retry.MaxInterval >= c.Retry.InitialInterval, "retry.max_interval must not be below retry.initial_interval")

	if c.Strategy.Enabled {
		p, ok := c.Providers[c.Strategy.Provider]
		check(ok, "strategy.provider %q is not a configured provider", c.Strategy.Provider)
		check(!ok || p.Command != "", "provider %q has no command", c.Strategy.Provider)
		check(c.Strategy.Timeout > 0, "strategy.timeout must be positive")
	}
	if c.Tools.Agent {
		_, ok := c.Providers[c.Tools.Provider]
		check(ok, "tools.provider %q is not a configured provider", c.Tools.Provider)
	}
	check(c.Tools.MaxOutput >= 0, "tools.max_output must not be negative")

	return errors.Join(errs...)
}

func inUnit(v float64) bool { return v >= 0 && v <= 1 }
