package config

import (
	"time"

	"github.com/aristath/taskloop/internal/decision"
	"github.com/aristath/taskloop/internal/memory"
	"github.com/aristath/taskloop/internal/observe"
)

// DefaultConfig returns the default configuration with the built-in claude
// provider. Strategies and the tool agent are off, so nothing shells out to a
// model unless enabled.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{
			"claude": {
				Command: "claude",
				Type:    "claude",
			},
		},
		Strategy: StrategyConfig{
			Provider: "claude",
			Timeout:  Duration(60 * time.Second),
		},
		Loop: LoopConfig{
			MaxIterations: 50,
			Parallelism:   1,
			TaskTimeout:   Duration(5 * time.Minute),
			ContextChars:  2000,
		},
		Decision: decision.DefaultThresholds(),
		Memory:   memory.DefaultConfig(),
		Decomposer: DecomposerConfig{
			MaxDepth:    4,
			MaxSubtasks: 7,
		},
		Observation: ObservationConfig{
			Snapshot: true,
			MaxFiles: observe.DefaultMaxSnapshotFiles,
		},
		Retry: RetryConfig{
			InitialInterval: Duration(100 * time.Millisecond),
			MaxInterval:     Duration(10 * time.Second),
			MaxElapsedTime:  Duration(2 * time.Minute),
			MaxRetries:      2,
		},
		Breaker: BreakerConfig{
			MaxRequests:         3,
			Timeout:             Duration(30 * time.Second),
			ConsecutiveFailures: 5,
		},
		Tools: ToolsConfig{
			Provider:  "claude",
			MaxOutput: 64 * 1024,
		},
		Store: StoreConfig{
			Path: ".taskloop/journal.db",
		},
	}
}
