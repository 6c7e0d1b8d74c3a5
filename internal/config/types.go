package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aristath/taskloop/internal/decision"
	"github.com/aristath/taskloop/internal/memory"
)

// Duration is a time.Duration written as a Go duration string ("5m", "90s")
// in JSON and YAML files. Plain JSON numbers are read as nanoseconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("duration must be a string like \"30s\": %s", data)
		}
		*d = Duration(n)
		return nil
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// ProviderConfig defines a CLI model backend (command, args, base settings).
// Several strategy roles can share one provider.
type ProviderConfig struct {
	Command       string   `json:"command" yaml:"command"`                                   // CLI binary name (e.g., "claude")
	Args          []string `json:"args,omitempty" yaml:"args,omitempty"`                     // Default args appended to every invocation
	Type          string   `json:"type" yaml:"type"`                                         // Backend type matching backend.Config.Type
	ModelProvider string   `json:"model_provider,omitempty" yaml:"model_provider,omitempty"` // Provider behind the CLI, goose only (e.g. "ollama")
}

// StrategyConfig selects the provider behind planning and judgment. When
// disabled, decomposition uses templates and reflection uses heuristics.
type StrategyConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	Provider     string   `json:"provider" yaml:"provider"`                               // Key into Providers
	Model        string   `json:"model,omitempty" yaml:"model,omitempty"`                 // Model override
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"` // Appended to built-in prompts
	Timeout      Duration `json:"timeout" yaml:"timeout"`                                 // Per-call timeout
}

// LoopConfig bounds the executor.
type LoopConfig struct {
	MaxIterations int      `json:"max_iterations" yaml:"max_iterations"`
	Parallelism   int      `json:"parallelism" yaml:"parallelism"`
	TaskTimeout   Duration `json:"task_timeout" yaml:"task_timeout"`
	ContextChars  int      `json:"context_chars" yaml:"context_chars"`
}

// DecomposerConfig bounds task decomposition.
type DecomposerConfig struct {
	MaxDepth    int `json:"max_depth" yaml:"max_depth"`
	MaxSubtasks int `json:"max_subtasks" yaml:"max_subtasks"`
}

// ObservationConfig controls workspace change capture.
type ObservationConfig struct {
	Workspace         string   `json:"workspace" yaml:"workspace"`
	Snapshot          bool     `json:"snapshot" yaml:"snapshot"`
	Watch             bool     `json:"watch" yaml:"watch"`
	MaxFiles          int      `json:"max_files" yaml:"max_files"`
	CompletionPhrases []string `json:"completion_phrases,omitempty" yaml:"completion_phrases,omitempty"`
}

// RetryConfig is the exponential backoff applied to strategy calls.
type RetryConfig struct {
	InitialInterval Duration `json:"initial_interval" yaml:"initial_interval"`
	MaxInterval     Duration `json:"max_interval" yaml:"max_interval"`
	MaxElapsedTime  Duration `json:"max_elapsed_time" yaml:"max_elapsed_time"`
	MaxRetries      uint64   `json:"max_retries" yaml:"max_retries"`
}

// BreakerConfig configures the circuit breakers around tools and backends.
type BreakerConfig struct {
	MaxRequests         uint32   `json:"max_requests" yaml:"max_requests"`
	Timeout             Duration `json:"timeout" yaml:"timeout"`
	ConsecutiveFailures uint32   `json:"consecutive_failures" yaml:"consecutive_failures"`
}

// ToolsConfig configures the local tool executor.
type ToolsConfig struct {
	Agent       bool   `json:"agent" yaml:"agent"`                                   // Hand instruction-only edits to a provider
	Provider    string `json:"provider" yaml:"provider"`                             // Key into Providers for the agent
	TestCommand string `json:"test_command,omitempty" yaml:"test_command,omitempty"` // Overrides test runner detection
	MaxOutput   int    `json:"max_output" yaml:"max_output"`                         // Output bytes kept per tool call
}

// StoreConfig locates the run journal. An empty path disables it.
type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

// Config is the top-level configuration.
type Config struct {
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Strategy    StrategyConfig            `json:"strategy" yaml:"strategy"`
	Loop        LoopConfig                `json:"loop" yaml:"loop"`
	Decision    decision.Thresholds       `json:"decision" yaml:"decision"`
	Memory      memory.Config             `json:"memory" yaml:"memory"`
	Decomposer  DecomposerConfig          `json:"decomposer" yaml:"decomposer"`
	Observation ObservationConfig         `json:"observation" yaml:"observation"`
	Retry       RetryConfig               `json:"retry" yaml:"retry"`
	Breaker     BreakerConfig             `json:"breaker" yaml:"breaker"`
	Tools       ToolsConfig               `json:"tools" yaml:"tools"`
	Store       StoreConfig               `json:"store" yaml:"store"`
}
