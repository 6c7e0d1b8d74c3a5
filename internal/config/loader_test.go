package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name            string
		globalName      string
		global          string
		projectName     string
		project         string
		expectIter      int
		expectParallel  int
		expectTimeout   time.Duration
		expectRetries   int
		expectProviders int
		expectModel     string
	}{
		{
			name:            "No config files - returns defaults",
			expectIter:      50,
			expectParallel:  1,
			expectTimeout:   5 * time.Minute,
			expectRetries:   3,
			expectProviders: 1,
		},
		{
			name:            "Global YAML only - overrides loop section",
			globalName:      "config.yaml",
			global:          "loop:\n  max_iterations: 20\n  task_timeout: 90s\n",
			expectIter:      20,
			expectParallel:  1,
			expectTimeout:   90 * time.Second,
			expectRetries:   3,
			expectProviders: 1,
		},
		{
			name:            "Project JSON only - overrides thresholds and adds provider",
			projectName:     "config.json",
			project:         `{"decision": {"max_retries": 1}, "providers": {"local": {"command": "llm", "type": "claude"}}}`,
			expectIter:      50,
			expectParallel:  1,
			expectTimeout:   5 * time.Minute,
			expectRetries:   1,
			expectProviders: 2,
		},
		{
			name:            "Project overrides global - project wins",
			globalName:      "global.yml",
			global:          "loop:\n  parallelism: 2\nstrategy:\n  model: model-x\n",
			projectName:     "project.json",
			project:         `{"loop": {"parallelism": 4}, "strategy": {"model": "model-y"}}`,
			expectIter:      50,
			expectParallel:  4,
			expectTimeout:   5 * time.Minute,
			expectRetries:   3,
			expectProviders: 1,
			expectModel:     "model-y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()

			globalPath := ""
			if tt.globalName != "" {
				globalPath = writeFile(t, tmpDir, tt.globalName, tt.global)
			}
			projectPath := ""
			if tt.projectName != "" {
				projectPath = writeFile(t, tmpDir, tt.projectName, tt.project)
			}

			cfg, err := Load(globalPath, projectPath)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if cfg.Loop.MaxIterations != tt.expectIter {
				t.Errorf("max_iterations = %d, want %d", cfg.Loop.MaxIterations, tt.expectIter)
			}
			if cfg.Loop.Parallelism != tt.expectParallel {
				t.Errorf("parallelism = %d, want %d", cfg.Loop.Parallelism, tt.expectParallel)
			}
			if cfg.Loop.TaskTimeout.Std() != tt.expectTimeout {
				t.Errorf("task_timeout = %s, want %s", cfg.Loop.TaskTimeout, tt.expectTimeout)
			}
			if cfg.Decision.MaxRetries != tt.expectRetries {
				t.Errorf("max_retries = %d, want %d", cfg.Decision.MaxRetries, tt.expectRetries)
			}
			if got := len(cfg.Providers); got != tt.expectProviders {
				t.Errorf("providers count = %d, want %d", got, tt.expectProviders)
			}
			if cfg.Providers["claude"].Command != "claude" {
				t.Errorf("default claude provider lost: %+v", cfg.Providers)
			}
			if cfg.Strategy.Model != tt.expectModel {
				t.Errorf("strategy model = %q, want %q", cfg.Strategy.Model, tt.expectModel)
			}
			// Untouched sections keep their defaults.
			if cfg.Memory.MaxFacts != 50 {
				t.Errorf("memory.max_facts = %d, want 50", cfg.Memory.MaxFacts)
			}
		})
	}
}

func TestLoad_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"malformed JSON", "global.json", "{invalid json"},
		{"malformed YAML", "global.yaml", "loop: [unclosed"},
		{"bad duration", "global.yaml", "loop:\n  task_timeout: soon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), tt.file, tt.content)

			_, err := Load(path, "")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), "loading global config") {
				t.Errorf("error %q should name the global config", err)
			}
		})
	}
}

func TestLoad_MissingFilesNotError(t *testing.T) {
	cfg, err := Load("/nonexistent/global.yaml", "/nonexistent/project.json")
	if err != nil {
		t.Fatalf("expected no error for missing files, got: %v", err)
	}

	if len(cfg.Providers) != 1 {
		t.Errorf("providers count = %d, want 1", len(cfg.Providers))
	}
	if cfg.Strategy.Enabled {
		t.Error("strategy should be disabled by default")
	}
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "loop:\n  parallelism: 0\ndecision:\n  confidence_threshold: 1.5\n")

	_, err := Load(path, "")
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	for _, want := range []string{"loop.parallelism", "decision.confidence_threshold"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"zero iterations", func(c *Config) { c.Loop.MaxIterations = 0 }, "loop.max_iterations"},
		{"depth above hard cap", func(c *Config) { c.Decomposer.MaxDepth = 5 }, "decomposer.max_depth"},
		{"stuck threshold zero", func(c *Config) { c.Decision.StuckThreshold = 0 }, "decision.stuck_threshold"},
		{"watch without workspace", func(c *Config) { c.Observation.Watch = true }, "observation.watch"},
		{"unknown strategy provider", func(c *Config) {
			c.Strategy.Enabled = true
			c.Strategy.Provider = "missing"
		}, "strategy.provider"},
		{"enabled strategy with provider", func(c *Config) { c.Strategy.Enabled = true }, ""},
		{"tool agent without provider", func(c *Config) {
			c.Tools.Agent = true
			c.Tools.Provider = "missing"
		}, "tools.provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestPolicies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retry.MaxRetries = 5
	cfg.Breaker.ConsecutiveFailures = 2

	r := cfg.RetryPolicy()
	if r.MaxRetries != 5 || r.InitialInterval != 100*time.Millisecond || r.Disabled {
		t.Errorf("unexpected retry policy: %+v", r)
	}
	b := cfg.BreakerPolicy()
	if b.ConsecutiveFailures != 2 || b.Timeout != 30*time.Second {
		t.Errorf("unexpected breaker policy: %+v", b)
	}
}
