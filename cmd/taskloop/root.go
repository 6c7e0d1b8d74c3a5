package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aristath/taskloop/internal/config"
)

// options are the persistent flags shared by every subcommand. Config
// overrides go through viper so TASKLOOP_* environment variables apply too.
type options struct {
	configPath string
	verbose    bool
	jsonOut    bool
	v          *viper.Viper
}

// flagKeys maps persistent flags to config keys.
var flagKeys = map[string]string{
	"workspace":      "observation.workspace",
	"max-iterations": "loop.max_iterations",
	"parallelism":    "loop.parallelism",
	"task-timeout":   "loop.task_timeout",
	"strategy":       "strategy.enabled",
	"model":          "strategy.model",
	"agent":          "tools.agent",
	"test-command":   "tools.test_command",
	"store":          "store.path",
}

func newOptions() *options {
	v := viper.New()
	v.SetEnvPrefix("TASKLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &options{v: v}
}

func newRootCmd() *cobra.Command {
	opts := newOptions()

	cmd := &cobra.Command{
		Use:   "taskloop",
		Short: "Decompose goals into task trees and execute them",
		Long: `taskloop breaks a goal into a tree of tasks, orders the atomic ones in a
dependency graph and runs them one iteration at a time: execute a tool,
observe what happened, reflect on progress and decide what to do next.

Planning and judgment use heuristics unless --strategy routes them through a
model CLI. When the loop is stuck it asks for guidance on stdin.

Configuration is read from ~/.taskloop/config.yaml and .taskloop/config.yaml
(or config.json); flags and TASKLOOP_* environment variables override it,
e.g. TASKLOOP_LOOP_PARALLELISM=2.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (skips the default lookup)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging on stderr")
	pf.BoolVar(&opts.jsonOut, "json", false, "Write JSON instead of text")
	pf.StringP("workspace", "w", "", "Directory tools operate in (default: current directory)")
	pf.Int("max-iterations", 0, "Iteration limit per run")
	pf.Int("parallelism", 0, "Same-wave tasks executed per iteration")
	pf.Duration("task-timeout", 0, "Timeout of a single task execution")
	pf.Bool("strategy", false, "Plan and judge with the configured model CLI")
	pf.String("model", "", "Model passed to the strategy provider")
	pf.Bool("agent", false, "Hand instruction-only edits to the model CLI")
	pf.String("test-command", "", "Command run by run_tests instead of detection")
	pf.String("store", "", `Journal database path ("none" disables)`)

	for flag, key := range flagKeys {
		_ = opts.v.BindPFlag(key, pf.Lookup(flag))
	}

	cmd.AddCommand(newPlanCmd(opts))
	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newInitCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))
	return cmd
}

// load reads the config files, applies flag and environment overrides and
// returns the validated config with a logger.
func (o *options) load() (*config.Config, *slog.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.Load("", o.configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, nil, err
	}

	o.applyOverrides(cfg)
	if cfg.Observation.Workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, fmt.Errorf("getting working directory: %w", err)
		}
		cfg.Observation.Workspace = wd
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}

func (o *options) applyOverrides(cfg *config.Config) {
	v := o.v
	if v.IsSet("observation.workspace") {
		cfg.Observation.Workspace = v.GetString("observation.workspace")
	}
	if v.IsSet("loop.max_iterations") {
		cfg.Loop.MaxIterations = v.GetInt("loop.max_iterations")
	}
	if v.IsSet("loop.parallelism") {
		cfg.Loop.Parallelism = v.GetInt("loop.parallelism")
	}
	if v.IsSet("loop.task_timeout") {
		cfg.Loop.TaskTimeout = config.Duration(v.GetDuration("loop.task_timeout"))
	}
	if v.IsSet("strategy.enabled") {
		cfg.Strategy.Enabled = v.GetBool("strategy.enabled")
	}
	if v.IsSet("strategy.model") {
		cfg.Strategy.Model = v.GetString("strategy.model")
	}
	if v.IsSet("tools.agent") {
		cfg.Tools.Agent = v.GetBool("tools.agent")
	}
	if v.IsSet("tools.test_command") {
		cfg.Tools.TestCommand = v.GetString("tools.test_command")
	}
	if v.IsSet("store.path") {
		path := v.GetString("store.path")
		if path == "none" {
			path = ""
		}
		cfg.Store.Path = path
	}
}
