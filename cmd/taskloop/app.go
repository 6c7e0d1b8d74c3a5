package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aristath/taskloop/internal/backend"
	"github.com/aristath/taskloop/internal/config"
	"github.com/aristath/taskloop/internal/decompose"
	"github.com/aristath/taskloop/internal/loop"
	"github.com/aristath/taskloop/internal/observe"
	"github.com/aristath/taskloop/internal/persistence"
	"github.com/aristath/taskloop/internal/process"
	"github.com/aristath/taskloop/internal/reflection"
	"github.com/aristath/taskloop/internal/resilience"
	"github.com/aristath/taskloop/internal/strategy"
	"github.com/aristath/taskloop/internal/tools"
)

// app holds the components a command wires from configuration.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	processes *process.Manager
	breakers  *resilience.BreakerRegistry
	backends  []backend.Backend
	store     persistence.Store // nil unless journaling
	exec      *loop.Executor
}

// newApp wires the executor from cfg. The journal is opened only when
// withStore is set and a store path is configured.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, withStore bool) (*app, error) {
	a := &app{
		cfg:       cfg,
		logger:    logger,
		processes: process.NewManager(),
		breakers:  resilience.NewBreakerRegistry(cfg.BreakerPolicy(), logger),
	}
	if err := a.wire(ctx, withStore); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, withStore bool) error {
	cfg := a.cfg
	workspace := cfg.Observation.Workspace

	var (
		planner decompose.PlanningStrategy
		judge   reflection.JudgmentStrategy
	)
	if cfg.Strategy.Enabled {
		b, err := a.backend(cfg.Strategy.Provider, cfg.Strategy.Model, cfg.Strategy.SystemPrompt)
		if err != nil {
			return fmt.Errorf("strategy backend: %w", err)
		}
		client := strategy.NewClient(b, a.breakers.Get("strategy:"+cfg.Strategy.Provider), a.logger)
		planner = strategy.NewPlanner(client, nil)
		judge = strategy.NewJudge(client)
	}

	var agent backend.Backend
	if cfg.Tools.Agent {
		b, err := a.backend(cfg.Tools.Provider, cfg.Strategy.Model, "")
		if err != nil {
			return fmt.Errorf("tool agent backend: %w", err)
		}
		agent = b
	}

	toolExec, err := tools.New(tools.Config{
		Workspace:   workspace,
		TestCommand: cfg.Tools.TestCommand,
		Agent:       agent,
		Processes:   a.processes,
		MaxOutput:   cfg.Tools.MaxOutput,
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}

	if withStore && cfg.Store.Path != "" {
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		a.store = store
	}

	obsCfg := observe.EngineConfig{
		Snapshot: cfg.Observation.Snapshot,
		Watch:    cfg.Observation.Watch,
		MaxFiles: cfg.Observation.MaxFiles,
		Logger:   a.logger,
	}
	if obsCfg.Snapshot || obsCfg.Watch {
		obsCfg.Workspace = workspace
	}

	a.exec = loop.NewExecutor(loop.Config{
		Tools: toolExec,
		Decomposer: decompose.New(decompose.Config{
			Strategy:        planner,
			MaxDepth:        cfg.Decomposer.MaxDepth,
			MaxSubtasks:     cfg.Decomposer.MaxSubtasks,
			StrategyTimeout: cfg.Strategy.Timeout.Std(),
			Retry:           cfg.RetryPolicy(),
			Logger:          a.logger,
		}),
		Reflector: reflection.New(reflection.Config{
			Strategy:          judge,
			StrategyTimeout:   cfg.Strategy.Timeout.Std(),
			Retry:             cfg.RetryPolicy(),
			CompletionPhrases: cfg.Observation.CompletionPhrases,
			ContextChars:      cfg.Loop.ContextChars,
			Logger:            a.logger,
		}),
		Observer:      observe.NewEngine(obsCfg),
		Breaker:       cfg.BreakerPolicy(),
		Thresholds:    cfg.Decision,
		Memory:        cfg.Memory,
		MaxIterations: cfg.Loop.MaxIterations,
		Parallelism:   cfg.Loop.Parallelism,
		TaskTimeout:   cfg.Loop.TaskTimeout.Std(),
		ContextChars:  cfg.Loop.ContextChars,
		Logger:        a.logger,
	})
	return nil
}

// openStore opens the configured journal, resolving a relative path against
// the workspace.
func openStore(ctx context.Context, cfg *config.Config) (*persistence.SQLiteStore, error) {
	store, err := persistence.NewSQLiteStore(ctx, storePath(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return store, nil
}

func storePath(cfg *config.Config) string {
	if filepath.IsAbs(cfg.Store.Path) {
		return cfg.Store.Path
	}
	return filepath.Join(cfg.Observation.Workspace, cfg.Store.Path)
}

// backend creates a stateless CLI backend for a configured provider.
func (a *app) backend(provider, model, systemPrompt string) (backend.Backend, error) {
	p, ok := a.cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
	b, err := backend.New(backend.Config{
		Type:         p.Type,
		Command:      p.Command,
		Args:         p.Args,
		WorkDir:      a.cfg.Observation.Workspace,
		Model:        model,
		Provider:     p.ModelProvider,
		SystemPrompt: systemPrompt,
		Stateless:    true,
	}, a.processes)
	if err != nil {
		return nil, err
	}
	a.backends = append(a.backends, b)
	return b, nil
}

// Close releases backends and the journal and kills leftover subprocesses.
func (a *app) Close() error {
	var errs []error
	for _, b := range a.backends {
		errs = append(errs, b.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.processes.KillAll())
	return errors.Join(errs...)
}
