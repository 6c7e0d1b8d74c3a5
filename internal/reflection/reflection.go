// Package reflection assesses execution outcomes. An injected judgment
// strategy is consulted first; heuristics apply when it is absent or fails.
package reflection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aristath/taskloop/internal/observe"
	"github.com/aristath/taskloop/internal/resilience"
)

// Assessment is the verdict of a reflection.
type Assessment string

const (
	OnTrack         Assessment = "on_track"
	NeedsAdjustment Assessment = "needs_adjustment"
	Stuck           Assessment = "stuck"
	Error           Assessment = "error"
	Complete        Assessment = "complete"
)

// Valid reports whether a is a known assessment.
func (a Assessment) Valid() bool {
	switch a {
	case OnTrack, NeedsAdjustment, Stuck, Error, Complete:
		return true
	}
	return false
}

// Sources of a reflection.
const (
	SourceStrategy  = "strategy"
	SourceHeuristic = "heuristic"
)

// Reflection is the assessment of one observation.
type Reflection struct {
	TaskID           string     `json:"task_id"`
	Iteration        int        `json:"iteration"`
	Assessment       Assessment `json:"assessment"`
	Confidence       float64    `json:"confidence"`
	Reasoning        string     `json:"reasoning"`
	WentWell         []string   `json:"went_well"`
	WentWrong        []string   `json:"went_wrong"`
	SuggestedActions []string   `json:"suggested_actions"`
	LessonsLearned   []string   `json:"lessons_learned"`
	Progress         float64    `json:"progress"`
	RemainingSteps   int        `json:"remaining_steps"`
	Source           string     `json:"source"`
	Timestamp        time.Time  `json:"timestamp"`
}

// Judgment is what a strategy returns for an observation.
type Judgment struct {
	Assessment       Assessment `json:"assessment"`
	Confidence       float64    `json:"confidence"`
	Reasoning        string     `json:"reasoning"`
	WentWell         []string   `json:"went_well"`
	WentWrong        []string   `json:"went_wrong"`
	SuggestedActions []string   `json:"suggested_actions"`
	LessonsLearned   []string   `json:"lessons_learned"`
	Progress         float64    `json:"progress"`
	RemainingSteps   int        `json:"remaining_steps"`
}

// AssessRequest is passed to a JudgmentStrategy.
type AssessRequest struct {
	Observation observe.Observation
	Goal        string
	Recent      []observe.Observation // Up to five prior observations, oldest first
	Context     string                // Working memory digest
}

// JudgmentStrategy assesses an observation.
type JudgmentStrategy interface {
	Assess(ctx context.Context, req AssessRequest) (Judgment, error)
}

// ContextProvider renders a bounded text digest of run history.
type ContextProvider interface {
	ToContextString(maxChars int) string
}

// Input is everything the engine needs to reflect on one observation.
type Input struct {
	Observation observe.Observation
	Goal        string
	History     []observe.Observation // Prior observations, oldest first
	Memory      ContextProvider       // Optional
	Completed   int                   // Tasks completed before this observation
	Total       int                   // Tasks in the plan
}

// Defaults.
const (
	RecentWindow         = 5
	StuckWindow          = 3
	DefaultContextChars  = 2000
	DefaultStrategyLimit = 60 * time.Second
	MinConfidence        = 0.3
	MaxConfidence        = 1.0
)

// DefaultCompletionPhrases mark successful output as finishing the goal.
var DefaultCompletionPhrases = []string{"all tests passed", "build succeeded"}

// Config configures an Engine.
type Config struct {
	Strategy          JudgmentStrategy // Optional
	StrategyTimeout   time.Duration    // Per-attempt timeout (default 60s)
	Retry             resilience.RetryConfig
	CompletionPhrases []string // Case-insensitive (default DefaultCompletionPhrases)
	ContextChars      int      // Memory digest budget (default 2000)
	Logger            *slog.Logger
}

// Engine produces reflections.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a reflection engine.
func New(cfg Config) *Engine {
	if cfg.StrategyTimeout <= 0 {
		cfg.StrategyTimeout = DefaultStrategyLimit
	}
	if cfg.Retry == (resilience.RetryConfig{}) {
		cfg.Retry = resilience.NoRetry()
	}
	if len(cfg.CompletionPhrases) == 0 {
		cfg.CompletionPhrases = DefaultCompletionPhrases
	}
	if cfg.ContextChars <= 0 {
		cfg.ContextChars = DefaultContextChars
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Reflect assesses in.Observation.
func (e *Engine) Reflect(ctx context.Context, in Input) Reflection {
	if e.cfg.Strategy != nil {
		r, err := e.fromStrategy(ctx, in)
		if err == nil {
			return r
		}
		e.logger.Warn("judgment strategy failed, using heuristics",
			"task_id", in.Observation.TaskID,
			"iteration", in.Observation.Iteration,
			"error", err,
		)
	}
	return e.Heuristic(in)
}

func (e *Engine) fromStrategy(ctx context.Context, in Input) (Reflection, error) {
	req := AssessRequest{
		Observation: in.Observation,
		Goal:        in.Goal,
		Recent:      lastN(in.History, RecentWindow),
	}
	if in.Memory != nil {
		req.Context = in.Memory.ToContextString(e.cfg.ContextChars)
	}

	j, err := resilience.Retry(ctx, e.cfg.Retry, func(ctx context.Context) (Judgment, error) {
		j, err := resilience.WithTimeout(ctx, e.cfg.StrategyTimeout, func(ctx context.Context) (Judgment, error) {
			return e.cfg.Strategy.Assess(ctx, req)
		})
		if err != nil {
			return Judgment{}, err
		}
		if !j.Assessment.Valid() {
			return Judgment{}, resilience.Permanent(fmt.Errorf("unknown assessment %q", j.Assessment))
		}
		return j, nil
	})
	if err != nil {
		return Reflection{}, err
	}

	r := e.base(in)
	r.Assessment = j.Assessment
	r.Confidence = clamp(j.Confidence, 0, 1)
	r.Reasoning = j.Reasoning
	r.WentWell = orEmpty(j.WentWell)
	r.WentWrong = orEmpty(j.WentWrong)
	r.SuggestedActions = orEmpty(j.SuggestedActions)
	r.LessonsLearned = orEmpty(j.LessonsLearned)
	r.Progress = clamp(j.Progress, 0, 1)
	r.RemainingSteps = max(j.RemainingSteps, 0)
	r.Source = SourceStrategy
	return r, nil
}

func (e *Engine) base(in Input) Reflection {
	obs := in.Observation
	progress, remaining := estimate(in.Completed, in.Total, obs.Success)
	return Reflection{
		TaskID:           obs.TaskID,
		Iteration:        obs.Iteration,
		WentWell:         []string{},
		WentWrong:        []string{},
		SuggestedActions: []string{},
		LessonsLearned:   []string{},
		Progress:         progress,
		RemainingSteps:   remaining,
		Timestamp:        time.Now(),
	}
}

// estimate derives goal progress from task counts.
func estimate(completed, total int, success bool) (float64, int) {
	if total <= 0 {
		return 0, 0
	}
	done := completed
	if success {
		done++
	}
	done = min(done, total)
	return float64(done) / float64(total), total - done
}

func lastN(obs []observe.Observation, n int) []observe.Observation {
	if len(obs) <= n {
		return obs
	}
	return obs[len(obs)-n:]
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func truncate(s string, n int) string {
	return observe.Clip(strings.TrimSpace(s), n)
}
