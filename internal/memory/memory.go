// Package memory implements the bounded working memory of a run.
package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/taskloop/internal/decision"
	"github.com/aristath/taskloop/internal/observe"
	"github.com/aristath/taskloop/internal/reflection"
)

// Config caps each slice of memory.
type Config struct {
	MaxObservations int `json:"max_observations" yaml:"max_observations"`
	MaxReflections  int `json:"max_reflections" yaml:"max_reflections"`
	MaxDecisions    int `json:"max_decisions" yaml:"max_decisions"`
	MaxFacts        int `json:"max_facts" yaml:"max_facts"`
	MaxPatterns     int `json:"max_patterns" yaml:"max_patterns"`
}

// DefaultConfig returns the standard capacities.
func DefaultConfig() Config {
	return Config{
		MaxObservations: 20,
		MaxReflections:  10,
		MaxDecisions:    10,
		MaxFacts:        50,
		MaxPatterns:     20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxObservations <= 0 {
		c.MaxObservations = d.MaxObservations
	}
	if c.MaxReflections <= 0 {
		c.MaxReflections = d.MaxReflections
	}
	if c.MaxDecisions <= 0 {
		c.MaxDecisions = d.MaxDecisions
	}
	if c.MaxFacts <= 0 {
		c.MaxFacts = d.MaxFacts
	}
	if c.MaxPatterns <= 0 {
		c.MaxPatterns = d.MaxPatterns
	}
	return c
}

// recentActions is how many observations the context digest lists.
const recentActions = 5

// Fact is an importance-weighted keyed entry.
type Fact struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Importance  float64   `json:"importance"`
	AccessCount int       `json:"access_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Pattern is a learned text pattern.
type Pattern struct {
	Value       string    `json:"value"`
	Importance  float64   `json:"importance"`
	AccessCount int       `json:"access_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Stats reports how much memory holds.
type Stats struct {
	Observations int `json:"observations"`
	Summarized   int `json:"summarized"`
	Reflections  int `json:"reflections"`
	Decisions    int `json:"decisions"`
	Facts        int `json:"facts"`
	Patterns     int `json:"patterns"`
}

// Memory is a bounded, self-pruning store. It is safe for concurrent use.
type Memory struct {
	cfg Config
	now func() time.Time

	mu           sync.Mutex
	observations []observe.Observation
	reflections  []reflection.Reflection
	decisions    []decision.Decision
	facts        map[string]*Fact
	patterns     []*Pattern
	answers      int

	// Summary of observations evicted from the recent window.
	summarized     int
	summarizedOK   int
	summarizedFail int
	summaryFiles   []string
	summaryFileSet map[string]bool
}

// New creates an empty memory.
func New(cfg Config) *Memory {
	return &Memory{
		cfg:            cfg.withDefaults(),
		now:            time.Now,
		facts:          make(map[string]*Fact),
		summaryFileSet: make(map[string]bool),
	}
}

// AddObservation records an observation, folding the oldest ones into the
// summary once the cap is exceeded.
func (m *Memory) AddObservation(o observe.Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.observations = append(m.observations, o)
	if over := len(m.observations) - m.cfg.MaxObservations; over > 0 {
		for _, old := range m.observations[:over] {
			m.summarize(old)
		}
		m.observations = append([]observe.Observation(nil), m.observations[over:]...)
	}
}

func (m *Memory) summarize(o observe.Observation) {
	m.summarized++
	if o.Success {
		m.summarizedOK++
	} else {
		m.summarizedFail++
	}
	for _, f := range o.TouchedFiles() {
		if !m.summaryFileSet[f] {
			m.summaryFileSet[f] = true
			m.summaryFiles = append(m.summaryFiles, f)
		}
	}
}

// AddReflection records a reflection, dropping the oldest beyond the cap.
func (m *Memory) AddReflection(r reflection.Reflection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reflections = appendCapped(m.reflections, r, m.cfg.MaxReflections)
	for _, lesson := range r.LessonsLearned {
		m.addPatternLocked(lesson, r.Confidence)
	}
}

// AddDecision records a decision, dropping the oldest beyond the cap.
func (m *Memory) AddDecision(d decision.Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = appendCapped(m.decisions, d, m.cfg.MaxDecisions)
}

func appendCapped[T any](list []T, v T, limit int) []T {
	list = append(list, v)
	if over := len(list) - limit; over > 0 {
		list = append([]T(nil), list[over:]...)
	}
	return list
}

// SetFact stores value under key. Updating a fact keeps its access count.
func (m *Memory) SetFact(key, value string, importance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.facts[key]; ok {
		f.Value = value
		f.Importance = importance
		return
	}
	m.facts[key] = &Fact{Key: key, Value: value, Importance: importance, CreatedAt: m.now()}
	for len(m.facts) > m.cfg.MaxFacts {
		m.evictFactLocked()
	}
}

// GetFact returns the fact value for key and counts the access.
func (m *Memory) GetFact(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.facts[key]
	if !ok {
		return "", false
	}
	f.AccessCount++
	return f.Value, true
}

func (m *Memory) evictFactLocked() {
	var victim *Fact
	for _, f := range m.facts {
		if victim == nil || lessValuable(f.Importance, f.AccessCount, f.CreatedAt, f.Key,
			victim.Importance, victim.AccessCount, victim.CreatedAt, victim.Key) {
			victim = f
		}
	}
	if victim != nil {
		delete(m.facts, victim.Key)
	}
}

// lessValuable orders entries for eviction: lower importance first, then
// fewer accesses, then older. Keys break remaining ties.
func lessValuable(imp float64, acc int, created time.Time, key string,
	otherImp float64, otherAcc int, otherCreated time.Time, otherKey string) bool {
	switch {
	case imp != otherImp:
		return imp < otherImp
	case acc != otherAcc:
		return acc < otherAcc
	case !created.Equal(otherCreated):
		return created.Before(otherCreated)
	}
	return key < otherKey
}

// AddPattern stores a learned pattern. A pattern already present is not
// duplicated; its importance is raised to the larger value.
func (m *Memory) AddPattern(value string, importance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addPatternLocked(value, importance)
}

func (m *Memory) addPatternLocked(value string, importance float64) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	for _, p := range m.patterns {
		if p.Value == value {
			p.AccessCount++
			p.Importance = max(p.Importance, importance)
			return
		}
	}
	m.patterns = append(m.patterns, &Pattern{Value: value, Importance: importance, CreatedAt: m.now()})
	for len(m.patterns) > m.cfg.MaxPatterns {
		victim := 0
		for i, p := range m.patterns {
			v := m.patterns[victim]
			if lessValuable(p.Importance, p.AccessCount, p.CreatedAt, p.Value,
				v.Importance, v.AccessCount, v.CreatedAt, v.Value) {
				victim = i
			}
		}
		m.patterns = append(m.patterns[:victim], m.patterns[victim+1:]...)
	}
}

// RecordAnswer stores a human answer to a question as a high-importance fact.
func (m *Memory) RecordAnswer(question, answer string) {
	m.mu.Lock()
	m.answers++
	key := fmt.Sprintf("user_answer_%d", m.answers)
	m.mu.Unlock()

	value := answer
	if question != "" {
		value = fmt.Sprintf("%s -> %s", question, answer)
	}
	m.SetFact(key, value, 1.0)
}

// Observations returns the recent observations, oldest first.
func (m *Memory) Observations() []observe.Observation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]observe.Observation(nil), m.observations...)
}

// Reflections returns the recent reflections, oldest first.
func (m *Memory) Reflections() []reflection.Reflection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]reflection.Reflection(nil), m.reflections...)
}

// Decisions returns the recent decisions, oldest first.
func (m *Memory) Decisions() []decision.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]decision.Decision(nil), m.decisions...)
}

// Facts returns copies of all facts, most important first.
func (m *Memory) Facts() []Fact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.factsLocked()
}

func (m *Memory) factsLocked() []Fact {
	out := make([]Fact, 0, len(m.facts))
	for _, f := range m.facts {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		return lessValuable(b.Importance, b.AccessCount, b.CreatedAt, b.Key,
			a.Importance, a.AccessCount, a.CreatedAt, a.Key)
	})
	return out
}

// Patterns returns copies of all patterns, most important first.
func (m *Memory) Patterns() []Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patternsLocked()
}

func (m *Memory) patternsLocked() []Pattern {
	out := make([]Pattern, 0, len(m.patterns))
	for _, p := range m.patterns {
		out = append(out, *p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		return lessValuable(b.Importance, b.AccessCount, b.CreatedAt, b.Value,
			a.Importance, a.AccessCount, a.CreatedAt, a.Value)
	})
	return out
}

// Summary describes observations that fell out of the recent window.
func (m *Memory) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summaryLocked()
}

func (m *Memory) summaryLocked() string {
	if m.summarized == 0 {
		return ""
	}
	s := fmt.Sprintf("%d earlier actions: %d succeeded, %d failed.", m.summarized, m.summarizedOK, m.summarizedFail)
	if len(m.summaryFiles) > 0 {
		s += " Files touched: " + strings.Join(m.summaryFiles, ", ") + "."
	}
	return s
}

// Snapshot reports current sizes.
func (m *Memory) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Observations: len(m.observations),
		Summarized:   m.summarized,
		Reflections:  len(m.reflections),
		Decisions:    len(m.decisions),
		Facts:        len(m.facts),
		Patterns:     len(m.patterns),
	}
}
