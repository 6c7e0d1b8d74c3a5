package reflection

import (
	"fmt"
	"strings"

	"github.com/aristath/taskloop/internal/observe"
)

// Heuristic confidences before trend adjustment.
const (
	stuckConfidence      = 0.8
	errorConfidence      = 0.7
	completeConfidence   = 0.9
	adjustmentConfidence = 0.6
	onTrackConfidence    = 0.7

	trendAgreeBonus        = 0.1
	trendContradictPenalty = 0.2
)

// Heuristic assesses in without consulting the strategy.
func (e *Engine) Heuristic(in Input) Reflection {
	obs := in.Observation
	recent := lastN(in.History, RecentWindow)
	r := e.base(in)
	r.Source = SourceHeuristic

	switch {
	case !obs.Success && e.isStuck(obs, in.History):
		r.Assessment = Stuck
		r.Confidence = stuckConfidence
		r.Reasoning = stuckReason(obs, in.History)
		r.WentWrong = append(r.WentWrong, truncate(obs.Error, 200))
		r.SuggestedActions = append(r.SuggestedActions, alternateApproach(obs))
		r.LessonsLearned = append(r.LessonsLearned, fmt.Sprintf("repeating %s without changes does not help", toolLabel(obs)))

	case !obs.Success:
		r.Assessment = Error
		r.Confidence = errorConfidence
		r.Reasoning = "execution failed: " + truncate(obs.Error, 200)
		r.WentWrong = append(r.WentWrong, truncate(obs.Error, 200))
		r.SuggestedActions = append(r.SuggestedActions, "retry "+toolLabel(obs))

	case e.matchesCompletion(obs.Output):
		r.Assessment = Complete
		r.Confidence = completeConfidence
		r.Reasoning = "output reports completion"
		r.WentWell = append(r.WentWell, "completion reported by "+toolLabel(obs))

	case obs.Tests != nil && obs.Tests.Failed > 0:
		r.Assessment = NeedsAdjustment
		r.Confidence = adjustmentConfidence
		r.Reasoning = fmt.Sprintf("%d of %d %s tests failing", obs.Tests.Failed, obs.Tests.Total, obs.Tests.Framework)
		r.WentWrong = append(r.WentWrong, r.Reasoning)
		r.SuggestedActions = append(r.SuggestedActions, fmt.Sprintf("fix the %d failing tests", obs.Tests.Failed))

	default:
		r.Assessment = OnTrack
		r.Confidence = onTrackConfidence
		r.Reasoning = "task succeeded"
		r.WentWell = append(r.WentWell, toolLabel(obs)+" succeeded")
		if n := len(obs.TouchedFiles()); n > 0 {
			r.WentWell = append(r.WentWell, fmt.Sprintf("%d files changed", n))
		}
	}

	r.Confidence = adjustForTrend(r.Confidence, obs.Success, recent)
	return r
}

// isStuck reports whether the last StuckWindow observations (including the
// current one) all failed, or the current error repeats a recent one.
func (e *Engine) isStuck(obs observe.Observation, history []observe.Observation) bool {
	window := lastN(history, StuckWindow-1)
	if len(window) == StuckWindow-1 {
		allFailed := true
		for _, o := range window {
			if o.Success {
				allFailed = false
				break
			}
		}
		if allFailed {
			return true
		}
	}
	return repeatedError(obs, history)
}

func repeatedError(obs observe.Observation, history []observe.Observation) bool {
	if obs.Error == "" {
		return false
	}
	for _, o := range lastN(history, RecentWindow) {
		if !o.Success && o.Error == obs.Error {
			return true
		}
	}
	return false
}

func stuckReason(obs observe.Observation, history []observe.Observation) string {
	if repeatedError(obs, history) {
		return "same error repeated: " + truncate(obs.Error, 160)
	}
	return fmt.Sprintf("last %d attempts failed", StuckWindow)
}

func alternateApproach(obs observe.Observation) string {
	if obs.TimedOut {
		return "try an alternate approach: split the work into smaller steps that finish within the timeout"
	}
	return "try an alternate approach: change parameters or tool instead of repeating " + toolLabel(obs)
}

func (e *Engine) matchesCompletion(output string) bool {
	lower := strings.ToLower(output)
	for _, phrase := range e.cfg.CompletionPhrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// adjustForTrend raises confidence when the outcome matches the recent
// success rate and lowers it when it does not.
func adjustForTrend(confidence float64, success bool, recent []observe.Observation) float64 {
	if len(recent) > 0 {
		ok := 0
		for _, o := range recent {
			if o.Success {
				ok++
			}
		}
		trendSuccess := float64(ok)/float64(len(recent)) >= 0.5
		if trendSuccess == success {
			confidence += trendAgreeBonus
		} else {
			confidence -= trendContradictPenalty
		}
	}
	return clamp(confidence, MinConfidence, MaxConfidence)
}

func toolLabel(obs observe.Observation) string {
	if obs.ToolName == "" {
		return "the task"
	}
	return obs.ToolName
}
