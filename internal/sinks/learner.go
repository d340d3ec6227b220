package sinks

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/spf13/cast"

	"github.com/vthunder/pulseloop/internal/external"
)

// urgency tiers, grounded on internal/motivation/tasks.go and ideas.go's
// GenerateImpulses intensity ladder: overdue commitments outrank upcoming
// ones, which outrank recurring reminders, which outrank idle-time idea
// exploration.
const (
	urgencyOverdue    = 0.9
	urgencyUpcoming   = 0.6
	urgencyRecurring  = 0.5
	urgencyFilesystem = 0.5
	urgencyActivity   = 0.6
	urgencySystem     = 0.3
	urgencyCursor     = 0.2
	urgencyDefault    = 0.3
)

// HeuristicLearner stands in for a real learned-decision model: it scores
// a perception payload against the same intensity ladder
// internal/motivation uses for tasks and ideas, and folds execution
// feedback into a single urgency bias since the wire-level
// LearningFeedback the orchestrator hands back carries no per-context
// key to bias individually.
type HeuristicLearner struct {
	mu         sync.Mutex
	globalBias float64
}

// NewHeuristicLearner returns a learner with no accumulated bias.
func NewHeuristicLearner() *HeuristicLearner {
	return &HeuristicLearner{}
}

// Interface wires this learner's methods into the capability-probed
// external.DeltaLearner shape.
func (h *HeuristicLearner) Interface() *external.DeltaLearner {
	return &external.DeltaLearner{
		GenerateDecision:           h.GenerateDecision,
		IntegrateExecutionFeedback: h.IntegrateExecutionFeedback,
	}
}

// GenerateDecision scores the payload by its inferred context bucket,
// nudges the result by whatever historical activation/average score the
// memory store supplied, and applies the accumulated feedback bias.
func (h *HeuristicLearner) GenerateDecision(_ context.Context, payload, memCtx map[string]any) (external.DecisionData, error) {
	key := contextKey(payload)
	action := actionKindFor(key)
	urgency := baseUrgency(key, payload)

	h.mu.Lock()
	bias := h.globalBias
	h.mu.Unlock()

	confidence := 0.5
	if memCtx != nil {
		activation := cast.ToFloat64(memCtx["activation"])
		avgScore := cast.ToFloat64(memCtx["average_score"])
		confidence = clamp(0.5+activation*0.3+avgScore*0.2, 0, 0.95)
		urgency = clamp(urgency+activation*0.1, 0, 1)
	}
	urgency = clamp(urgency+bias, 0, 1)

	return external.DecisionData{
		ActionType:      action,
		Target:          "auto_generated",
		Urgency:         urgency,
		Confidence:      confidence,
		Parameters:      payload,
		ExpectedOutcome: "improved_" + action,
	}, nil
}

// IntegrateExecutionFeedback nudges the global bias: a large prediction
// error pulls future urgency down slightly, a clean success nudges it
// back up. Grounded on TaskStore.Complete's plain "update the one number
// that matters" shape rather than anything resembling gradient descent.
func (h *HeuristicLearner) IntegrateExecutionFeedback(_ context.Context, update external.LearningFeedback) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case !update.Success && update.PredictionError > 0.5:
		h.globalBias = clamp(h.globalBias-0.05, -0.3, 0.3)
	case update.Success:
		h.globalBias = clamp(h.globalBias+0.02, -0.3, 0.3)
	}
	return nil
}

func actionKindFor(key string) string {
	switch {
	case strings.HasPrefix(key, "cursor"):
		return "system_query"
	case strings.HasPrefix(key, "filesystem:"):
		return "file_operation"
	case strings.HasPrefix(key, "scheduled:"):
		return "satisfy_need"
	case strings.HasPrefix(key, "user-activity:"):
		return "initiate_conversation"
	default:
		return "system_query"
	}
}

func baseUrgency(key string, payload map[string]any) float64 {
	switch {
	case strings.HasPrefix(key, "scheduled:"):
		eventType := strings.ToLower(cast.ToString(payload["event_type"]))
		switch {
		case strings.Contains(eventType, "overdue"):
			return urgencyOverdue
		case strings.Contains(eventType, "upcoming"):
			return urgencyUpcoming
		case strings.Contains(eventType, "recurring"):
			return urgencyRecurring
		default:
			return urgencyUpcoming
		}
	case strings.HasPrefix(key, "filesystem:"):
		return urgencyFilesystem
	case strings.HasPrefix(key, "user-activity:"):
		return urgencyActivity
	case key == "system-state":
		return urgencySystem
	case key == "cursor":
		return urgencyCursor
	default:
		return urgencyDefault
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
