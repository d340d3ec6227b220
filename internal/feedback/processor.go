// Package feedback implements the Feedback Processor: it evaluates each
// feedback signal into a six-metric ActionEvaluation, maintains
// per-action-kind history, derives learning signals and conditional
// strategy adjustments, and forwards best-effort updates to the two
// external learning sinks. Grounded on
// original_source/.../feedback_processor.py in full.
package feedback

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/vthunder/pulseloop/internal/coretypes"
	"github.com/vthunder/pulseloop/internal/external"
	"github.com/vthunder/pulseloop/internal/logging"
	"github.com/vthunder/pulseloop/internal/ring"
)

const (
	successThreshold          = 0.7
	strategyAdjustmentThresh  = 0.3
	recentScoresCap           = 100
	recentEvaluationsCap      = 1000
	learningSignalsCap        = 500
)

// LearningSignalKind mirrors LearningSignalType from feedback_processor.py.
type LearningSignalKind string

const (
	PositiveReinforcement LearningSignalKind = "positive-reinforcement"
	NegativeCorrection    LearningSignalKind = "negative-correction"
	ErrorRecovery         LearningSignalKind = "error-recovery"
	StrategyOptimization  LearningSignalKind = "strategy-optimization"
)

// ActionEvaluation is the six-metric assessment of one action's outcome.
type ActionEvaluation struct {
	ActionID          string
	ActionKind        string
	Success           bool
	ExecutionTimeMS   float64
	SuccessRate       float64
	ExecutionTime     float64
	UserSatisfaction  float64
	ContextAdequacy   float64
	Timeliness        float64
	ResourceEfficiency float64
	OverallScore      float64
	Context           map[string]any
	Timestamp         time.Time
}

// LearningSignal is what each processed feedback signal produces.
type LearningSignal struct {
	ID             string
	Kind           LearningSignalKind
	SourceAction   string
	Strength       float64
	Data           map[string]any
	Timestamp      time.Time
}

// StrategyAdjustment is a conditional behavior-tuning recommendation.
type StrategyAdjustment struct {
	ID              string
	TriggerSignal   string
	TargetBehavior  string
	AdjustmentType  string // increase, decrease, modify, replace
	AdjustmentValue float64
	ExpectedOutcome string
	Confidence      float64
	Timestamp       time.Time
}

// feedbackHistory is the per-action-kind running tally.
type feedbackHistory struct {
	actionKind       string
	feedbackCount    int
	successCount     int
	averageScore     float64
	lastFeedbackTime time.Time
	recentScores     *ring.Buffer[float64]
}

// Recommendation is a single low-performance flag from GetRecommendations.
type Recommendation struct {
	ActionKind     string
	Issue          string
	CurrentScore   float64
	SuccessRate    float64
	Recommendation string
	Priority       string // "high" | "medium"
}

// Metrics tallies processing counters.
type Metrics struct {
	FeedbackProcessed        int64
	LearningSignalsGenerated int64
	StrategyAdjustments      int64
	HistoricalUpdates        int64
	DeltaLearnerUpdates      int64
}

// Processor is the feedback-processing subsystem. A single mutex guards
// its history map, matching the orchestrator's "strictly serial"
// consumer per SPEC_FULL.md §5.
type Processor struct {
	HistoricalStore *external.HistoricalMemoryStore
	DeltaLearner    *external.DeltaLearner

	OnLearningSignal func(*LearningSignal)
	OnStrategy       func(*StrategyAdjustment)

	mu                 sync.Mutex
	history            map[string]*feedbackHistory
	recentEvaluations  *ring.Buffer[*ActionEvaluation]
	learningSignals    *ring.Buffer[*LearningSignal]
	strategyAdjustments []*StrategyAdjustment
	metrics            Metrics
}

// New creates a feedback processor.
func New() *Processor {
	return &Processor{
		history:           make(map[string]*feedbackHistory),
		recentEvaluations: ring.New[*ActionEvaluation](recentEvaluationsCap),
		learningSignals:   ring.New[*LearningSignal](learningSignalsCap),
	}
}

// ProcessFeedback runs one feedback signal through evaluation, history
// update, learning-signal generation, sink updates, and conditional
// strategy adjustment. cycle supplies the action kind and latency the
// bare signal doesn't carry (the Python original looks this up from the
// feedback loop engine's completed-cycle list; here the orchestrator
// hands it to us directly).
func (p *Processor) ProcessFeedback(ctx context.Context, signal *coretypes.FeedbackSignal, cycle *coretypes.Cycle) {
	p.mu.Lock()
	p.metrics.FeedbackProcessed++
	p.mu.Unlock()

	evaluation := p.evaluateAction(signal, cycle)
	p.updateHistory(evaluation)

	learningSignal := p.generateLearningSignal(signal, evaluation)
	if learningSignal != nil {
		p.mu.Lock()
		p.learningSignals.Push(learningSignal)
		p.metrics.LearningSignalsGenerated++
		p.mu.Unlock()

		if p.OnLearningSignal != nil {
			p.OnLearningSignal(learningSignal)
		}
		p.updateSinks(ctx, learningSignal, evaluation)
	}

	if evaluation.OverallScore < strategyAdjustmentThresh {
		if adj := p.generateStrategyAdjustment(signal, evaluation); adj != nil {
			p.mu.Lock()
			p.strategyAdjustments = append(p.strategyAdjustments, adj)
			p.metrics.StrategyAdjustments++
			p.mu.Unlock()

			if p.OnStrategy != nil {
				p.OnStrategy(adj)
			}
		}
	}
}

// evaluateAction derives the six-metric ActionEvaluation. Grounded on
// _evaluate_action.
func (p *Processor) evaluateAction(signal *coretypes.FeedbackSignal, cycle *coretypes.Cycle) *ActionEvaluation {
	actionKind := "unknown"
	executionTimeMS := 0.0
	success := signal.Magnitude > 0.5

	if cycle != nil {
		if cycle.Decision != nil {
			actionKind = cycle.Decision.ActionKind
		}
		if cycle.ExecutionResult != nil {
			executionTimeMS = cycle.LatencyMS
			success = cycle.ExecutionResult.Success
		}
	}

	eval := &ActionEvaluation{
		ActionID:           signal.ActionID,
		ActionKind:         actionKind,
		Success:            success,
		ExecutionTimeMS:     executionTimeMS,
		SuccessRate:        boolScore(success),
		ExecutionTime:      executionTimeScore(executionTimeMS),
		UserSatisfaction:   signal.Magnitude,
		ContextAdequacy:    0.7,
		Timeliness:         timelinessScore(signal.Timing),
		ResourceEfficiency: 0.8,
		Context:            signal.Data,
		Timestamp:          time.Now(),
	}
	eval.OverallScore = (eval.SuccessRate + eval.ExecutionTime + eval.UserSatisfaction +
		eval.ContextAdequacy + eval.Timeliness + eval.ResourceEfficiency) / 6.0
	return eval
}

func boolScore(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

func executionTimeScore(ms float64) float64 {
	switch {
	case ms < 100:
		return 1.0
	case ms < 500:
		return 0.8
	case ms < 1000:
		return 0.6
	default:
		return 0.4
	}
}

func timelinessScore(timing coretypes.FeedbackTiming) float64 {
	if timing == coretypes.TimingImmediate {
		return 1.0
	}
	return 0.7
}

// updateHistory folds an evaluation into the per-action-kind ring.
// Grounded on _update_history.
func (p *Processor) updateHistory(eval *ActionEvaluation) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recentEvaluations.Push(eval)

	h, ok := p.history[eval.ActionKind]
	if !ok {
		h = &feedbackHistory{actionKind: eval.ActionKind, recentScores: ring.New[float64](recentScoresCap)}
		p.history[eval.ActionKind] = h
	}

	h.feedbackCount++
	if eval.Success {
		h.successCount++
	}
	h.lastFeedbackTime = time.Now()
	h.recentScores.Push(eval.OverallScore)

	scores := h.recentScores.Items()
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	h.averageScore = sum / float64(len(scores))
}

// generateLearningSignal picks the signal kind per the fixed decision
// table. Grounded on _generate_learning_signal.
func (p *Processor) generateLearningSignal(signal *coretypes.FeedbackSignal, eval *ActionEvaluation) *LearningSignal {
	var kind LearningSignalKind
	switch {
	case eval.Success && eval.OverallScore > 0.8:
		kind = PositiveReinforcement
	case !eval.Success:
		kind = NegativeCorrection
	case eval.OverallScore < 0.5:
		kind = ErrorRecovery
	default:
		kind = StrategyOptimization
	}

	return &LearningSignal{
		ID:           uuid.NewString(),
		Kind:         kind,
		SourceAction: signal.ActionID,
		Strength:     eval.OverallScore,
		Data: map[string]any{
			"feedback_layer": string(signal.Layer),
			"feedback_type":  string(signal.Timing),
		},
		Timestamp: time.Now(),
	}
}

// updateSinks forwards a best-effort update to both learning sinks,
// matching _update_memory_systems's try/swallow-and-count policy.
func (p *Processor) updateSinks(ctx context.Context, signal *LearningSignal, eval *ActionEvaluation) {
	if p.HistoricalStore != nil {
		outcome := "failure"
		if eval.Success {
			outcome = "success"
		}
		update := external.FeedbackUpdate{
			ActionType: eval.ActionKind,
			Context:    eval.Context,
			Outcome:    outcome,
			Score:      eval.OverallScore,
			Timestamp:  time.Now().Unix(),
		}

		var err error
		switch {
		case p.HistoricalStore.StoreExperience != nil:
			err = p.HistoricalStore.StoreExperience(ctx, update)
		case p.HistoricalStore.UpdateFromFeedback != nil:
			err = p.HistoricalStore.UpdateFromFeedback(ctx, update)
		}
		if err != nil {
			logging.Debug("feedback", "historical store update failed: %v", err)
		} else {
			p.mu.Lock()
			p.metrics.HistoricalUpdates++
			p.mu.Unlock()
		}
	}

	if p.DeltaLearner != nil {
		feedback := external.LearningFeedback{
			Type: "execution_feedback",
			Metrics: map[string]float64{
				"success_rate":        eval.SuccessRate,
				"execution_time":      eval.ExecutionTime,
				"user_satisfaction":   eval.UserSatisfaction,
				"context_adequacy":    eval.ContextAdequacy,
				"timeliness":          eval.Timeliness,
				"resource_efficiency": eval.ResourceEfficiency,
			},
			Success:               eval.Success,
			PredictionError:       math.Abs(0.5 - eval.OverallScore),
			StrategyEffectiveness: eval.OverallScore,
		}

		var err error
		switch {
		case p.DeltaLearner.IntegrateExecutionFeedback != nil:
			err = p.DeltaLearner.IntegrateExecutionFeedback(ctx, feedback)
		case p.DeltaLearner.ComputeDelta != nil:
			var delta any
			delta, err = p.DeltaLearner.ComputeDelta(ctx, feedback)
			if err == nil && p.DeltaLearner.ShouldTriggerLearning != nil && p.DeltaLearner.ShouldTriggerLearning(delta) && p.DeltaLearner.IntegrateKnowledge != nil {
				err = p.DeltaLearner.IntegrateKnowledge(ctx, feedback, delta)
			}
		}
		if err != nil {
			logging.Debug("feedback", "delta learner update failed: %v", err)
		} else {
			p.mu.Lock()
			p.metrics.DeltaLearnerUpdates++
			p.mu.Unlock()
		}
	}
}

// generateStrategyAdjustment requires at least 3 recorded entries for
// the action kind. Grounded on _generate_strategy_adjustment.
func (p *Processor) generateStrategyAdjustment(signal *coretypes.FeedbackSignal, eval *ActionEvaluation) *StrategyAdjustment {
	p.mu.Lock()
	h, ok := p.history[eval.ActionKind]
	p.mu.Unlock()

	if !ok || h.feedbackCount < 3 {
		return nil
	}

	var adjType string
	var value float64
	switch {
	case h.averageScore < 0.3:
		adjType, value = "replace", -0.5
	case h.averageScore < 0.5:
		adjType, value = "modify", -0.3
	case eval.Success:
		adjType, value = "increase", 0.2
	default:
		adjType, value = "decrease", -0.2
	}

	expectedOutcome := "avoid_similar_failures"
	if adjType == "increase" || adjType == "modify" {
		expectedOutcome = "improved_success_rate"
	}

	return &StrategyAdjustment{
		ID:              uuid.NewString(),
		TriggerSignal:   signal.ActionID,
		TargetBehavior:  eval.ActionKind,
		AdjustmentType:  adjType,
		AdjustmentValue: value,
		ExpectedOutcome: expectedOutcome,
		Confidence:      math.Abs(value),
		Timestamp:       time.Now(),
	}
}

// GetRecommendations returns low-performance action kinds, per
// get_learning_recommendations: ≥5 recordings, average_score below
// threshold, sorted by (priority high first, score ascending), capped.
func (p *Processor) GetRecommendations(threshold float64, limit int) []Recommendation {
	if threshold <= 0 {
		threshold = successThreshold
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Recommendation
	for kind, h := range p.history {
		if h.feedbackCount < 5 || h.averageScore >= threshold {
			continue
		}
		priority := "medium"
		if h.averageScore < 0.3 {
			priority = "high"
		}
		out = append(out, Recommendation{
			ActionKind:     kind,
			Issue:          "low_success_rate",
			CurrentScore:   h.averageScore,
			SuccessRate:    float64(h.successCount) / float64(h.feedbackCount),
			Recommendation: "review_and_improve",
			Priority:       priority,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if (out[i].Priority == "high") != (out[j].Priority == "high") {
			return out[i].Priority == "high"
		}
		return out[i].CurrentScore < out[j].CurrentScore
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// PerformanceReport summarizes one action kind, or the whole history
// when actionKind is empty. Grounded on get_performance_report.
type PerformanceReport struct {
	ActionKind    string
	FeedbackCount int
	SuccessRate   float64
	AverageScore  float64
	RecentTrend   string
}

// Trend computes a half-split trend over the given score sequence.
// Grounded on _calculate_trend.
func Trend(scores []float64) string {
	if len(scores) < 10 {
		return "insufficient_data"
	}
	mid := len(scores) / 2
	first := stat.Mean(scores[:mid], nil)
	second := stat.Mean(scores[mid:], nil)

	diff := second - first
	switch {
	case diff > 0.1:
		return "improving"
	case diff < -0.1:
		return "declining"
	default:
		return "stable"
	}
}

// PerformanceReportFor builds a report for one action kind.
func (p *Processor) PerformanceReportFor(actionKind string) *PerformanceReport {
	p.mu.Lock()
	h, ok := p.history[actionKind]
	p.mu.Unlock()
	if !ok {
		return nil
	}

	successRate := 0.0
	if h.feedbackCount > 0 {
		successRate = float64(h.successCount) / float64(h.feedbackCount)
	}

	return &PerformanceReport{
		ActionKind:    actionKind,
		FeedbackCount: h.feedbackCount,
		SuccessRate:   successRate,
		AverageScore:  h.averageScore,
		RecentTrend:   Trend(h.recentScores.Items()),
	}
}

// Metrics returns a snapshot of processing counters.
func (p *Processor) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// RecentLearningSignals returns up to limit most-recent learning signals.
func (p *Processor) RecentLearningSignals(limit int) []*LearningSignal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.learningSignals.Last(limit)
}

// StrategyAdjustments returns up to limit most-recent strategy
// adjustments.
func (p *Processor) StrategyAdjustments(limit int) []*StrategyAdjustment {
	p.mu.Lock()
	defer p.mu.Unlock()
	if limit <= 0 || limit >= len(p.strategyAdjustments) {
		out := make([]*StrategyAdjustment, len(p.strategyAdjustments))
		copy(out, p.strategyAdjustments)
		return out
	}
	start := len(p.strategyAdjustments) - limit
	out := make([]*StrategyAdjustment, limit)
	copy(out, p.strategyAdjustments[start:])
	return out
}
