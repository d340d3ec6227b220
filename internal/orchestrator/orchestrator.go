// Package orchestrator drives the perception→decision→action→feedback→
// learning cycle. Grounded on
// original_source/.../feedback_loop_engine.py's FeedbackLoopEngine and
// PerceptionActionCycle.
package orchestrator

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"github.com/tsawler/prose/v3"

	"github.com/vthunder/pulseloop/internal/coretypes"
	"github.com/vthunder/pulseloop/internal/external"
	"github.com/vthunder/pulseloop/internal/logging"
	"github.com/vthunder/pulseloop/internal/ring"
)

const maxCompletedHistory = 1000

// fallbackRule is one row of the cognitive stage's rule table.
type fallbackRule struct {
	actionKind string
	urgency    float64
}

var fallbackTable = map[coretypes.PerceptionKind]fallbackRule{
	coretypes.PerceptionCursor:         {"system_query", 0.1},
	coretypes.PerceptionFilesystem:     {"file_operation", 0.5},
	coretypes.PerceptionScheduledTime:  {"satisfy_need", 0.4},
	coretypes.PerceptionUserActivity:   {"initiate_conversation", 0.6},
}

const defaultFallbackAction = "system_query"
const defaultFallbackUrgency = 0.3

// FeedbackDispatcher receives every feedback signal produced by a cycle,
// keyed by layer, plus a pass-through to the feedback processor.
type FeedbackDispatcher func(*coretypes.FeedbackSignal)

// Orchestrator owns the active-cycle map and drives cycles to
// completion. One goroutine's worth of state; the active/completed maps
// are only ever touched from methods on this type (no external mutation
// per SPEC_FULL.md §5).
type Orchestrator struct {
	HistoricalStore *external.HistoricalMemoryStore
	DeltaLearner    *external.DeltaLearner
	Executor        *external.ActionExecutor

	OnFeedback    FeedbackDispatcher
	OnCycleStart  func(*coretypes.Cycle)
	OnCycleEnd    func(*coretypes.Cycle)
	OnCycleFail   func(*coretypes.Cycle)
	ProcessFeedback func(context.Context, *coretypes.FeedbackSignal, *coretypes.Cycle)

	mu            sync.Mutex
	active        map[string]*coretypes.Cycle
	byAction      map[string]string // action id -> cycle id
	completed     *ring.Buffer[*coretypes.Cycle]
	cyclesFailed  int64
	cyclesOpened  int64
	learningDone  int64
}

// New creates an orchestrator. Executor, HistoricalStore, and
// DeltaLearner may be wired after construction; nil fields fall back per
// SPEC_FULL.md §4.6/§7.
func New() *Orchestrator {
	o := &Orchestrator{
		active:    make(map[string]*coretypes.Cycle),
		byAction:  make(map[string]string),
		completed: ring.New[*coretypes.Cycle](maxCompletedHistory),
	}
	return o
}

// Wire installs the action executor and registers this orchestrator's
// post-execution callback with it.
func (o *Orchestrator) Wire(executor *external.ActionExecutor, historical *external.HistoricalMemoryStore, learner *external.DeltaLearner) {
	o.Executor = executor
	o.HistoricalStore = historical
	o.DeltaLearner = learner

	if executor != nil && executor.RegisterPostExecutionCallback != nil {
		executor.RegisterPostExecutionCallback(o.handleActionResult)
	}
}

// StartCycle opens a new cycle for a dequeued perception event, runs the
// cognitive stage, and dispatches the resulting decision. This is the
// event-loop core's handler for every perception kind.
func (o *Orchestrator) StartCycle(ctx context.Context, perception *coretypes.PerceptionEvent) *coretypes.Cycle {
	cycle := coretypes.NewCycle(perception)

	o.mu.Lock()
	o.active[cycle.ID] = cycle
	o.cyclesOpened++
	o.mu.Unlock()

	if o.OnCycleStart != nil {
		o.OnCycleStart(cycle)
	}

	decision := o.cognitiveProcessing(ctx, perception)
	if decision == nil {
		o.failCycle(cycle)
		return cycle
	}

	cycle.Decision = decision
	cycle.State = coretypes.CycleDecided

	actionID, err := o.executeAction(ctx, decision)
	if err != nil || actionID == "" {
		logging.Warn("orchestrator", "dispatch failed for cycle %s: %v", cycle.ID, err)
		o.failCycle(cycle)
		return cycle
	}

	cycle.ActionID = actionID
	cycle.State = coretypes.CycleDispatched

	o.mu.Lock()
	o.byAction[actionID] = cycle.ID
	o.mu.Unlock()

	return cycle
}

func (o *Orchestrator) failCycle(cycle *coretypes.Cycle) {
	o.mu.Lock()
	delete(o.active, cycle.ID)
	cycle.State = coretypes.CycleFailed
	cycle.EndTime = time.Now()
	o.cyclesFailed++
	o.mu.Unlock()

	if o.OnCycleFail != nil {
		o.OnCycleFail(cycle)
	}
}

// cognitiveProcessing consults the historical store for context, then
// the delta learner for a decision; either absence or failure falls
// through to the rule table. Grounded on _cognitive_processing /
// _generate_fallback_decision.
func (o *Orchestrator) cognitiveProcessing(ctx context.Context, perception *coretypes.PerceptionEvent) *coretypes.ActionDecision {
	var memCtx map[string]any
	if o.HistoricalStore != nil && o.HistoricalStore.GetRelevantContext != nil {
		c, err := o.HistoricalStore.GetRelevantContext(ctx, perception.Data)
		if err != nil {
			logging.Debug("orchestrator", "historical context lookup failed: %v", err)
		} else {
			memCtx = c
		}
	}

	if o.DeltaLearner != nil && o.DeltaLearner.GenerateDecision != nil {
		data, err := o.DeltaLearner.GenerateDecision(ctx, perception.Data, memCtx)
		if err == nil {
			return &coretypes.ActionDecision{
				ID:              uuid.NewString(),
				TriggerEvent:    perception.ID,
				ActionKind:      cast.ToString(orElse(data.ActionType, defaultFallbackAction)),
				Target:          data.Target,
				Urgency:         cast.ToFloat64(data.Urgency),
				Confidence:      cast.ToFloat64(orElseFloat(data.Confidence, 0.5)),
				Parameters:      data.Parameters,
				Timestamp:       time.Now(),
				ExpectedOutcome: data.ExpectedOutcome,
			}
		}
		logging.Debug("orchestrator", "delta learner decision failed: %v", err)
	}

	return o.fallbackDecision(perception)
}

func orElse(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orElseFloat(f, def float64) float64 {
	if f == 0 {
		return def
	}
	return f
}

// fallbackDecision applies the rule table, nudging urgency from a text
// payload (if present) via a light prose/v3 read: more sentences and any
// detected entity raise urgency slightly, capped at +0.2.
func (o *Orchestrator) fallbackDecision(perception *coretypes.PerceptionEvent) *coretypes.ActionDecision {
	rule, ok := fallbackTable[perception.Kind]
	actionKind, urgency := defaultFallbackAction, defaultFallbackUrgency
	if ok {
		actionKind, urgency = rule.actionKind, rule.urgency
	}

	if text, ok := perception.Data["text"].(string); ok && text != "" {
		urgency = math.Min(1.0, urgency+textUrgencyNudge(text))
	}

	return &coretypes.ActionDecision{
		ID:           uuid.NewString(),
		TriggerEvent: perception.ID,
		ActionKind:   actionKind,
		Target:       "auto_generated",
		Urgency:      urgency,
		Confidence:   0.5,
		Parameters:   perception.Data,
		Timestamp:    time.Now(),
	}
}

// textUrgencyNudge scans free text for sentence count and named entities
// via prose/v3 and any exclamation marks; returns a small additive
// urgency bump in [0, 0.2].
func textUrgencyNudge(text string) float64 {
	doc, err := prose.NewDocument(text)
	if err != nil {
		return 0
	}

	bump := 0.0
	if strings.Contains(text, "!") {
		bump += 0.1
	}
	if len(doc.Entities()) > 0 {
		bump += 0.05
	}
	if len(doc.Sentences()) > 2 {
		bump += 0.05
	}
	return math.Min(bump, 0.2)
}

// executeAction dispatches a decision's action via the wired executor,
// converting urgency to priority per spec: round(10 - urgency*10).
func (o *Orchestrator) executeAction(ctx context.Context, decision *coretypes.ActionDecision) (string, error) {
	if o.Executor == nil || o.Executor.ExecuteAction == nil {
		return "", nil
	}

	priority := int(math.Round(10 - decision.Urgency*10))
	return o.Executor.ExecuteAction(ctx, decision.ActionKind, decision.Parameters, priority, "feedback_loop", false)
}

// handleActionResult is the executor's post-execution callback: it
// locates the matching cycle, attaches the result, and generates
// feedback. Grounded on _handle_action_result.
func (o *Orchestrator) handleActionResult(actionID string, result external.ActionResult) {
	o.mu.Lock()
	cycleID, ok := o.byAction[actionID]
	var cycle *coretypes.Cycle
	if ok {
		cycle = o.active[cycleID]
	}
	o.mu.Unlock()

	if !ok || cycle == nil {
		logging.Debug("orchestrator", "post-execution callback for unknown action %s ignored", actionID)
		return
	}

	cycle.ExecutionResult = &coretypes.ExecutionResult{
		Success: result.Success,
		Data:    result.Data,
		Error:   result.Error,
	}
	cycle.State = coretypes.CycleResulted

	o.generateCycleFeedback(cycle)
	o.tryComplete(cycle)
}

// generateCycleFeedback synthesizes the four feedback signals in fixed
// layer order and dispatches each to subscribers, then to the feedback
// processor. Grounded on _generate_cycle_feedback's exact magnitude
// table.
func (o *Orchestrator) generateCycleFeedback(cycle *coretypes.Cycle) {
	success := cycle.ExecutionResult.Success

	signals := []*coretypes.FeedbackSignal{
		newSignal(cycle.ActionID, coretypes.LayerPhysiological, coretypes.TimingImmediate,
			valueIf(success, 1.0, 0.0),
			map[string]any{"reaction": valueIfStr(success, "satisfaction", "disappointment")}),
		newSignal(cycle.ActionID, coretypes.LayerCognitive, coretypes.TimingDelayed,
			valueIf(success, 0.8, 0.2),
			map[string]any{"attention_shift": "completed", "thinking_result": "validated"}),
		newSignal(cycle.ActionID, coretypes.LayerEmotional, coretypes.TimingImmediate,
			valueIf(success, 0.7, 0.3),
			map[string]any{"emotion": valueIfStr(success, "happy", "disappointed"), "intensity": 0.6}),
	}

	if cycle.Perception.Kind == coretypes.PerceptionUserActivity || cycle.Perception.Kind == coretypes.PerceptionVoice {
		signals = append(signals, newSignal(cycle.ActionID, coretypes.LayerSocial, coretypes.TimingDelayed,
			valueIf(success, 0.6, 0.4),
			map[string]any{"relationship_impact": valueIfStr(success, "positive", "neutral")}))
	}

	cycle.FeedbackSignals = append(cycle.FeedbackSignals, signals...)
	cycle.State = coretypes.CycleFeedbackAttached

	for _, s := range signals {
		if o.OnFeedback != nil {
			o.OnFeedback(s)
		}
		if o.ProcessFeedback != nil {
			o.ProcessFeedback(context.Background(), s, cycle)
		}
	}
}

func newSignal(actionID string, layer coretypes.FeedbackLayer, timing coretypes.FeedbackTiming, magnitude float64, data map[string]any) *coretypes.FeedbackSignal {
	return &coretypes.FeedbackSignal{
		ID:        uuid.NewString(),
		ActionID:  actionID,
		Layer:     layer,
		Timing:    timing,
		Magnitude: magnitude,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func valueIf(cond bool, ifTrue, ifFalse float64) float64 {
	if cond {
		return ifTrue
	}
	return ifFalse
}

func valueIfStr(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}

// tryComplete completes a cycle if it has both a result and feedback,
// generating its learning update and moving it to completed history.
// Grounded on _update_active_cycles / _generate_learning_update.
func (o *Orchestrator) tryComplete(cycle *coretypes.Cycle) {
	if !cycle.Completable() {
		return
	}

	cycle.EndTime = time.Now()
	cycle.LatencyMS = float64(cycle.EndTime.Sub(cycle.StartTime)) / float64(time.Millisecond)

	o.generateLearningUpdate(cycle)

	cycle.State = coretypes.CycleCompleted

	o.mu.Lock()
	delete(o.active, cycle.ID)
	delete(o.byAction, cycle.ActionID)
	o.completed.Push(cycle)
	o.mu.Unlock()

	if o.OnCycleEnd != nil {
		o.OnCycleEnd(cycle)
	}
}

func (o *Orchestrator) generateLearningUpdate(cycle *coretypes.Cycle) {
	if cycle.Decision == nil || cycle.ExecutionResult == nil {
		return
	}

	expected := cycle.Decision.Confidence
	actual := 0.0
	if cycle.ExecutionResult.Success {
		actual = 1.0
	}
	predictionError := math.Abs(expected - actual)
	performanceDelta := actual - expected

	adjustment := coretypes.StrategyAdjustment{
		UrgencyModifier:      boolToFloat(predictionError > 0.5, 0.1, 0.0),
		ConfidenceUpdate:     actual,
		PatternReinforcement: actual > expected,
	}

	update := &coretypes.LearningUpdate{
		ID:                 uuid.NewString(),
		SourceAction:        cycle.ActionID,
		PredictionError:     predictionError,
		PerformanceDelta:    performanceDelta,
		StrategyAdjustment:  adjustment,
		Timestamp:           time.Now(),
	}

	ctx := context.Background()

	if o.HistoricalStore != nil && o.HistoricalStore.UpdateFromFeedback != nil {
		outcome := "failure"
		if cycle.ExecutionResult.Success {
			outcome = "success"
		}
		err := o.HistoricalStore.UpdateFromFeedback(ctx, external.FeedbackUpdate{
			ActionType: cycle.Decision.ActionKind,
			Context:    cycle.Perception.Data,
			Outcome:    outcome,
			Score:      actual,
			Timestamp:  time.Now().Unix(),
		})
		if err != nil {
			logging.Debug("orchestrator", "historical store update failed: %v", err)
		} else {
			update.HistoricalStatus = &coretypes.SinkStatus{Updated: true}
		}
	}

	if o.DeltaLearner != nil {
		feedback := external.LearningFeedback{
			Type:            "execution_feedback",
			Success:         cycle.ExecutionResult.Success,
			PredictionError: predictionError,
		}
		var err error
		switch {
		case o.DeltaLearner.IntegrateExecutionFeedback != nil:
			err = o.DeltaLearner.IntegrateExecutionFeedback(ctx, feedback)
		case o.DeltaLearner.ComputeDelta != nil:
			var delta any
			delta, err = o.DeltaLearner.ComputeDelta(ctx, feedback)
			if err == nil && o.DeltaLearner.ShouldTriggerLearning != nil && o.DeltaLearner.ShouldTriggerLearning(delta) && o.DeltaLearner.IntegrateKnowledge != nil {
				err = o.DeltaLearner.IntegrateKnowledge(ctx, feedback, delta)
			}
		}
		if err != nil {
			logging.Debug("orchestrator", "delta learner update failed: %v", err)
		} else if o.DeltaLearner.IntegrateExecutionFeedback != nil || o.DeltaLearner.ComputeDelta != nil {
			update.DeltaLearnerStatus = &coretypes.SinkStatus{Updated: true}
		}
	}

	cycle.LearningUpdate = update

	o.mu.Lock()
	o.learningDone++
	o.mu.Unlock()
}

func boolToFloat(cond bool, ifTrue, ifFalse float64) float64 {
	if cond {
		return ifTrue
	}
	return ifFalse
}

// CompletedCycles returns a snapshot of the completed-history ring.
func (o *Orchestrator) CompletedCycles() []*coretypes.Cycle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.completed.Items()
}

// ActiveCount returns the number of cycles still in flight.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Counters returns opened/failed/learning-updates totals.
func (o *Orchestrator) Counters() (opened, failed, learningUpdates int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cyclesOpened, o.cyclesFailed, o.learningDone
}
