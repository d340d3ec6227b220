// Package external declares the capability-probed boundary the cycle
// orchestrator and feedback processor talk to: an action executor and
// two learning sinks (historical memory store, delta learner). Each is
// a record of optional function handles rather than an interface with
// required methods — callers probe for nil before calling, the way
// internal/effectors.DiscordEffector wires its callback fields. Grounded
// on SPEC_FULL.md §6/§9 ("capability interface with optional methods...
// a record of function handles with null sentinels").
package external

import "context"

// ActionResult is what the executor eventually reports back for a
// dispatched action.
type ActionResult struct {
	Success bool
	Data    map[string]any
	Error   string
}

// PostExecutionCallback is invoked once an action finishes. actionID
// identifies the cycle that dispatched it.
type PostExecutionCallback func(actionID string, result ActionResult)

// ActionExecutor dispatches action decisions. ExecuteAction must be set;
// RegisterPostExecutionCallback may be nil if the executor never reports
// back (the orchestrator then leaves the cycle without a result).
type ActionExecutor struct {
	// ExecuteAction dispatches an action and returns its id synchronously.
	ExecuteAction func(ctx context.Context, actionKind string, parameters map[string]any, priority int, triggerSource string, waitForCompletion bool) (actionID string, err error)

	// RegisterPostExecutionCallback installs the callback the executor
	// invokes once an action completes. Called once at wiring time.
	RegisterPostExecutionCallback func(cb PostExecutionCallback)
}

// FeedbackUpdate is the payload shape sinks receive, per SPEC_FULL.md §6.
type FeedbackUpdate struct {
	ActionType string
	Context    map[string]any
	Outcome    string // "success" | "failure"
	Score      float64
	Timestamp  int64
}

// HistoricalMemoryStore is the optional context-read / experience-write
// sink. All fields may be nil.
type HistoricalMemoryStore struct {
	GetRelevantContext func(ctx context.Context, payload map[string]any) (map[string]any, error)
	UpdateFromFeedback func(ctx context.Context, update FeedbackUpdate) error
	StoreExperience    func(ctx context.Context, update FeedbackUpdate) error
}

// DecisionData is what a delta learner's GenerateDecision returns in
// place of the fallback rule table.
type DecisionData struct {
	ActionType      string
	Target          string
	Urgency         float64
	Confidence      float64
	Parameters      map[string]any
	ExpectedOutcome string
}

// LearningFeedback is the payload shape passed to a delta learner's
// feedback-integration calls, per SPEC_FULL.md §6.
type LearningFeedback struct {
	Type                 string // "execution_feedback"
	Metrics              map[string]float64
	Success              bool
	PredictionError       float64
	StrategyEffectiveness float64
}

// DeltaLearner is the optional decision-generation / feedback-integration
// sink. GenerateDecision may be nil (fallback rule table is used).
// Either IntegrateExecutionFeedback or the
// ComputeDelta/ShouldTriggerLearning/IntegrateKnowledge triple may be
// set; the feedback processor tries the single-call form first.
type DeltaLearner struct {
	GenerateDecision func(ctx context.Context, payload, context map[string]any) (DecisionData, error)

	IntegrateExecutionFeedback func(ctx context.Context, update LearningFeedback) error

	ComputeDelta          func(ctx context.Context, update LearningFeedback) (delta any, err error)
	ShouldTriggerLearning func(delta any) bool
	IntegrateKnowledge    func(ctx context.Context, update LearningFeedback, delta any) error
}
