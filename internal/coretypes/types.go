// Package coretypes holds the data model shared by every subsystem of the
// perception-action feedback loop: the events monitors produce, the
// decisions and feedback the orchestrator carries through a cycle, and the
// learning updates the feedback processor hands to external sinks.
package coretypes

import (
	"time"

	"github.com/google/uuid"
)

// PerceptionKind tags the origin and shape of a PerceptionEvent's payload.
type PerceptionKind string

const (
	PerceptionCursor        PerceptionKind = "cursor"
	PerceptionFilesystem    PerceptionKind = "filesystem"
	PerceptionScheduledTime PerceptionKind = "scheduled-time"
	PerceptionSystemState   PerceptionKind = "system-state"
	PerceptionUserActivity  PerceptionKind = "user-activity"
	PerceptionAudioState    PerceptionKind = "audio-state"
	PerceptionVisualState   PerceptionKind = "visual-state"
	PerceptionVoice         PerceptionKind = "voice"
)

// PerceptionEvent is produced by a monitor, consumed once, and discarded
// after its cycle completes.
type PerceptionEvent struct {
	ID        string
	Kind      PerceptionKind
	Source    string
	Data      map[string]any
	Timestamp time.Time
	Priority  int // 1 = highest, 10 = lowest
	Processed bool
}

// NewPerceptionEvent builds an event with a fresh id and current timestamp.
func NewPerceptionEvent(kind PerceptionKind, source string, data map[string]any, priority int) *PerceptionEvent {
	return &PerceptionEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Source:    source,
		Data:      data,
		Timestamp: time.Now(),
		Priority:  priority,
	}
}

// ActionDecision is produced by the cognitive stage and attached to a cycle.
type ActionDecision struct {
	ID              string
	TriggerEvent    string
	ActionKind      string
	Target          string
	Urgency         float64
	Confidence      float64
	Parameters      map[string]any
	Timestamp       time.Time
	ExpectedOutcome string
}

// ExecutionResult is the outcome reported by the action executor's
// post-execution callback.
type ExecutionResult struct {
	Success bool
	Data    map[string]any
	Error   string
}

// FeedbackLayer is one of four semantic channels an outcome is reported on.
type FeedbackLayer string

const (
	LayerPhysiological FeedbackLayer = "physiological"
	LayerCognitive     FeedbackLayer = "cognitive"
	LayerEmotional     FeedbackLayer = "emotional"
	LayerSocial        FeedbackLayer = "social"
)

// FeedbackTiming is when, relative to the action, a signal was observed.
type FeedbackTiming string

const (
	TimingImmediate     FeedbackTiming = "immediate"
	TimingDelayed       FeedbackTiming = "delayed"
	TimingPredictive    FeedbackTiming = "predictive"
	TimingRetrospective FeedbackTiming = "retrospective"
)

// FeedbackSignal reports an outcome along one layer.
type FeedbackSignal struct {
	ID        string
	ActionID  string
	Layer     FeedbackLayer
	Timing    FeedbackTiming
	Magnitude float64 // 0-1
	Data      map[string]any
	Timestamp time.Time
}

// StrategyAdjustment is the three-key adjustment map a LearningUpdate
// carries (kept as a struct instead of map[string]any for type safety;
// MapForm renders the three keys the external interface contract names).
type StrategyAdjustment struct {
	UrgencyModifier     float64
	ConfidenceUpdate    float64
	PatternReinforcement bool
}

// MapForm renders the adjustment as the {urgency_modifier, confidence_update,
// pattern_reinforcement} map the sinks' wire contract expects.
func (s StrategyAdjustment) MapForm() map[string]any {
	return map[string]any{
		"urgency_modifier":     s.UrgencyModifier,
		"confidence_update":    s.ConfidenceUpdate,
		"pattern_reinforcement": s.PatternReinforcement,
	}
}

// SinkStatus records the best-effort outcome of updating one learning sink.
type SinkStatus struct {
	Updated bool
	Error   string
}

// LearningUpdate is derived from a completed cycle and handed to the two
// learning sinks.
type LearningUpdate struct {
	ID                 string
	SourceAction       string
	PredictionError    float64
	PerformanceDelta   float64
	StrategyAdjustment StrategyAdjustment
	Timestamp          time.Time
	HistoricalStatus   *SinkStatus
	DeltaLearnerStatus *SinkStatus
}

// CycleState is a cycle's position in its state machine.
type CycleState string

const (
	CycleOpened           CycleState = "opened"
	CycleDecided          CycleState = "decided"
	CycleDispatched       CycleState = "dispatched"
	CycleResulted         CycleState = "resulted"
	CycleFeedbackAttached CycleState = "feedback-attached"
	CycleCompleted        CycleState = "completed"
	CycleFailed           CycleState = "failed"
)

// Cycle is one complete pass from a single perception event to its
// learning update.
type Cycle struct {
	ID              string
	Perception      *PerceptionEvent
	Decision        *ActionDecision
	ActionID        string
	ExecutionResult *ExecutionResult
	FeedbackSignals []*FeedbackSignal
	LearningUpdate  *LearningUpdate
	State           CycleState
	StartTime       time.Time
	EndTime         time.Time
	LatencyMS       float64
}

// NewCycle opens a cycle for a freshly dequeued perception.
func NewCycle(perception *PerceptionEvent) *Cycle {
	return &Cycle{
		ID:         uuid.NewString(),
		Perception: perception,
		State:      CycleOpened,
		StartTime:  time.Now(),
	}
}

// Completable reports whether the cycle has both an execution result and
// at least one feedback signal, the condition for moving to completed.
func (c *Cycle) Completable() bool {
	return c.ExecutionResult != nil && len(c.FeedbackSignals) > 0
}
