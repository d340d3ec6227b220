package orchestrator

import (
	"context"
	"testing"

	"github.com/vthunder/pulseloop/internal/coretypes"
	"github.com/vthunder/pulseloop/internal/external"
)

func fakeExecutor(onExecute func(actionKind string, priority int) (string, error)) (*external.ActionExecutor, func(actionID string, result external.ActionResult)) {
	var cb external.PostExecutionCallback
	exec := &external.ActionExecutor{
		ExecuteAction: func(ctx context.Context, actionKind string, parameters map[string]any, priority int, triggerSource string, waitForCompletion bool) (string, error) {
			return onExecute(actionKind, priority)
		},
		RegisterPostExecutionCallback: func(c external.PostExecutionCallback) { cb = c },
	}
	return exec, func(actionID string, result external.ActionResult) { cb(actionID, result) }
}

func TestStartCycle_FailsWithoutAnExecutor(t *testing.T) {
	o := New()
	var failed *coretypes.Cycle
	o.OnCycleFail = func(c *coretypes.Cycle) { failed = c }

	perception := coretypes.NewPerceptionEvent(coretypes.PerceptionCursor, "test", nil, 5)
	cycle := o.StartCycle(context.Background(), perception)

	if cycle.State != coretypes.CycleFailed {
		t.Errorf("State = %q, want %q", cycle.State, coretypes.CycleFailed)
	}
	if failed != cycle {
		t.Error("expected OnCycleFail to fire with the failed cycle")
	}
	_, failedCount, _ := o.Counters()
	if failedCount != 1 {
		t.Errorf("Counters() failed = %d, want 1", failedCount)
	}
}

func TestStartCycle_DispatchesAndRunsToCompletion(t *testing.T) {
	o := New()
	var gotActionKind string
	var gotPriority int
	exec, deliver := fakeExecutor(func(actionKind string, priority int) (string, error) {
		gotActionKind = actionKind
		gotPriority = priority
		return "action-1", nil
	})
	o.Wire(exec, nil, nil)

	var completed *coretypes.Cycle
	o.OnCycleEnd = func(c *coretypes.Cycle) { completed = c }

	perception := coretypes.NewPerceptionEvent(coretypes.PerceptionFilesystem, "test", nil, 5)
	cycle := o.StartCycle(context.Background(), perception)

	if cycle.State != coretypes.CycleDispatched {
		t.Fatalf("State = %q, want %q", cycle.State, coretypes.CycleDispatched)
	}
	if gotActionKind != "file_operation" {
		t.Errorf("ActionKind dispatched = %q, want %q (fallback table entry for filesystem)", gotActionKind, "file_operation")
	}
	// fallback urgency for filesystem is 0.5: round(10 - 0.5*10) = 5
	if gotPriority != 5 {
		t.Errorf("priority = %d, want 5", gotPriority)
	}

	deliver("action-1", external.ActionResult{Success: true})

	if completed == nil {
		t.Fatal("expected the cycle to complete once the result and feedback arrive")
	}
	if completed.State != coretypes.CycleCompleted {
		t.Errorf("State = %q, want %q", completed.State, coretypes.CycleCompleted)
	}
	if len(completed.FeedbackSignals) != 3 {
		t.Errorf("len(FeedbackSignals) = %d, want 3 for a non-social perception kind", len(completed.FeedbackSignals))
	}
	if completed.LearningUpdate == nil {
		t.Error("expected a learning update to be generated")
	}
	if o.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0 after completion", o.ActiveCount())
	}
}

func TestGenerateCycleFeedback_AddsSocialLayerForUserActivityAndVoice(t *testing.T) {
	o := New()
	exec, deliver := fakeExecutor(func(actionKind string, priority int) (string, error) { return "action-1", nil })
	o.Wire(exec, nil, nil)

	var completed *coretypes.Cycle
	o.OnCycleEnd = func(c *coretypes.Cycle) { completed = c }

	perception := coretypes.NewPerceptionEvent(coretypes.PerceptionUserActivity, "test", nil, 5)
	o.StartCycle(context.Background(), perception)
	deliver("action-1", external.ActionResult{Success: true})

	if completed == nil {
		t.Fatal("expected completion")
	}
	if len(completed.FeedbackSignals) != 4 {
		t.Fatalf("len(FeedbackSignals) = %d, want 4 for a user-activity perception", len(completed.FeedbackSignals))
	}
	last := completed.FeedbackSignals[3]
	if last.Layer != coretypes.LayerSocial {
		t.Errorf("FeedbackSignals[3].Layer = %q, want %q", last.Layer, coretypes.LayerSocial)
	}
}

func TestCognitiveProcessing_PrefersDeltaLearnerOverFallback(t *testing.T) {
	o := New()
	learner := &external.DeltaLearner{
		GenerateDecision: func(ctx context.Context, payload, memCtx map[string]any) (external.DecisionData, error) {
			return external.DecisionData{ActionType: "custom_action", Urgency: 0.9, Confidence: 0.8}, nil
		},
	}
	o.Wire(nil, nil, learner)

	perception := coretypes.NewPerceptionEvent(coretypes.PerceptionCursor, "test", nil, 5)
	decision := o.cognitiveProcessing(context.Background(), perception)

	if decision.ActionKind != "custom_action" {
		t.Errorf("ActionKind = %q, want %q", decision.ActionKind, "custom_action")
	}
	if decision.Urgency != 0.9 {
		t.Errorf("Urgency = %v, want 0.9", decision.Urgency)
	}
}

func TestFallbackDecision_UnknownKindUsesDefault(t *testing.T) {
	o := New()
	perception := coretypes.NewPerceptionEvent(coretypes.PerceptionSystemState, "test", nil, 5)
	decision := o.fallbackDecision(perception)

	if decision.ActionKind != defaultFallbackAction {
		t.Errorf("ActionKind = %q, want default %q (system-state has no fallback table entry)", decision.ActionKind, defaultFallbackAction)
	}
	if decision.Urgency != defaultFallbackUrgency {
		t.Errorf("Urgency = %v, want default %v", decision.Urgency, defaultFallbackUrgency)
	}
}

func TestFallbackDecision_TextNudgesUrgencyRegardlessOfKind(t *testing.T) {
	o := New()
	perception := coretypes.NewPerceptionEvent(coretypes.PerceptionCursor, "test", map[string]any{
		"text": "This is urgent! Act now.",
	}, 5)
	decision := o.fallbackDecision(perception)

	base := fallbackTable[coretypes.PerceptionCursor].urgency
	if decision.Urgency <= base {
		t.Errorf("Urgency = %v, want greater than base %v once a text payload with '!' is present", decision.Urgency, base)
	}
}

func TestTextUrgencyNudge_CapsAtPointTwo(t *testing.T) {
	bump := textUrgencyNudge("Wow! This is amazing! John Smith visited Paris. He loved it. It was great.")
	if bump > 0.2 {
		t.Errorf("textUrgencyNudge = %v, want capped at 0.2", bump)
	}
}

func TestStartCycle_FailsWhenDispatchReturnsNoActionID(t *testing.T) {
	o := New()
	exec, _ := fakeExecutor(func(actionKind string, priority int) (string, error) {
		return "", nil
	})
	o.Wire(exec, nil, nil)

	var failed bool
	o.OnCycleFail = func(c *coretypes.Cycle) { failed = true }

	perception := coretypes.NewPerceptionEvent(coretypes.PerceptionCursor, "test", nil, 5)
	cycle := o.StartCycle(context.Background(), perception)

	if !failed {
		t.Error("expected OnCycleFail to fire when the executor returns an empty action id")
	}
	if cycle.State != coretypes.CycleFailed {
		t.Errorf("State = %q, want %q", cycle.State, coretypes.CycleFailed)
	}
}
