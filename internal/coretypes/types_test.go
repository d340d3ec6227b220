package coretypes

import "testing"

func TestNewPerceptionEvent_SetsIDAndTimestamp(t *testing.T) {
	ev := NewPerceptionEvent(PerceptionCursor, "cursor_monitor", map[string]any{"x": 1.0}, 3)
	if ev.ID == "" {
		t.Error("expected a generated id")
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected a non-zero timestamp")
	}
	if ev.Kind != PerceptionCursor || ev.Source != "cursor_monitor" || ev.Priority != 3 {
		t.Errorf("unexpected event fields: %+v", ev)
	}
	if ev.Processed {
		t.Error("expected Processed to start false")
	}
}

func TestNewCycle_OpensInOpenedState(t *testing.T) {
	ev := NewPerceptionEvent(PerceptionFilesystem, "filesystem_monitor", nil, 5)
	c := NewCycle(ev)
	if c.State != CycleOpened {
		t.Errorf("State = %q, want %q", c.State, CycleOpened)
	}
	if c.Perception != ev {
		t.Error("expected the cycle to retain the perception event")
	}
	if c.StartTime.IsZero() {
		t.Error("expected a non-zero start time")
	}
}

func TestCycle_Completable(t *testing.T) {
	c := NewCycle(NewPerceptionEvent(PerceptionCursor, "test", nil, 5))
	if c.Completable() {
		t.Error("a freshly opened cycle should not be completable")
	}

	c.ExecutionResult = &ExecutionResult{Success: true}
	if c.Completable() {
		t.Error("an execution result alone should not make a cycle completable")
	}

	c.FeedbackSignals = append(c.FeedbackSignals, &FeedbackSignal{Layer: LayerCognitive, Magnitude: 0.5})
	if !c.Completable() {
		t.Error("an execution result plus a feedback signal should be completable")
	}
}

func TestStrategyAdjustment_MapForm(t *testing.T) {
	adj := StrategyAdjustment{UrgencyModifier: 0.1, ConfidenceUpdate: -0.05, PatternReinforcement: true}
	m := adj.MapForm()

	if m["urgency_modifier"] != 0.1 {
		t.Errorf("urgency_modifier = %v, want 0.1", m["urgency_modifier"])
	}
	if m["confidence_update"] != -0.05 {
		t.Errorf("confidence_update = %v, want -0.05", m["confidence_update"])
	}
	if m["pattern_reinforcement"] != true {
		t.Errorf("pattern_reinforcement = %v, want true", m["pattern_reinforcement"])
	}
}
