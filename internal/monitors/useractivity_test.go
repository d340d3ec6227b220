package monitors

import (
	"testing"
	"time"

	"github.com/vthunder/pulseloop/internal/coretypes"
)

func TestClassifyActivity_Thresholds(t *testing.T) {
	cases := []struct {
		name            string
		idle            time.Duration
		eventsPerMinute int
		want            ActivityState
	}{
		{"long idle wins over a high rate", 6 * time.Minute, 200, ActivityIdle},
		{"very high rate is gaming", time.Second, 150, ActivityGaming},
		{"high rate is typing", time.Second, 75, ActivityTyping},
		{"moderate rate is working", time.Second, 20, ActivityWorking},
		{"short idle with a low rate is reading", 45 * time.Second, 2, ActivityReading},
		{"fresh input with a low rate is active", time.Second, 2, ActivityActive},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := classifyActivity(c.idle, c.eventsPerMinute); got != c.want {
				t.Errorf("classifyActivity(%v, %d) = %q, want %q", c.idle, c.eventsPerMinute, got, c.want)
			}
		})
	}
}

func TestFocusScoreFor_CapsAndHalvesWhenIdle(t *testing.T) {
	if got := focusScoreFor(200, time.Second); got != 1.0 {
		t.Errorf("focusScoreFor(200, fresh) = %v, want capped at 1.0", got)
	}
	if got := focusScoreFor(40, time.Second); got != 0.4 {
		t.Errorf("focusScoreFor(40, fresh) = %v, want 0.4", got)
	}
	if got := focusScoreFor(40, 2*time.Minute); got != 0.2 {
		t.Errorf("focusScoreFor(40, idle>1min) = %v, want 0.2 (halved)", got)
	}
}

func TestUserActivityMonitor_AnalyzeFiresOnlyOnStateChange(t *testing.T) {
	m := NewUserActivityMonitor()
	var fired []*coretypes.PerceptionEvent
	m.RegisterCallback(func(e *coretypes.PerceptionEvent) { fired = append(fired, e) })

	for i := 0; i < 20; i++ {
		m.RecordInput()
	}
	m.analyze()
	if len(fired) != 1 {
		t.Fatalf("expected the first analyze() to fire once (unset -> working), got %d", len(fired))
	}
	if fired[0].Data["activity_state"] != string(ActivityWorking) {
		t.Errorf("activity_state = %v, want %q", fired[0].Data["activity_state"], ActivityWorking)
	}

	m.analyze()
	if len(fired) != 1 {
		t.Errorf("expected analyze() to stay silent when the classified state hasn't changed, got %d total fires", len(fired))
	}

	if got := m.CurrentState(); got != ActivityWorking {
		t.Errorf("CurrentState() = %q, want %q", got, ActivityWorking)
	}
}

func TestUserActivityMonitor_RecordInputUpdatesLastInputTime(t *testing.T) {
	m := NewUserActivityMonitor()
	m.lastInputTime = time.Now().Add(-time.Hour)
	m.RecordInput()

	if time.Since(m.lastInputTime) > time.Second {
		t.Error("expected RecordInput to refresh lastInputTime to roughly now")
	}
}
