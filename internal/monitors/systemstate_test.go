package monitors

import (
	"testing"

	"github.com/vthunder/pulseloop/internal/coretypes"
)

func TestSystemStateMonitor_CollectPopulatesCurrentStateAndFiresCallback(t *testing.T) {
	m := NewSystemStateMonitor()
	var got *coretypes.PerceptionEvent
	m.RegisterCallback(func(e *coretypes.PerceptionEvent) { got = e })

	m.collect()

	if got == nil {
		t.Fatal("expected collect() to fire a callback")
	}
	for _, key := range []string{"cpu_percent", "memory_percent", "disk_percent", "bytes_sent", "bytes_recv", "uptime_seconds", "process_count", "load_average"} {
		if _, ok := got.Data[key]; !ok {
			t.Errorf("expected perception data to carry %q, got %+v", key, got.Data)
		}
	}

	current := m.CurrentState()
	if current == nil {
		t.Fatal("expected CurrentState() to be populated after collect()")
	}
	if current.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds = %v, want non-negative", current.UptimeSeconds)
	}

	history := m.History()
	if len(history) != 1 {
		t.Errorf("History() length = %d, want 1 after a single collect()", len(history))
	}
}

func TestSystemStateMonitor_HistoryAccumulatesAcrossCollects(t *testing.T) {
	m := NewSystemStateMonitor()
	m.collect()
	m.collect()
	m.collect()

	if got := len(m.History()); got != 3 {
		t.Errorf("History() length = %d, want 3", got)
	}
}
