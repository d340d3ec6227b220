package monitors

import (
	"sync"
	"testing"
	"time"

	"github.com/vthunder/pulseloop/internal/coretypes"
)

func TestCursorMonitor_ReportsVelocityAndMovement(t *testing.T) {
	var mu sync.Mutex
	x, y := 0.0, 0.0
	source := func() (float64, float64, error) {
		mu.Lock()
		defer mu.Unlock()
		return x, y, nil
	}

	m := NewCursorMonitor(source)
	events := make(chan *coretypes.PerceptionEvent, 32)
	m.RegisterCallback(func(e *coretypes.PerceptionEvent) { events <- e })
	m.Initialize()
	defer m.Shutdown()

	// Wait for a tick at rest, then move far enough to cross the
	// movement threshold.
	<-events
	mu.Lock()
	x, y = 100, 100
	mu.Unlock()

	deadline := time.After(time.Second)
	for {
		select {
		case e := <-events:
			if e.Data["is_moving"] == true {
				goto moved
			}
		case <-deadline:
			t.Fatal("timed out waiting for a movement-classified event")
		}
	}
moved:

	avg, max, current := m.VelocityStatistics()
	if avg <= 0 || max <= 0 || current < 0 {
		t.Errorf("VelocityStatistics() = (%v, %v, %v), want positive averages after movement", avg, max, current)
	}
	if !m.IsUserActive(time.Second) {
		t.Error("expected the monitor to report the user as active right after movement")
	}
}

func TestCursorMonitor_NilSourceDefaultsToOrigin(t *testing.T) {
	m := NewCursorMonitor(nil)
	events := make(chan *coretypes.PerceptionEvent, 4)
	m.RegisterCallback(func(e *coretypes.PerceptionEvent) { events <- e })
	m.Initialize()
	defer m.Shutdown()

	select {
	case e := <-events:
		if e.Data["x"] != 0.0 || e.Data["y"] != 0.0 {
			t.Errorf("expected the default source to report the origin, got x=%v y=%v", e.Data["x"], e.Data["y"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a position event")
	}
}
