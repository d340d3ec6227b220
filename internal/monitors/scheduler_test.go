package monitors

import (
	"testing"
	"time"

	"github.com/vthunder/pulseloop/internal/coretypes"
)

func TestSchedulerMonitor_FiresDueEventsAndDropsNonRecurring(t *testing.T) {
	m := NewSchedulerMonitor()
	var fired []*coretypes.PerceptionEvent
	m.RegisterCallback(func(e *coretypes.PerceptionEvent) { fired = append(fired, e) })

	m.Schedule(&ScheduledEvent{EventType: "past", TriggerTime: time.Now().Add(-time.Minute)})
	m.Schedule(&ScheduledEvent{EventType: "future", TriggerTime: time.Now().Add(time.Hour)})

	m.checkEvents()

	if len(fired) != 1 || fired[0].Data["event_type"] != "past" {
		t.Fatalf("expected only the due event to fire, got %+v", fired)
	}

	remaining := m.UpcomingEvents(2 * time.Hour)
	if len(remaining) != 1 || remaining[0].EventType != "future" {
		t.Fatalf("expected the non-recurring due event to be dropped, got %+v", remaining)
	}
}

func TestSchedulerMonitor_RecurringEventReschedulesAnHourOut(t *testing.T) {
	m := NewSchedulerMonitor()
	var fired int
	m.RegisterCallback(func(e *coretypes.PerceptionEvent) { fired++ })

	m.Schedule(&ScheduledEvent{EventType: "recurring", TriggerTime: time.Now().Add(-time.Second), Recurring: true})
	before := time.Now()
	m.checkEvents()

	if fired != 1 {
		t.Fatalf("expected the recurring event to fire once, got %d", fired)
	}

	remaining := m.UpcomingEvents(2 * time.Hour)
	if len(remaining) != 1 {
		t.Fatalf("expected the recurring event to survive in the schedule, got %+v", remaining)
	}
	if remaining[0].TriggerTime.Before(before.Add(59 * time.Minute)) {
		t.Errorf("expected the recurring event to reschedule roughly an hour out, got %v", remaining[0].TriggerTime)
	}

	// It should not fire again immediately.
	m.checkEvents()
	if fired != 1 {
		t.Errorf("expected no second fire immediately after rescheduling, got %d total fires", fired)
	}
}

func TestSchedulerMonitor_UpcomingEventsFiltersByWindow(t *testing.T) {
	m := NewSchedulerMonitor()
	m.Schedule(&ScheduledEvent{EventType: "soon", TriggerTime: time.Now().Add(time.Minute)})
	m.Schedule(&ScheduledEvent{EventType: "later", TriggerTime: time.Now().Add(time.Hour)})

	within := m.UpcomingEvents(5 * time.Minute)
	if len(within) != 1 || within[0].EventType != "soon" {
		t.Errorf("expected only the soon event within a 5-minute window, got %+v", within)
	}
}
