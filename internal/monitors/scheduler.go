package monitors

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vthunder/pulseloop/internal/coretypes"
)

// ScheduledEvent is a trigger the scheduler monitor fires once its
// TriggerTime passes. Recurring events reschedule a flat hour later,
// matching real_time_monitor.py's TimeMonitor ("simplified" recurrence).
type ScheduledEvent struct {
	ID          string
	EventType   string
	TriggerTime time.Time
	Description string
	Recurring   bool
}

// SchedulerMonitor checks scheduled triggers once per check interval.
// Grounded on real_time_monitor.py's TimeMonitor.
type SchedulerMonitor struct {
	callbackSet

	CheckInterval time.Duration

	mu     sync.Mutex
	events []*ScheduledEvent

	stopCh chan struct{}
}

// NewSchedulerMonitor creates a scheduler monitor checking once a second.
func NewSchedulerMonitor() *SchedulerMonitor {
	return &SchedulerMonitor{CheckInterval: time.Second}
}

// RegisterCallback registers a trigger-fired callback.
func (m *SchedulerMonitor) RegisterCallback(cb Callback) { m.register(cb) }

// Schedule adds a new trigger, keeping the list sorted by trigger time.
func (m *SchedulerMonitor) Schedule(event *ScheduledEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	sort.Slice(m.events, func(i, j int) bool {
		return m.events[i].TriggerTime.Before(m.events[j].TriggerTime)
	})
}

// Initialize starts the check loop.
func (m *SchedulerMonitor) Initialize() {
	m.stopCh = make(chan struct{})
	go runLoop(m.stopCh, m.CheckInterval, m.checkEvents)
}

// Shutdown stops the check loop.
func (m *SchedulerMonitor) Shutdown() {
	if m.stopCh != nil {
		close(m.stopCh)
	}
}

func (m *SchedulerMonitor) checkEvents() {
	now := time.Now()

	m.mu.Lock()
	var due []*ScheduledEvent
	var remaining []*ScheduledEvent
	for _, e := range m.events {
		if !e.TriggerTime.After(now) {
			due = append(due, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	for _, e := range due {
		if e.Recurring {
			e.TriggerTime = now.Add(time.Hour)
			remaining = append(remaining, e)
		}
	}
	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].TriggerTime.Before(remaining[j].TriggerTime)
	})
	m.events = remaining
	m.mu.Unlock()

	for _, e := range due {
		m.fire(coretypes.NewPerceptionEvent(coretypes.PerceptionScheduledTime, "scheduler_monitor", map[string]any{
			"event_id":    e.ID,
			"event_type":  e.EventType,
			"description": e.Description,
			"recurring":   e.Recurring,
		}, 4))
	}
}

// UpcomingEvents returns events due within the given window.
func (m *SchedulerMonitor) UpcomingEvents(within time.Duration) []*ScheduledEvent {
	cutoff := time.Now().Add(within)
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ScheduledEvent
	for _, e := range m.events {
		if !e.TriggerTime.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}
