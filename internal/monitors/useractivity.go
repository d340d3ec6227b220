package monitors

import (
	"sync"
	"time"

	"github.com/vthunder/pulseloop/internal/coretypes"
	"github.com/vthunder/pulseloop/internal/ring"
)

// ActivityState classifies the user's current engagement level, per
// real_time_monitor.py's ActivityState enum.
type ActivityState string

const (
	ActivityIdle    ActivityState = "idle"
	ActivityActive  ActivityState = "active"
	ActivityWorking ActivityState = "working"
	ActivityGaming  ActivityState = "gaming"
	ActivityReading ActivityState = "reading"
	ActivityTyping  ActivityState = "typing"
)

// UserActivityMonitor classifies activity state from an input-event rate
// and fires only when the classified state changes, per
// real_time_monitor.py's UserActivityMonitor._monitor_loop.
type UserActivityMonitor struct {
	callbackSet

	AnalysisInterval time.Duration

	mu            sync.Mutex
	inputEvents   *ring.Buffer[time.Time]
	lastInputTime time.Time
	sessionStart  time.Time
	currentState  ActivityState

	stopCh chan struct{}
}

// NewUserActivityMonitor creates a monitor analyzing every 10 seconds.
func NewUserActivityMonitor() *UserActivityMonitor {
	now := time.Now()
	return &UserActivityMonitor{
		AnalysisInterval: 10 * time.Second,
		inputEvents:      ring.New[time.Time](1000),
		lastInputTime:    now,
		sessionStart:     now,
	}
}

// RegisterCallback registers a state-change callback.
func (m *UserActivityMonitor) RegisterCallback(cb Callback) { m.register(cb) }

// RecordInput records one input event (keystroke, click, etc.) for the
// activity-rate calculation. corectx feeds this from incoming Discord
// messages; the monitor itself has no OS input hook.
func (m *UserActivityMonitor) RecordInput() {
	now := time.Now()
	m.mu.Lock()
	m.inputEvents.Push(now)
	m.lastInputTime = now
	m.mu.Unlock()
}

// Initialize starts the analysis loop.
func (m *UserActivityMonitor) Initialize() {
	m.stopCh = make(chan struct{})
	go runLoop(m.stopCh, m.AnalysisInterval, m.analyze)
}

// Shutdown stops the analysis loop.
func (m *UserActivityMonitor) Shutdown() {
	if m.stopCh != nil {
		close(m.stopCh)
	}
}

func (m *UserActivityMonitor) analyze() {
	now := time.Now()

	m.mu.Lock()
	idle := now.Sub(m.lastInputTime)
	events := m.inputEvents.Items()
	m.mu.Unlock()

	eventsPerMinute := 0
	for _, t := range events {
		if now.Sub(t) < time.Minute {
			eventsPerMinute++
		}
	}

	state := classifyActivity(idle, eventsPerMinute)

	m.mu.Lock()
	changed := state != m.currentState
	if changed {
		m.currentState = state
	}
	sessionDuration := now.Sub(m.sessionStart)
	m.mu.Unlock()

	if !changed {
		return
	}

	focusScore := focusScoreFor(eventsPerMinute, idle)

	m.fire(coretypes.NewPerceptionEvent(coretypes.PerceptionUserActivity, "user_activity_monitor", map[string]any{
		"activity_state":          string(state),
		"idle_time_seconds":       idle.Seconds(),
		"input_events_per_minute": eventsPerMinute,
		"session_duration_seconds": sessionDuration.Seconds(),
		"focus_score":             focusScore,
	}, 5))
}

func classifyActivity(idle time.Duration, eventsPerMinute int) ActivityState {
	switch {
	case idle > 5*time.Minute:
		return ActivityIdle
	case eventsPerMinute > 100:
		return ActivityGaming
	case eventsPerMinute > 50:
		return ActivityTyping
	case eventsPerMinute > 10:
		return ActivityWorking
	case idle > 30*time.Second:
		return ActivityReading
	default:
		return ActivityActive
	}
}

func focusScoreFor(eventsPerMinute int, idle time.Duration) float64 {
	score := float64(eventsPerMinute) / 100.0
	if score > 1.0 {
		score = 1.0
	}
	if idle > time.Minute {
		score *= 0.5
	}
	return score
}

// CurrentState returns the last classified activity state.
func (m *UserActivityMonitor) CurrentState() ActivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentState
}
