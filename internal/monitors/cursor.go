package monitors

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/vthunder/pulseloop/internal/coretypes"
	"github.com/vthunder/pulseloop/internal/ring"
)

const (
	cursorUpdateInterval  = 16 * time.Millisecond
	cursorMovementThresh  = 5.0 // pixels
	cursorIdleGap         = 300 * time.Millisecond
	cursorHistorySize     = 1000
)

// PositionSource returns the current global cursor position. Production
// wiring supplies an OS-specific implementation; tests supply a fake.
type PositionSource func() (x, y float64, err error)

type cursorSample struct {
	x, y         float64
	velocityX    float64
	velocityY    float64
	timestamp    time.Time
}

func (s cursorSample) velocity() float64 {
	return math.Hypot(s.velocityX, s.velocityY)
}

// CursorMonitor tracks global cursor position at a 16ms cadence and
// derives velocity and idle/moving state. Grounded on
// real_time_monitor.py's MouseMonitor.
type CursorMonitor struct {
	callbackSet

	Source PositionSource

	mu               sync.Mutex
	history          *ring.Buffer[cursorSample]
	current          *cursorSample
	lastMovementTime time.Time
	isMoving         bool

	stopCh chan struct{}
}

// NewCursorMonitor creates a cursor monitor. If source is nil, the
// monitor holds position at (0,0) and never reports movement — callers
// wire a real source before Initialize.
func NewCursorMonitor(source PositionSource) *CursorMonitor {
	if source == nil {
		source = func() (float64, float64, error) { return 0, 0, nil }
	}
	return &CursorMonitor{
		Source:  source,
		history: ring.New[cursorSample](cursorHistorySize),
	}
}

// RegisterCallback registers a position-update callback.
func (m *CursorMonitor) RegisterCallback(cb Callback) { m.register(cb) }

// Initialize starts the poll loop.
func (m *CursorMonitor) Initialize() {
	m.stopCh = make(chan struct{})
	m.lastMovementTime = time.Now()
	go m.loop()
}

// Shutdown stops the poll loop.
func (m *CursorMonitor) Shutdown() {
	if m.stopCh != nil {
		close(m.stopCh)
	}
}

func (m *CursorMonitor) loop() {
	var lastX, lastY float64
	ticker := time.NewTicker(cursorUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			x, y, err := m.Source()
			if err != nil {
				continue
			}

			dt := cursorUpdateInterval.Seconds()
			vx, vy := (x-lastX)/dt, (y-lastY)/dt

			movement := math.Abs(x-lastX) + math.Abs(y-lastY)
			now := time.Now()

			m.mu.Lock()
			if movement > cursorMovementThresh {
				m.isMoving = true
				m.lastMovementTime = now
			} else if now.Sub(m.lastMovementTime) > cursorIdleGap {
				m.isMoving = false
			}

			sample := cursorSample{x: x, y: y, velocityX: vx, velocityY: vy, timestamp: now}
			m.current = &sample
			m.history.Push(sample)
			m.mu.Unlock()

			lastX, lastY = x, y

			m.fire(coretypes.NewPerceptionEvent(coretypes.PerceptionCursor, "cursor_monitor", map[string]any{
				"x": x, "y": y,
				"velocity_x": vx, "velocity_y": vy,
				"velocity": sample.velocity(),
				"is_moving": m.isMoving,
			}, 5))
		}
	}
}

// VelocityStatistics returns average/max/current velocity magnitude over
// the retained history, matching get_velocity_statistics.
func (m *CursorMonitor) VelocityStatistics() (avg, max, current float64) {
	m.mu.Lock()
	samples := m.history.Items()
	cur := m.current
	m.mu.Unlock()

	if len(samples) == 0 {
		return 0, 0, 0
	}

	velocities := make([]float64, len(samples))
	for i, s := range samples {
		velocities[i] = s.velocity()
	}
	avg = stat.Mean(velocities, nil)
	max = velocities[0]
	for _, v := range velocities {
		if v > max {
			max = v
		}
	}
	if cur != nil {
		current = cur.velocity()
	}
	return avg, max, current
}

// IsUserActive reports whether the cursor moved within threshold.
func (m *CursorMonitor) IsUserActive(threshold time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.lastMovementTime) < threshold
}
