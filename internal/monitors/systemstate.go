package monitors

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/vthunder/pulseloop/internal/coretypes"
	"github.com/vthunder/pulseloop/internal/logging"
	"github.com/vthunder/pulseloop/internal/ring"
)

// SystemState is a single resource-usage sample.
type SystemState struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	BytesSent     uint64
	BytesRecv     uint64
	UptimeSeconds float64
	ProcessCount  int
	LoadAverage   [3]float64 // zero on platforms without a load average
	Timestamp     time.Time
}

// SystemStateMonitor polls CPU/memory/disk/network/process counts via
// gopsutil. Grounded on real_time_monitor.py's SystemStateMonitor and
// internal/budget/cpuwatcher.go's polling shape.
type SystemStateMonitor struct {
	callbackSet

	UpdateInterval time.Duration

	mu        sync.Mutex
	current   *SystemState
	history   *ring.Buffer[SystemState]
	startTime time.Time

	stopCh chan struct{}
}

// NewSystemStateMonitor creates a monitor polling every 5 seconds.
func NewSystemStateMonitor() *SystemStateMonitor {
	return &SystemStateMonitor{
		UpdateInterval: 5 * time.Second,
		history:        ring.New[SystemState](100),
		startTime:      time.Now(),
	}
}

// RegisterCallback registers a state-update callback.
func (m *SystemStateMonitor) RegisterCallback(cb Callback) { m.register(cb) }

// Initialize starts the poll loop.
func (m *SystemStateMonitor) Initialize() {
	m.stopCh = make(chan struct{})
	go runLoop(m.stopCh, m.UpdateInterval, m.collect)
}

// Shutdown stops the poll loop.
func (m *SystemStateMonitor) Shutdown() {
	if m.stopCh != nil {
		close(m.stopCh)
	}
}

func (m *SystemStateMonitor) collect() {
	state := SystemState{Timestamp: time.Now(), UptimeSeconds: time.Since(m.startTime).Seconds()}

	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		state.CPUPercent = pct[0]
	} else if err != nil {
		logging.Debug("system_state_monitor", "cpu read failed: %v", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		state.MemoryPercent = vm.UsedPercent
	} else {
		logging.Debug("system_state_monitor", "memory read failed: %v", err)
	}

	if du, err := disk.Usage("/"); err == nil {
		state.DiskPercent = du.UsedPercent
	} else {
		logging.Debug("system_state_monitor", "disk read failed: %v", err)
	}

	if io, err := net.IOCounters(false); err == nil && len(io) > 0 {
		state.BytesSent = io[0].BytesSent
		state.BytesRecv = io[0].BytesRecv
	}

	// Load average is unavailable on Windows; gopsutil returns an error
	// there and state.LoadAverage stays zero, matching the original's
	// AttributeError/OSError fallback.
	if avg, err := load.Avg(); err == nil {
		state.LoadAverage = [3]float64{avg.Load1, avg.Load5, avg.Load15}
	}

	if pids, err := process.Pids(); err == nil {
		state.ProcessCount = len(pids)
	}

	m.mu.Lock()
	m.current = &state
	m.history.Push(state)
	m.mu.Unlock()

	m.fire(coretypes.NewPerceptionEvent(coretypes.PerceptionSystemState, "system_state_monitor", map[string]any{
		"cpu_percent":    state.CPUPercent,
		"memory_percent": state.MemoryPercent,
		"disk_percent":   state.DiskPercent,
		"bytes_sent":     state.BytesSent,
		"bytes_recv":     state.BytesRecv,
		"uptime_seconds": state.UptimeSeconds,
		"process_count":  state.ProcessCount,
		"load_average":   state.LoadAverage,
	}, 8))
}

// CurrentState returns the last collected sample, if any.
func (m *SystemStateMonitor) CurrentState() *SystemState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns a snapshot of retained samples.
func (m *SystemStateMonitor) History() []SystemState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.Items()
}
