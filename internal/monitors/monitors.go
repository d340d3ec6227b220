// Package monitors implements the real-time perception sources: cursor,
// filesystem, scheduled-time, system-state, and user-activity. Each
// monitor runs its own poll loop (the cursor, system-state and
// user-activity monitors also keep a short ring of recent samples) and
// calls back into the event-loop core with a coretypes.PerceptionEvent
// on every observation worth reporting. Grounded on
// original_source/.../real_time_monitor.py's five monitor classes.
package monitors

import (
	"sync"
	"time"

	"github.com/vthunder/pulseloop/internal/coretypes"
)

// Callback receives a perception event produced by a monitor.
type Callback func(*coretypes.PerceptionEvent)

// callbackSet is the common register/fire mechanism shared by every
// monitor in this package.
type callbackSet struct {
	mu        sync.Mutex
	callbacks []Callback
}

func (c *callbackSet) register(cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

func (c *callbackSet) fire(event *coretypes.PerceptionEvent) {
	c.mu.Lock()
	cbs := make([]Callback, len(c.callbacks))
	copy(cbs, c.callbacks)
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(event)
	}
}

// runLoop is the common "tick, check running, sleep remainder" shape used
// by each monitor's poll goroutine.
func runLoop(stopCh <-chan struct{}, interval time.Duration, tick func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			tick()
		}
	}
}
