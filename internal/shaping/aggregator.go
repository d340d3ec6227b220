// Package shaping collapses and rate-limits perception events before they
// reach the queue: an Aggregator that coalesces bursts of same-type events
// within a time window, and a DebounceThrottle manager that suppresses or
// caps per-type emission rate. Grounded directly on
// original_source/.../event_loop_system.py's EventAggregator and
// DebounceThrottleManager, translated from asyncio tasks to time.Timer.
package shaping

import (
	"sync"
	"time"

	"github.com/vthunder/pulseloop/internal/coretypes"
)

// Reducer collapses an ordered burst of same-type events into one.
type Reducer func(events []*coretypes.PerceptionEvent) *coretypes.PerceptionEvent

// AggregationRule configures collapsing for one perception kind.
type AggregationRule struct {
	Kind    coretypes.PerceptionKind
	Window  time.Duration
	MaxSize int
	Reduce  Reducer
}

// LatestWithTrail is the default reducer: keeps the latest event, attaches
// the full ordered position/value trail plus a count. It mirrors
// aggregate_mouse_moves in event_loop_system.py.
func LatestWithTrail(events []*coretypes.PerceptionEvent) *coretypes.PerceptionEvent {
	if len(events) == 0 {
		return nil
	}
	latest := events[0]
	for _, e := range events[1:] {
		if e.Timestamp.After(latest.Timestamp) {
			latest = e
		}
	}
	trail := make([]map[string]any, 0, len(events))
	for _, e := range events {
		trail = append(trail, e.Data)
	}
	out := *latest
	data := make(map[string]any, len(latest.Data)+2)
	for k, v := range latest.Data {
		data[k] = v
	}
	data["aggregated"] = true
	data["event_count"] = len(events)
	data["trail"] = trail
	out.Data = data
	return &out
}

// Aggregator collapses bursts of same-type events. Emit is invoked from
// the timer goroutine when a window closes on a pending burst; a burst
// that reaches its threshold is returned by Add instead.
type Aggregator struct {
	mu      sync.Mutex
	rules   map[coretypes.PerceptionKind]AggregationRule
	pending map[coretypes.PerceptionKind][]*coretypes.PerceptionEvent
	timers  map[coretypes.PerceptionKind]*time.Timer
	Emit    func(*coretypes.PerceptionEvent)
}

// NewAggregator creates an aggregator. Emit must be set before use.
func NewAggregator() *Aggregator {
	return &Aggregator{
		rules:   make(map[coretypes.PerceptionKind]AggregationRule),
		pending: make(map[coretypes.PerceptionKind][]*coretypes.PerceptionEvent),
		timers:  make(map[coretypes.PerceptionKind]*time.Timer),
	}
}

// Register adds or replaces the aggregation rule for a perception kind.
func (a *Aggregator) Register(rule AggregationRule) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rules[rule.Kind] = rule
}

// Add feeds an event through aggregation. Returns (event, true) if it
// should pass through immediately (no rule, or the max-size threshold just
// resolved the burst inline); returns (nil, false) if the event was
// absorbed into a pending burst whose resolution will arrive via Emit.
func (a *Aggregator) Add(event *coretypes.PerceptionEvent) (*coretypes.PerceptionEvent, bool) {
	a.mu.Lock()

	rule, ok := a.rules[event.Kind]
	if !ok {
		a.mu.Unlock()
		return event, true
	}

	a.pending[event.Kind] = append(a.pending[event.Kind], event)

	if len(a.pending[event.Kind]) >= rule.MaxSize {
		events := a.pending[event.Kind]
		a.pending[event.Kind] = nil
		if t, running := a.timers[event.Kind]; running {
			t.Stop()
			delete(a.timers, event.Kind)
		}
		a.mu.Unlock()
		return rule.Reduce(events), true
	}

	if _, running := a.timers[event.Kind]; !running {
		kind := event.Kind
		a.timers[kind] = time.AfterFunc(rule.Window, func() { a.fire(kind) })
	}

	a.mu.Unlock()
	return nil, false
}

func (a *Aggregator) fire(kind coretypes.PerceptionKind) {
	a.mu.Lock()
	delete(a.timers, kind)
	events := a.pending[kind]
	a.pending[kind] = nil
	rule := a.rules[kind]
	a.mu.Unlock()

	if len(events) == 0 {
		return
	}
	if a.Emit != nil {
		a.Emit(rule.Reduce(events))
	}
}
