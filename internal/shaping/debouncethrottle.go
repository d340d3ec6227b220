package shaping

import (
	"sync"
	"time"

	"github.com/vthunder/pulseloop/internal/coretypes"
)

// DebounceConfig suppresses emissions for a type until a quiescent gap
// elapses.
type DebounceConfig struct {
	Kind     coretypes.PerceptionKind
	Delay    time.Duration
	Leading  bool
	Trailing bool
}

// ThrottleConfig caps emission rate for a type by enforcing a minimum
// inter-emission interval.
type ThrottleConfig struct {
	Kind     coretypes.PerceptionKind
	Interval time.Duration
	Leading  bool
	Trailing bool
}

// DebounceThrottle applies, per perception kind, an optional throttle
// (consulted first) and/or an optional debounce. Emit fires for events
// released asynchronously by a trailing timer.
type DebounceThrottle struct {
	mu sync.Mutex

	debounceCfg map[coretypes.PerceptionKind]DebounceConfig
	throttleCfg map[coretypes.PerceptionKind]ThrottleConfig

	debounceTimers  map[coretypes.PerceptionKind]*time.Timer
	debouncePending map[coretypes.PerceptionKind]*coretypes.PerceptionEvent

	throttleLastEmit map[coretypes.PerceptionKind]time.Time
	throttlePending  map[coretypes.PerceptionKind]*coretypes.PerceptionEvent
	throttleTimers   map[coretypes.PerceptionKind]*time.Timer

	Emit func(*coretypes.PerceptionEvent)
}

// NewDebounceThrottle creates a manager. Emit must be set before use.
func NewDebounceThrottle() *DebounceThrottle {
	return &DebounceThrottle{
		debounceCfg:      make(map[coretypes.PerceptionKind]DebounceConfig),
		throttleCfg:      make(map[coretypes.PerceptionKind]ThrottleConfig),
		debounceTimers:   make(map[coretypes.PerceptionKind]*time.Timer),
		debouncePending:  make(map[coretypes.PerceptionKind]*coretypes.PerceptionEvent),
		throttleLastEmit: make(map[coretypes.PerceptionKind]time.Time),
		throttlePending:  make(map[coretypes.PerceptionKind]*coretypes.PerceptionEvent),
		throttleTimers:   make(map[coretypes.PerceptionKind]*time.Timer),
	}
}

// RegisterDebounce installs a debounce rule for a perception kind.
func (d *DebounceThrottle) RegisterDebounce(cfg DebounceConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.debounceCfg[cfg.Kind] = cfg
}

// RegisterThrottle installs a throttle rule for a perception kind.
func (d *DebounceThrottle) RegisterThrottle(cfg ThrottleConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.throttleCfg[cfg.Kind] = cfg
}

// Process runs an event through throttle (if configured) then debounce
// (if configured). Returns (event, true) to pass through immediately, or
// (nil, false) if deferred to a timer that will call Emit later. Throttle
// is consulted before debounce, per SPEC_FULL.md §4.4.
func (d *DebounceThrottle) Process(event *coretypes.PerceptionEvent) (*coretypes.PerceptionEvent, bool) {
	d.mu.Lock()
	_, hasThrottle := d.throttleCfg[event.Kind]
	_, hasDebounce := d.debounceCfg[event.Kind]
	d.mu.Unlock()

	if hasThrottle {
		out, ok := d.applyThrottle(event)
		if !ok {
			return nil, false
		}
		event = out
	}
	if hasDebounce {
		return d.applyDebounce(event)
	}
	return event, true
}

func (d *DebounceThrottle) applyDebounce(event *coretypes.PerceptionEvent) (*coretypes.PerceptionEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cfg := d.debounceCfg[event.Kind]

	_, wasRunning := d.debounceTimers[event.Kind]
	if wasRunning {
		d.debounceTimers[event.Kind].Stop()
	}
	d.debouncePending[event.Kind] = event

	leadingFire := cfg.Leading && !wasRunning

	kind := event.Kind
	d.debounceTimers[kind] = time.AfterFunc(cfg.Delay, func() { d.debounceFire(kind) })

	if leadingFire {
		return event, true
	}
	return nil, false
}

func (d *DebounceThrottle) debounceFire(kind coretypes.PerceptionKind) {
	d.mu.Lock()
	delete(d.debounceTimers, kind)
	cfg := d.debounceCfg[kind]
	pending := d.debouncePending[kind]
	delete(d.debouncePending, kind)
	d.mu.Unlock()

	if pending == nil || !cfg.Trailing {
		return
	}
	if d.Emit != nil {
		d.Emit(pending)
	}
}

func (d *DebounceThrottle) applyThrottle(event *coretypes.PerceptionEvent) (*coretypes.PerceptionEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cfg := d.throttleCfg[event.Kind]
	now := time.Now()
	last := d.throttleLastEmit[event.Kind]

	if last.IsZero() || now.Sub(last) >= cfg.Interval {
		d.throttleLastEmit[event.Kind] = now
		return event, true
	}

	if !cfg.Trailing {
		return nil, false
	}

	d.throttlePending[event.Kind] = event
	if _, running := d.throttleTimers[event.Kind]; !running {
		delay := cfg.Interval - now.Sub(last)
		kind := event.Kind
		d.throttleTimers[kind] = time.AfterFunc(delay, func() { d.throttleFire(kind) })
	}
	return nil, false
}

func (d *DebounceThrottle) throttleFire(kind coretypes.PerceptionKind) {
	d.mu.Lock()
	delete(d.throttleTimers, kind)
	pending := d.throttlePending[kind]
	delete(d.throttlePending, kind)
	if pending != nil {
		d.throttleLastEmit[kind] = time.Now()
	}
	d.mu.Unlock()

	if pending != nil && d.Emit != nil {
		d.Emit(pending)
	}
}
