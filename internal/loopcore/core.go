// Package loopcore is the event-loop core: it owns the priority queue, the
// aggregator, the debounce/throttle manager, and the single cooperative
// tick task that dequeues, dispatches to handlers, and enforces the
// latency floor. Grounded on
// original_source/.../event_loop_system.py's EventLoopSystem.
package loopcore

import (
	"context"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/vthunder/pulseloop/internal/coretypes"
	"github.com/vthunder/pulseloop/internal/logging"
	"github.com/vthunder/pulseloop/internal/queue"
	"github.com/vthunder/pulseloop/internal/ring"
	"github.com/vthunder/pulseloop/internal/shaping"
)

// Handler processes one dequeued perception event. It may be called from
// the single tick goroutine; it must not block on external I/O without an
// explicit, bounded suspension.
type Handler func(*coretypes.PerceptionEvent)

// Filter is an optional pre-enqueue predicate. An event is dropped if any
// applicable filter rejects it.
type Filter struct {
	Kinds       map[coretypes.PerceptionKind]bool // nil = applies to all kinds
	MinPriority int                                // 0 = no minimum
	Sources     map[string]bool                    // nil = applies to all sources
	MaxAge      time.Duration                       // 0 = no staleness check
}

func (f Filter) appliesTo(e *coretypes.PerceptionEvent) bool {
	if f.Kinds != nil && !f.Kinds[e.Kind] {
		return false
	}
	return true
}

func (f Filter) passes(e *coretypes.PerceptionEvent) bool {
	if f.MinPriority > 0 && e.Priority > f.MinPriority {
		return false
	}
	if f.Sources != nil && !f.Sources[e.Source] {
		return false
	}
	if f.MaxAge > 0 && time.Since(e.Timestamp) > f.MaxAge {
		return false
	}
	return true
}

// Metrics is a point-in-time snapshot of the core's counters.
type Metrics struct {
	EventsProcessed   int64
	EventsFiltered    int64
	EventsAggregated  int64
	EventsDebounced   int64
	EventsThrottled   int64
	ProcessingErrors  int64
	AverageLatencyMS  float64
	MaxLatencyMS      float64
}

// Core is the single-consumer event loop: producers call AddEvent, one
// goroutine runs Run and drains the queue.
type Core struct {
	Queue            *queue.Queue
	Aggregator       *shaping.Aggregator
	DebounceThrottle *shaping.DebounceThrottle

	LatencyTarget time.Duration

	mu             sync.RWMutex
	handlers       map[string]Handler
	defaultHandler Handler
	filters        []Filter

	metricsMu     sync.Mutex
	metrics       Metrics
	latencySamples *ring.Buffer[float64]

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a core wired to its own queue, aggregator, and
// debounce/throttle manager. maxQueueSize 0 uses the 10000 default;
// latencyTarget 0 uses 16ms.
func New(maxQueueSize int, latencyTarget time.Duration) *Core {
	if latencyTarget <= 0 {
		latencyTarget = 16 * time.Millisecond
	}

	c := &Core{
		Queue:            queue.New(maxQueueSize),
		Aggregator:       shaping.NewAggregator(),
		DebounceThrottle: shaping.NewDebounceThrottle(),
		LatencyTarget:    latencyTarget,
		handlers:         make(map[string]Handler),
		latencySamples:   ring.New[float64](1000),
	}

	c.Aggregator.Emit = func(e *coretypes.PerceptionEvent) { c.enqueueShaped(e) }
	c.DebounceThrottle.Emit = func(e *coretypes.PerceptionEvent) { c.Queue.Enqueue(e) }

	return c
}

// RegisterHandler installs the handler for a perception kind (by its
// string tag, per SPEC_FULL.md §4.5's "lookup by event type (string)").
func (c *Core) RegisterHandler(kind coretypes.PerceptionKind, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[string(kind)] = h
}

// RegisterDefaultHandler installs the fallback handler for kinds with no
// specific registration.
func (c *Core) RegisterDefaultHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultHandler = h
}

// AddFilter appends a pre-enqueue filter.
func (c *Core) AddFilter(f Filter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = append(c.filters, f)
}

// AddEvent runs an event through filters, aggregation, and
// debounce/throttle, in that order, before it reaches the queue. Returns
// false if the event was dropped by a filter or rejected by a full queue;
// true if it was enqueued, absorbed into a pending aggregation burst, or
// deferred by debounce/throttle (all of which are considered "accepted").
func (c *Core) AddEvent(event *coretypes.PerceptionEvent) bool {
	if !c.passesFilters(event) {
		c.metricsMu.Lock()
		c.metrics.EventsFiltered++
		c.metricsMu.Unlock()
		return false
	}

	aggregated, passedThrough := c.Aggregator.Add(event)
	if !passedThrough {
		c.metricsMu.Lock()
		c.metrics.EventsAggregated++
		c.metricsMu.Unlock()
		return true
	}

	return c.enqueueShaped(aggregated)
}

// enqueueShaped runs debounce/throttle then places the result on the
// queue; it is also the re-entry point for events released by an
// aggregation timer. Events released by a debounce/throttle timer go
// straight to the queue.
func (c *Core) enqueueShaped(event *coretypes.PerceptionEvent) bool {
	shaped, passedThrough := c.DebounceThrottle.Process(event)
	if !passedThrough {
		c.metricsMu.Lock()
		c.metrics.EventsDebounced++
		c.metricsMu.Unlock()
		return true
	}
	return c.Queue.Enqueue(shaped)
}

func (c *Core) passesFilters(e *coretypes.PerceptionEvent) bool {
	c.mu.RLock()
	filters := c.filters
	c.mu.RUnlock()

	for _, f := range filters {
		if !f.appliesTo(e) {
			continue
		}
		if !f.passes(e) {
			return false
		}
	}
	return true
}

// Run starts the tick task and the metrics folder; it blocks until ctx is
// cancelled or Shutdown is called.
func (c *Core) Run(ctx context.Context) {
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.tickLoop(ctx) }()
	go func() { defer wg.Done(); c.metricsLoop(ctx) }()

	go func() {
		wg.Wait()
		close(c.doneCh)
	}()

	select {
	case <-ctx.Done():
	case <-c.stopCh:
	}
	<-c.doneCh
}

// Shutdown stops the tick task and metrics folder.
func (c *Core) Shutdown() {
	if c.stopCh != nil {
		select {
		case <-c.stopCh:
		default:
			close(c.stopCh)
		}
	}
}

func (c *Core) tickLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		event := c.Queue.Dequeue()
		if event == nil {
			time.Sleep(time.Millisecond)
			continue
		}

		start := time.Now()
		c.dispatch(event)
		latency := time.Since(start)
		latencyMS := float64(latency) / float64(time.Millisecond)

		c.metricsMu.Lock()
		c.latencySamples.Push(latencyMS)
		c.metrics.EventsProcessed++
		c.metricsMu.Unlock()

		if latency < c.LatencyTarget {
			time.Sleep(c.LatencyTarget - latency)
		}
	}
}

func (c *Core) dispatch(event *coretypes.PerceptionEvent) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("loopcore", "handler panic for %s: %v", event.Kind, r)
			c.metricsMu.Lock()
			c.metrics.ProcessingErrors++
			c.metricsMu.Unlock()
		}
	}()

	c.mu.RLock()
	h, ok := c.handlers[string(event.Kind)]
	def := c.defaultHandler
	c.mu.RUnlock()

	if !ok {
		h = def
	}
	if h == nil {
		return
	}
	h(event)
}

// metricsLoop folds the latency ring into average/max once per second,
// matching the original's _metrics_collector cadence.
func (c *Core) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.foldLatency()
		}
	}
}

func (c *Core) foldLatency() {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()

	samples := c.latencySamples.Items()
	if len(samples) == 0 {
		return
	}
	c.metrics.AverageLatencyMS = stat.Mean(samples, nil)
	max := samples[0]
	for _, s := range samples {
		if s > max {
			max = s
		}
	}
	c.metrics.MaxLatencyMS = max
	c.latencySamples.Clear()
}

// Metrics returns a snapshot of the current counters.
func (c *Core) Metrics() Metrics {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	return c.metrics
}

// QueueStatus returns the queue's status breakdown.
func (c *Core) QueueStatus() map[string]int {
	return c.Queue.Status()
}
