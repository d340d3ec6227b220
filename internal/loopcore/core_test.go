package loopcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vthunder/pulseloop/internal/coretypes"
	"github.com/vthunder/pulseloop/internal/shaping"
)

func TestCore_AddEventFilteredByMinPriority(t *testing.T) {
	c := New(0, time.Millisecond)
	c.AddFilter(Filter{MinPriority: 5})

	low := coretypes.NewPerceptionEvent(coretypes.PerceptionCursor, "test", nil, 8)
	if c.AddEvent(low) {
		t.Error("expected an event with priority worse than MinPriority to be filtered")
	}
	if got := c.Metrics().EventsFiltered; got != 1 {
		t.Errorf("EventsFiltered = %d, want 1", got)
	}

	high := coretypes.NewPerceptionEvent(coretypes.PerceptionCursor, "test", nil, 2)
	if !c.AddEvent(high) {
		t.Error("expected an event with priority at or better than MinPriority to pass")
	}
}

func TestCore_FilterScopedToKind(t *testing.T) {
	c := New(0, time.Millisecond)
	c.AddFilter(Filter{Kinds: map[coretypes.PerceptionKind]bool{coretypes.PerceptionFilesystem: true}, MinPriority: 5})

	// Cursor events are outside the filter's Kinds scope, so MinPriority
	// never applies to them.
	cursorLow := coretypes.NewPerceptionEvent(coretypes.PerceptionCursor, "test", nil, 9)
	if !c.AddEvent(cursorLow) {
		t.Error("expected an out-of-scope kind to bypass the filter entirely")
	}

	fsLow := coretypes.NewPerceptionEvent(coretypes.PerceptionFilesystem, "test", nil, 9)
	if c.AddEvent(fsLow) {
		t.Error("expected an in-scope kind to be subject to MinPriority")
	}
}

func TestCore_FilterBySource(t *testing.T) {
	c := New(0, time.Millisecond)
	c.AddFilter(Filter{Sources: map[string]bool{"trusted": true}})

	untrusted := coretypes.NewPerceptionEvent(coretypes.PerceptionCursor, "untrusted", nil, 5)
	if c.AddEvent(untrusted) {
		t.Error("expected an event from an unlisted source to be filtered")
	}
	trusted := coretypes.NewPerceptionEvent(coretypes.PerceptionCursor, "trusted", nil, 5)
	if !c.AddEvent(trusted) {
		t.Error("expected an event from a listed source to pass")
	}
}

func TestCore_FilterByMaxAge(t *testing.T) {
	c := New(0, time.Millisecond)
	c.AddFilter(Filter{MaxAge: 10 * time.Millisecond})

	stale := coretypes.NewPerceptionEvent(coretypes.PerceptionCursor, "test", nil, 5)
	stale.Timestamp = time.Now().Add(-time.Hour)
	if c.AddEvent(stale) {
		t.Error("expected a stale event to be filtered")
	}

	fresh := coretypes.NewPerceptionEvent(coretypes.PerceptionCursor, "test", nil, 5)
	if !c.AddEvent(fresh) {
		t.Error("expected a fresh event to pass")
	}
}

func TestCore_DispatchPrefersKindHandlerOverDefault(t *testing.T) {
	c := New(0, time.Millisecond)

	var mu sync.Mutex
	var kindHandlerCalls, defaultHandlerCalls int

	c.RegisterHandler(coretypes.PerceptionCursor, func(e *coretypes.PerceptionEvent) {
		mu.Lock()
		kindHandlerCalls++
		mu.Unlock()
	})
	c.RegisterDefaultHandler(func(e *coretypes.PerceptionEvent) {
		mu.Lock()
		defaultHandlerCalls++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()

	c.AddEvent(coretypes.NewPerceptionEvent(coretypes.PerceptionCursor, "test", nil, 5))
	c.AddEvent(coretypes.NewPerceptionEvent(coretypes.PerceptionFilesystem, "test", nil, 5))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		k, d := kindHandlerCalls, defaultHandlerCalls
		mu.Unlock()
		if k == 1 && d == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if kindHandlerCalls != 1 {
		t.Errorf("kindHandlerCalls = %d, want 1", kindHandlerCalls)
	}
	if defaultHandlerCalls != 1 {
		t.Errorf("defaultHandlerCalls = %d, want 1", defaultHandlerCalls)
	}
}

func TestCore_DispatchRecoversHandlerPanic(t *testing.T) {
	c := New(0, time.Millisecond)
	c.RegisterDefaultHandler(func(e *coretypes.PerceptionEvent) { panic("boom") })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()

	c.AddEvent(coretypes.NewPerceptionEvent(coretypes.PerceptionCursor, "test", nil, 5))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Metrics().ProcessingErrors > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if c.Metrics().ProcessingErrors != 1 {
		t.Errorf("ProcessingErrors = %d, want 1 (a panicking handler must not crash the tick loop)", c.Metrics().ProcessingErrors)
	}
}

func TestCore_AddEventRespectsAggregationAndDebounce(t *testing.T) {
	c := New(0, time.Millisecond)
	c.Aggregator.Register(shaping.AggregationRule{
		Kind:    coretypes.PerceptionCursor,
		Window:  time.Hour,
		MaxSize: 10,
		Reduce:  shaping.LatestWithTrail,
	})

	absorbed := coretypes.NewPerceptionEvent(coretypes.PerceptionCursor, "test", nil, 5)
	if !c.AddEvent(absorbed) {
		t.Error("expected an absorbed aggregation burst to still count as accepted")
	}
	if got := c.Metrics().EventsAggregated; got != 1 {
		t.Errorf("EventsAggregated = %d, want 1", got)
	}
}
