// Package collector aggregates search outcomes and consistency checks and
// computes metrics from them.
package collector

import (
	"sync"
	"sync/atomic"
	"time"

	"searchflight/internal/core"
)

const bufferSize = 4096

// Check is the result of comparing the state a session settled on with a
// direct lookup of its final query.
type Check struct {
	Session int
	Query   string
	Want    int // users returned by the direct lookup
	Got     int // users the session displayed
	Passed  bool
	Detail  string
}

// Collector aggregates events from sessions and produces a summary.
type Collector struct {
	events    []core.Event
	checks    []Check
	ch        chan core.Event
	done      chan struct{}
	dropped   atomic.Int64
	mu        sync.Mutex
	clock     core.Clock
	startTime time.Time
	endTime   time.Time
}

// NewCollector creates a new Collector and starts its collection goroutine.
func NewCollector(clock core.Clock) *Collector {
	if clock == nil {
		clock = core.RealClock{}
	}
	c := &Collector{
		ch:        make(chan core.Event, bufferSize),
		done:      make(chan struct{}),
		clock:     clock,
		startTime: clock.Now(),
	}
	go c.collect()
	return c
}

func (c *Collector) collect() {
	for event := range c.ch {
		c.mu.Lock()
		c.events = append(c.events, event)
		c.mu.Unlock()
	}
	close(c.done)
}

// Report queues an event. It never blocks; events that do not fit in the
// buffer are counted as dropped.
func (c *Collector) Report(event core.Event) {
	select {
	case c.ch <- event:
	default:
		c.dropped.Add(1)
	}
}

// RecordCheck stores a consistency check result.
func (c *Collector) RecordCheck(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check)
}

// Close stops accepting events and waits for queued ones to be stored.
// No Report may happen after Close.
func (c *Collector) Close() {
	c.mu.Lock()
	c.endTime = c.clock.Now()
	c.mu.Unlock()
	close(c.ch)
	<-c.done
}

// Events returns a copy of collected events.
func (c *Collector) Events() []core.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Event(nil), c.events...)
}

// Checks returns a copy of recorded consistency checks.
func (c *Collector) Checks() []Check {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Check(nil), c.checks...)
}

// Dropped returns the number of events lost to a full buffer.
func (c *Collector) Dropped() int {
	return int(c.dropped.Load())
}

// Duration returns the run duration: start to Close, or start to now while
// still collecting.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	end := c.endTime
	c.mu.Unlock()
	if !end.IsZero() {
		return end.Sub(c.startTime)
	}
	return c.clock.Since(c.startTime)
}

// Compute summarises everything collected so far.
func (c *Collector) Compute() *Metrics {
	m := ComputeMetrics(c.Events(), c.Checks(), c.Duration())
	m.Dropped = c.Dropped()
	return m
}
