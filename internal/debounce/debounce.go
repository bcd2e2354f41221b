// Package debounce delays a value until its input has been quiet for a
// fixed interval.
package debounce

import (
	"sync"
	"time"
)

// DefaultWait is the quiet period used for typed search input.
const DefaultWait = 400 * time.Millisecond

// Debouncer delivers only the last value triggered within a quiet period.
// fn runs on a timer goroutine, or on the caller's goroutine for Flush and
// for a zero wait.
type Debouncer[T any] struct {
	wait time.Duration
	fn   func(T)

	mu      sync.Mutex
	timer   *time.Timer
	pending T
	has     bool
	seq     uint64
	stopped bool
}

func New[T any](wait time.Duration, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{wait: wait, fn: fn}
}

// Trigger replaces the pending value and restarts the quiet period.
func (d *Debouncer[T]) Trigger(v T) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.wait <= 0 {
		d.resetLocked()
		d.mu.Unlock()
		d.fn(v)
		return
	}

	d.pending = v
	d.has = true
	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, func() { d.fire(seq) })
	d.mu.Unlock()
}

// fire delivers the pending value unless a later trigger, flush or stop
// superseded timer seq.
func (d *Debouncer[T]) fire(seq uint64) {
	d.mu.Lock()
	if d.stopped || !d.has || seq != d.seq {
		d.mu.Unlock()
		return
	}
	v := d.pending
	d.resetLocked()
	d.mu.Unlock()
	d.fn(v)
}

// Flush delivers the pending value now. It reports whether there was one.
func (d *Debouncer[T]) Flush() bool {
	d.mu.Lock()
	if d.stopped || !d.has {
		d.mu.Unlock()
		return false
	}
	v := d.pending
	d.resetLocked()
	d.mu.Unlock()
	d.fn(v)
	return true
}

// Cancel drops the pending value without delivering it.
func (d *Debouncer[T]) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	had := d.has
	d.resetLocked()
	return had
}

// Pending reports whether a value is waiting for its quiet period.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.has
}

// Stop drops any pending value; later triggers are ignored.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
	d.stopped = true
}

func (d *Debouncer[T]) resetLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	var zero T
	d.pending = zero
	d.has = false
	d.seq++
}
