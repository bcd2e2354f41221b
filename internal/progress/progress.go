// Package progress prints a live one-line summary of a running storm.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"searchflight/internal/collector"
)

// Source supplies the metrics shown on each tick. *collector.Collector
// implements it.
type Source interface {
	Compute() *collector.Metrics
}

// Progress redraws a status line on a terminal until stopped. A quiet
// Progress prints nothing at all.
type Progress struct {
	source   Source
	quiet    bool
	interval time.Duration

	mu      sync.Mutex // guards output and the fields below
	output  io.Writer
	started time.Time
	done    chan struct{}
	exited  chan struct{}
}

func NewProgress(source Source, quiet bool) *Progress {
	return &Progress{
		source:   source,
		quiet:    quiet,
		interval: time.Second,
		output:   os.Stderr,
	}
}

func (p *Progress) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = w
}

// SetInterval changes the refresh period. It must be called before Start.
func (p *Progress) SetInterval(d time.Duration) {
	if d > 0 {
		p.interval = d
	}
}

// Start begins redrawing. Start while running is a no-op.
func (p *Progress) Start() {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return
	}
	p.started = time.Now()
	p.done = make(chan struct{})
	p.exited = make(chan struct{})
	go p.loop(p.done, p.exited)
}

func (p *Progress) loop(done <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.redraw()
		}
	}
}

func (p *Progress) redraw() {
	m := p.source.Compute()

	p.mu.Lock()
	defer p.mu.Unlock()
	elapsed := time.Since(p.started).Round(time.Second)
	line := fmt.Sprintf("[%02d:%02d] Requests: %d | ok: %d | aborted: %d | outdated: %d | errors: %d",
		int(elapsed.Minutes()), int(elapsed.Seconds())%60,
		m.TotalRequests, m.SuccessCount, m.AbortedCount, m.OutdatedCount, m.ErrorCount)
	if m.ConsistencyChecks > 0 {
		line += fmt.Sprintf(" | checks: %d/%d", m.ConsistencyChecks-len(m.ConsistencyFailures), m.ConsistencyChecks)
	}
	fmt.Fprintf(p.output, "\r\033[K%s", line)
}

// Stop halts redrawing and clears the line. It waits for an in-progress
// redraw, so nothing is drawn after it returns. Stop is idempotent.
func (p *Progress) Stop() {
	if p.quiet {
		return
	}
	p.mu.Lock()
	done, exited := p.done, p.exited
	p.done = nil
	p.mu.Unlock()
	if done == nil {
		return
	}

	close(done)
	<-exited
	p.mu.Lock()
	fmt.Fprint(p.output, "\r\033[K")
	p.mu.Unlock()
}

// Print writes a message on its own line.
func (p *Progress) Print(message string) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.output, "\r\033[K%s\n", message)
}

func (p *Progress) Printf(format string, args ...any) {
	p.Print(fmt.Sprintf(format, args...))
}
