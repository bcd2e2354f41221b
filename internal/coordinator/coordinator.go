// Package coordinator enforces single-flight request semantics: each new
// request supersedes and cancels the previous one, and only the latest
// revision's outcome may be applied.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tidwall/gjson"

	"searchflight/internal/core"
	"searchflight/internal/logging"
)

// Caller performs one network call. It must abort promptly when ctx is
// cancelled.
type Caller[P any] interface {
	Call(ctx context.Context, params P) (core.Reply, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc[P any] func(ctx context.Context, params P) (core.Reply, error)

func (f CallerFunc[P]) Call(ctx context.Context, params P) (core.Reply, error) {
	return f(ctx, params)
}

type inFlight struct {
	revision core.Revision
	cancel   context.CancelFunc
}

// Coordinator issues requests of type P and decodes JSON responses into R.
// One instance is one logical request stream: sharing it between callers
// gives global single-flight across all of them. It is safe for concurrent
// use; the mutex guards only the revision counter and the in-flight record
// and is never held across a call.
type Coordinator[P, R any] struct {
	caller Caller[P]
	logger *slog.Logger

	mu       sync.Mutex
	revision core.Revision
	current  *inFlight
}

func New[P, R any](caller Caller[P], logger *slog.Logger) *Coordinator[P, R] {
	return &Coordinator[P, R]{
		caller: caller,
		logger: logging.OrDiscard(logger).With("component", "coordinator"),
	}
}

// attempt is one allocated revision and its cancellation token.
type attempt struct {
	revision core.Revision
	ctx      context.Context
	cancel   context.CancelFunc
}

// Execute starts a request that supersedes any request still in flight.
// It always returns exactly one outcome and never panics.
func (c *Coordinator[P, R]) Execute(ctx context.Context, params P) core.Outcome[R] {
	return c.run(c.begin(ctx), params)
}

// Go is Execute for callers that must not block. The revision is
// allocated, and the previous request cancelled, before Go returns; the
// outcome arrives on the channel.
func (c *Coordinator[P, R]) Go(ctx context.Context, params P) (core.Revision, <-chan core.Outcome[R]) {
	a := c.begin(ctx)
	out := make(chan core.Outcome[R], 1)
	go func() { out <- c.run(a, params) }()
	return a.revision, out
}

func (c *Coordinator[P, R]) begin(ctx context.Context) attempt {
	reqCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.revision++
	if c.current != nil {
		c.logger.Debug("superseding request", "revision", c.current.revision, "by", c.revision)
		c.current.cancel()
	}
	c.current = &inFlight{revision: c.revision, cancel: cancel}
	return attempt{revision: c.revision, ctx: reqCtx, cancel: cancel}
}

func (c *Coordinator[P, R]) run(a attempt, params P) (out core.Outcome[R]) {
	defer a.cancel()
	rev, reqCtx := a.revision, a.ctx

	// Flags the attempt as aborted if its signal fires while the call is
	// outstanding. Stopped before cancel runs on return.
	var aborted atomic.Bool
	stopWatch := context.AfterFunc(reqCtx, func() { aborted.Store(true) })
	defer stopWatch()

	defer func() {
		if r := recover(); r != nil {
			if !c.release(rev) {
				out = core.Outdated[R](rev)
				return
			}
			c.logger.Error("caller panicked", "revision", rev, "panic", r)
			out = core.Failure[R](rev, fmt.Sprintf("%v: %v", core.ErrInternal, r))
		}
	}()

	reply, err := c.caller.Call(reqCtx, params)
	isCurrent := c.release(rev)

	if err != nil && (aborted.Load() || reqCtx.Err() != nil) {
		return withStatus(core.Aborted[R](rev), reply)
	}
	if !isCurrent {
		return withStatus(core.Outdated[R](rev), reply)
	}
	if err != nil {
		return core.Failure[R](rev, err.Error())
	}
	if !reply.OK() {
		return withStatus(core.Failure[R](rev, statusMessage(reply)), reply)
	}

	var payload R
	if err := json.Unmarshal(reply.Body, &payload); err != nil {
		return withStatus(core.Failure[R](rev, fmt.Sprintf("decoding response: %v", err)), reply)
	}
	return withStatus(core.Success(rev, payload), reply)
}

// Cancel aborts the request in flight, if any. Calling it with nothing in
// flight, or twice in a row, has no further effect.
func (c *Coordinator[P, R]) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return
	}
	c.logger.Debug("cancelling request", "revision", c.current.revision)
	c.current.cancel()
	c.current = nil
}

// Revision returns the last revision handed out.
func (c *Coordinator[P, R]) Revision() core.Revision {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}

// InFlight reports the revision of the live request, if there is one.
func (c *Coordinator[P, R]) InFlight() (core.Revision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return 0, false
	}
	return c.current.revision, true
}

// release clears the in-flight record if it still belongs to rev and
// reports whether rev was current.
func (c *Coordinator[P, R]) release(rev core.Revision) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.revision != rev {
		return false
	}
	c.current = nil
	return true
}

func withStatus[R any](o core.Outcome[R], reply core.Reply) core.Outcome[R] {
	o.StatusCode = reply.StatusCode
	return o
}

// statusMessage describes a non-2xx reply, including the server's error
// message when the body carries one.
func statusMessage(reply core.Reply) string {
	msg := fmt.Sprintf("HTTP error! status: %d", reply.StatusCode)
	if detail := gjson.GetBytes(reply.Body, "error"); detail.Type == gjson.String && detail.Str != "" {
		msg += " (" + detail.Str + ")"
	}
	return msg
}

