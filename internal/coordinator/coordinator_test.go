package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"searchflight/internal/core"
)

type result struct {
	reply core.Reply
	err   error
}

// call is one outstanding Call on a scriptedCaller.
type call struct {
	query string
	ctx   context.Context
	reply chan result
}

func (c *call) respond(status int, body string) {
	c.reply <- result{reply: core.Reply{StatusCode: status, Body: []byte(body)}}
}

// scriptedCaller hands every call to the test and blocks until the test
// responds. When cooperative, it also returns as soon as ctx is cancelled.
type scriptedCaller struct {
	calls       chan *call
	cooperative bool
}

func newScriptedCaller(cooperative bool) *scriptedCaller {
	return &scriptedCaller{calls: make(chan *call, 16), cooperative: cooperative}
}

func (s *scriptedCaller) Call(ctx context.Context, query string) (core.Reply, error) {
	c := &call{query: query, ctx: ctx, reply: make(chan result, 1)}
	s.calls <- c
	if !s.cooperative {
		r := <-c.reply
		return r.reply, r.err
	}
	select {
	case r := <-c.reply:
		return r.reply, r.err
	case <-ctx.Done():
		return core.Reply{}, ctx.Err()
	}
}

func (s *scriptedCaller) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-s.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for call")
		return nil
	}
}

type searchCoordinator = Coordinator[string, core.SearchResult]

func execAsync(c *searchCoordinator, query string) <-chan core.Outcome[core.SearchResult] {
	out := make(chan core.Outcome[core.SearchResult], 1)
	go func() { out <- c.Execute(context.Background(), query) }()
	return out
}

func await(t *testing.T, ch <-chan core.Outcome[core.SearchResult]) core.Outcome[core.SearchResult] {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return core.Outcome[core.SearchResult]{}
	}
}

const smithBody = `{"data":[{"id":1,"firstName":"Ezekiel","lastName":"Smith","email":"e.s@x.com"}],"total":1}`

func TestExecuteSuccess(t *testing.T) {
	caller := newScriptedCaller(true)
	c := New[string, core.SearchResult](caller, nil)

	pending := execAsync(c, "smith")
	call := caller.next(t)
	assert.Equal(t, "smith", call.query)

	rev, ok := c.InFlight()
	require.True(t, ok)
	assert.Equal(t, core.Revision(1), rev)

	call.respond(200, smithBody)
	out := await(t, pending)

	require.Equal(t, core.KindSuccess, out.Kind, out.Message)
	assert.Equal(t, core.Revision(1), out.Revision)
	assert.Equal(t, 200, out.StatusCode)
	assert.Equal(t, 1, out.Payload.Total)
	assert.Equal(t, "Ezekiel", out.Payload.Data[0].FirstName)

	_, ok = c.InFlight()
	assert.False(t, ok, "in-flight record cleared after accepted outcome")
	assert.ErrorIs(t, call.ctx.Err(), context.Canceled, "request context released on return")
}

func TestRevisionsIncrease(t *testing.T) {
	c := New[string, core.SearchResult](CallerFunc[string](func(ctx context.Context, q string) (core.Reply, error) {
		return core.Reply{StatusCode: 200, Body: []byte(`{"data":[],"total":0}`)}, nil
	}), nil)

	assert.Equal(t, core.Revision(0), c.Revision())
	for want := core.Revision(1); want <= 5; want++ {
		out := c.Execute(context.Background(), "q")
		assert.Equal(t, want, out.Revision)
		assert.Equal(t, core.KindSuccess, out.Kind)
	}
	assert.Equal(t, core.Revision(5), c.Revision())
}

func TestNewRequestCancelsPrevious(t *testing.T) {
	caller := newScriptedCaller(true)
	c := New[string, core.SearchResult](caller, nil)

	first := execAsync(c, "s")
	callA := caller.next(t)
	require.NoError(t, callA.ctx.Err())

	second := execAsync(c, "sm")
	callB := caller.next(t)

	// The previous call is cancelled before the next one starts.
	assert.ErrorIs(t, callA.ctx.Err(), context.Canceled)
	assert.NoError(t, callB.ctx.Err())

	outA := await(t, first)
	assert.Equal(t, core.KindAborted, outA.Kind)
	assert.Equal(t, core.Revision(1), outA.Revision)
	assert.False(t, outA.Applicable())

	rev, ok := c.InFlight()
	require.True(t, ok, "superseded attempt must not clear the newer record")
	assert.Equal(t, core.Revision(2), rev)

	callB.respond(200, smithBody)
	outB := await(t, second)
	assert.Equal(t, core.KindSuccess, outB.Kind)
	assert.Equal(t, core.Revision(2), outB.Revision)
}

func TestOutOfOrderResponseIsOutdated(t *testing.T) {
	// A transport that ignores cancellation delivers the stale response
	// after the newer one has already been applied.
	caller := newScriptedCaller(false)
	c := New[string, core.SearchResult](caller, nil)

	first := execAsync(c, "a")
	callA := caller.next(t)
	second := execAsync(c, "ab")
	callB := caller.next(t)

	callB.respond(200, `{"data":[],"total":0}`)
	outB := await(t, second)
	assert.Equal(t, core.KindSuccess, outB.Kind)
	assert.Equal(t, core.Revision(2), outB.Revision)

	callA.respond(200, smithBody)
	outA := await(t, first)
	assert.Equal(t, core.KindOutdated, outA.Kind)
	assert.Equal(t, core.Revision(1), outA.Revision)
	assert.Empty(t, outA.Payload.Data, "outdated outcome carries no payload")
	assert.ErrorIs(t, outA.Err(), core.ErrOutdated)
}

func TestStaleErrorIsOutdated(t *testing.T) {
	caller := newScriptedCaller(false)
	c := New[string, core.SearchResult](caller, nil)

	first := execAsync(c, "a")
	callA := caller.next(t)
	second := execAsync(c, "ab")
	callB := caller.next(t)

	callA.respond(500, `{"error":"Internal server error"}`)
	assert.Equal(t, core.KindOutdated, await(t, first).Kind)

	callB.respond(200, smithBody)
	assert.Equal(t, core.KindSuccess, await(t, second).Kind)
}

func TestCancel(t *testing.T) {
	caller := newScriptedCaller(true)
	c := New[string, core.SearchResult](caller, nil)

	// Nothing in flight.
	c.Cancel()
	c.Cancel()
	assert.Equal(t, core.Revision(0), c.Revision())

	pending := execAsync(c, "smith")
	call := caller.next(t)

	c.Cancel()
	c.Cancel()

	out := await(t, pending)
	assert.Equal(t, core.KindAborted, out.Kind)
	assert.ErrorIs(t, out.Err(), core.ErrCancelled)
	assert.ErrorIs(t, call.ctx.Err(), context.Canceled)

	_, ok := c.InFlight()
	assert.False(t, ok)
	assert.Equal(t, core.Revision(1), c.Revision(), "cancel does not allocate revisions")
}

func TestParentContextCancelled(t *testing.T) {
	c := New[string, core.SearchResult](CallerFunc[string](func(ctx context.Context, q string) (core.Reply, error) {
		<-ctx.Done()
		return core.Reply{}, ctx.Err()
	}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := c.Execute(ctx, "smith")
	assert.Equal(t, core.KindAborted, out.Kind)
	_, ok := c.InFlight()
	assert.False(t, ok)
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name    string
		reply   core.Reply
		err     error
		kind    core.Kind
		message string
		status  int
	}{
		{
			name:    "server error with body",
			reply:   core.Reply{StatusCode: 500, Body: []byte(`{"error":"Internal server error"}`)},
			kind:    core.KindError,
			message: "HTTP error! status: 500 (Internal server error)",
			status:  500,
		},
		{
			name:    "validation error",
			reply:   core.Reply{StatusCode: 400, Body: []byte(`{"error":"Query parameter is required and must be a non-empty string"}`)},
			kind:    core.KindError,
			message: "HTTP error! status: 400 (Query parameter is required and must be a non-empty string)",
			status:  400,
		},
		{
			name:    "status without body",
			reply:   core.Reply{StatusCode: 404},
			kind:    core.KindError,
			message: "HTTP error! status: 404",
			status:  404,
		},
		{
			name:    "non-string error field",
			reply:   core.Reply{StatusCode: 502, Body: []byte(`{"error":42}`)},
			kind:    core.KindError,
			message: "HTTP error! status: 502",
			status:  502,
		},
		{
			name:    "transport failure",
			err:     errors.New("dial tcp: connection refused"),
			kind:    core.KindError,
			message: "dial tcp: connection refused",
		},
		{
			name:   "success",
			reply:  core.Reply{StatusCode: 200, Body: []byte(smithBody)},
			kind:   core.KindSuccess,
			status: 200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New[string, core.SearchResult](CallerFunc[string](func(ctx context.Context, q string) (core.Reply, error) {
				return tt.reply, tt.err
			}), nil)

			out := c.Execute(context.Background(), "q")
			assert.Equal(t, tt.kind, out.Kind)
			assert.Equal(t, tt.message, out.Message)
			assert.Equal(t, tt.status, out.StatusCode)
			if tt.kind == core.KindError {
				assert.ErrorIs(t, out.Err(), core.ErrTransport)
				assert.True(t, out.Applicable())
			}
		})
	}
}

func TestUndecodableBody(t *testing.T) {
	c := New[string, core.SearchResult](CallerFunc[string](func(ctx context.Context, q string) (core.Reply, error) {
		return core.Reply{StatusCode: 200, Body: []byte("<html>")}, nil
	}), nil)

	out := c.Execute(context.Background(), "q")
	assert.Equal(t, core.KindError, out.Kind)
	assert.Contains(t, out.Message, "decoding response")
}

func TestPanickingCaller(t *testing.T) {
	c := New[string, core.SearchResult](CallerFunc[string](func(ctx context.Context, q string) (core.Reply, error) {
		panic("boom")
	}), nil)

	var out core.Outcome[core.SearchResult]
	require.NotPanics(t, func() { out = c.Execute(context.Background(), "q") })
	assert.Equal(t, core.KindError, out.Kind)
	assert.Contains(t, out.Message, "internal error")
	assert.Contains(t, out.Message, "boom")

	_, ok := c.InFlight()
	assert.False(t, ok)
}

func TestConcurrentExecuteSingleFlight(t *testing.T) {
	// While a call is live, every call that started before it has already
	// been cancelled.
	var (
		mu   sync.Mutex
		live []context.Context
	)
	release := make(chan struct{})
	c := New[string, core.SearchResult](CallerFunc[string](func(ctx context.Context, q string) (core.Reply, error) {
		mu.Lock()
		for _, prev := range live {
			if ctx.Err() == nil && prev.Err() == nil {
				mu.Unlock()
				t.Errorf("call %q started while an earlier call was still live", q)
				return core.Reply{}, errors.New("overlap")
			}
		}
		live = append(live, ctx)
		mu.Unlock()

		select {
		case <-ctx.Done():
			return core.Reply{}, ctx.Err()
		case <-release:
			return core.Reply{StatusCode: 200, Body: []byte(`{"data":[],"total":0}`)}, nil
		}
	}), nil)

	const n = 20
	outcomes := make(chan core.Outcome[core.SearchResult], n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- c.Execute(context.Background(), "q")
		}()
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(live) == n
	}, 2*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	close(outcomes)

	counts := map[core.Kind]int{}
	var winner core.Revision
	for o := range outcomes {
		counts[o.Kind]++
		if o.Kind == core.KindSuccess {
			winner = o.Revision
		}
	}
	assert.Equal(t, 1, counts[core.KindSuccess])
	assert.Equal(t, n-1, counts[core.KindAborted]+counts[core.KindOutdated])
	assert.Zero(t, counts[core.KindError])
	assert.Equal(t, core.Revision(n), winner)
}

func TestGoAllocatesRevisionBeforeReturning(t *testing.T) {
	caller := newScriptedCaller(true)
	c := New[string, core.SearchResult](caller, nil)

	revA, first := c.Go(context.Background(), "s")
	revB, second := c.Go(context.Background(), "sm")
	assert.Equal(t, core.Revision(1), revA)
	assert.Equal(t, core.Revision(2), revB)

	inFlight, ok := c.InFlight()
	require.True(t, ok)
	assert.Equal(t, revB, inFlight)

	assert.Equal(t, core.KindAborted, await(t, first).Kind)

	// The first call may or may not have reached the caller before it was
	// cancelled; answer whichever call is for "sm".
	for {
		call := caller.next(t)
		if call.query == "sm" {
			call.respond(200, smithBody)
			break
		}
	}
	out := await(t, second)
	assert.Equal(t, core.KindSuccess, out.Kind)
	assert.Equal(t, revB, out.Revision)
}
