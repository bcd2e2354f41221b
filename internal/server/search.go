package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"searchflight/internal/core"
)

const (
	// StatusClientClosedRequest acknowledges a peer that went away.
	StatusClientClosedRequest = 499

	// maxBodySize limits the request body read by the search handler.
	maxBodySize = 64 << 10

	// maxDelay is the longest representable delay; larger requests are
	// clamped to it.
	maxDelay = time.Duration(math.MaxInt64)

	msgInvalidQuery = "Query parameter is required and must be a non-empty string"
	msgInvalidJSON  = "Request body must be valid JSON"
	msgCancelled    = "Request cancelled by client"
	msgInternal     = "Internal server error"
)

// State is a step in the per-request handler state machine:
// Validating -> {Rejected | Delaying} -> {Cancelled | LookingUp} -> {Cancelled | Responding} -> Done.
// Failed is reached on an internal fault.
type State int

const (
	StateValidating State = iota
	StateRejected
	StateDelaying
	StateLookingUp
	StateResponding
	StateDone
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateRejected:
		return "rejected"
	case StateDelaying:
		return "delaying"
	case StateLookingUp:
		return "looking_up"
	case StateResponding:
		return "responding"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// searchRequest is a validated search body.
type searchRequest struct {
	query string
	delay time.Duration
}

// requestError is a client input problem reported with a 400.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }
func (e *requestError) Unwrap() error { return core.ErrValidation }

// parseSearchRequest validates body. The query must be a JSON string that
// is non-empty after trimming. The delay is honoured only when it is a
// positive JSON number, in milliseconds.
func parseSearchRequest(body []byte) (searchRequest, error) {
	if !gjson.ValidBytes(body) {
		return searchRequest{}, &requestError{msg: msgInvalidJSON}
	}

	query := gjson.GetBytes(body, "query")
	if query.Type != gjson.String || strings.TrimSpace(query.Str) == "" {
		return searchRequest{}, &requestError{msg: msgInvalidQuery}
	}

	req := searchRequest{query: strings.TrimSpace(query.Str)}
	if delay := gjson.GetBytes(body, "delay"); delay.Type == gjson.Number && delay.Num > 0 {
		req.delay = delayFromMillis(delay.Num)
	}
	return req, nil
}

// delayFromMillis converts a positive millisecond count, clamping values
// that do not fit in a time.Duration.
func delayFromMillis(ms float64) time.Duration {
	if ms >= float64(maxDelay/time.Millisecond) {
		return maxDelay
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// responder serialises writes to one ResponseWriter. At most one response
// is written, and nothing is written once the handler has returned.
type responder struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	written bool
	closed  bool
}

// writeJSON encodes v and writes it with status. It reports false when a
// response was already written or the exchange is closed.
func (x *responder) writeJSON(status int, v any) (bool, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return false, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.written || x.closed {
		return false, nil
	}
	x.written = true

	x.w.Header().Set("Content-Type", "application/json")
	x.w.WriteHeader(status)
	_, _ = x.w.Write(body) // peer may be gone; nothing left to report to
	return true, nil
}

func (x *responder) writeError(status int, msg string) bool {
	ok, _ := x.writeJSON(status, core.ErrorBody{Error: msg})
	return ok
}

func (x *responder) close() {
	x.mu.Lock()
	x.closed = true
	x.mu.Unlock()
}

// handleSearch runs one search request. The peer's cancellation signal is
// the request context, which net/http cancels when the connection closes.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := s.clock.Now()
	log := s.logger.With("request_id", RequestIDFromContext(ctx))
	x := &responder{w: w}
	state := StateValidating

	s.metrics.InFlight.Inc()
	defer func() {
		x.close()
		s.metrics.InFlight.Dec()
		elapsed := s.clock.Since(start)
		s.metrics.observe(state, elapsed)
		log.Debug("search finished", "state", state.String(), "elapsed", elapsed)
	}()

	// Acknowledge a disconnect immediately unless a delay is pending;
	// a pending delay observes the disconnect itself and writes nothing.
	var delaying atomic.Bool
	stopWatch := context.AfterFunc(ctx, func() {
		if delaying.Load() {
			return
		}
		if x.writeError(StatusClientClosedRequest, msgCancelled) {
			s.metrics.CancelAcks.Inc()
		}
	})
	defer stopWatch()

	defer func() {
		if rec := recover(); rec != nil {
			if ctx.Err() != nil {
				state = StateCancelled
				return
			}
			state = StateFailed
			log.Error("search handler failed", "error", fmt.Errorf("%w: %v", core.ErrInternal, rec))
			x.writeError(http.StatusInternalServerError, msgInternal)
		}
	}()

	if ctx.Err() != nil {
		state = StateCancelled
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if ctx.Err() != nil {
		state = StateCancelled
		return
	}
	if err != nil {
		state = StateRejected
		x.writeError(http.StatusBadRequest, msgInvalidJSON)
		return
	}

	req, err := parseSearchRequest(body)
	if err != nil {
		state = StateRejected
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			x.writeError(http.StatusBadRequest, reqErr.msg)
		} else {
			x.writeError(http.StatusBadRequest, msgInvalidQuery)
		}
		return
	}

	if req.delay > 0 {
		state = StateDelaying
		delaying.Store(true)
		select {
		case <-s.clock.After(req.delay):
			delaying.Store(false)
		case <-ctx.Done():
			state = StateCancelled
			log.Debug("search cancelled during delay", "delay", req.delay)
			return
		}
	}

	if ctx.Err() != nil {
		state = StateCancelled
		return
	}

	state = StateLookingUp
	result := core.NewSearchResult(s.lookup(req.query))

	if ctx.Err() != nil {
		state = StateCancelled
		return
	}

	state = StateResponding
	ok, err := x.writeJSON(http.StatusOK, result)
	if err != nil {
		state = StateFailed
		log.Error("encoding search response failed", "error", fmt.Errorf("%w: %v", core.ErrInternal, err))
		x.writeError(http.StatusInternalServerError, msgInternal)
		return
	}
	if !ok {
		state = StateCancelled
		return
	}
	s.metrics.ResultsTotal.Observe(float64(result.Total))
	state = StateDone
}
