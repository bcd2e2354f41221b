// Package session holds the client-side state of one search box: the
// typed text, the users shown in the dropdown, and whether a search is
// loading or has failed.
//
// Every search goes through a single-flight coordinator, so only the most
// recent trigger can change what is displayed:
//
//	c := coordinator.New[core.SearchParams, core.SearchResult](endpoint, logger)
//	s, err := session.New(c, session.Config{Mode: session.ModeAbortDebounced})
//	s.Input("ezek")
//	s.Wait()
//	fmt.Println(s.State().Users)
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"searchflight/internal/core"
	"searchflight/internal/debounce"
	"searchflight/internal/logging"
)

// MaxDelays bounds the delay cycle.
const MaxDelays = 10

// Mode selects when typed input triggers a search.
type Mode string

const (
	// ModeJustAbort searches on every keystroke, aborting the previous one.
	ModeJustAbort Mode = "just-abort"
	// ModeAbortDebounced searches once typing pauses.
	ModeAbortDebounced Mode = "abort-debounced"
)

// ParseMode validates a mode name. The empty string selects ModeJustAbort.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.TrimSpace(s)) {
	case "", ModeJustAbort:
		return ModeJustAbort, nil
	case ModeAbortDebounced:
		return ModeAbortDebounced, nil
	default:
		return "", fmt.Errorf("unknown mode %q (use %s or %s)", s, ModeJustAbort, ModeAbortDebounced)
	}
}

// ValidateDelays checks a delay cycle.
func ValidateDelays(delays []int) error {
	var errs []error
	if len(delays) > MaxDelays {
		errs = append(errs, fmt.Errorf("at most %d delays allowed, got %d", MaxDelays, len(delays)))
	}
	for i, d := range delays {
		if d < 0 {
			errs = append(errs, fmt.Errorf("delays[%d]: must be >= 0, got %d", i, d))
		}
	}
	return errors.Join(errs...)
}

// Searcher runs single-flight searches.
// *coordinator.Coordinator[core.SearchParams, core.SearchResult] implements it.
type Searcher interface {
	Go(ctx context.Context, params core.SearchParams) (core.Revision, <-chan core.Outcome[core.SearchResult])
	Cancel()
}

// State is a snapshot of what the search box displays.
type State struct {
	Input   string // raw text in the box
	Query   string // last query searched for, trimmed
	Users   []core.User
	Loading bool
	Open    bool // dropdown visible
	Error   string
}

// Config configures a Session.
type Config struct {
	ID       int // tags reported events and request logs
	Mode     Mode
	Debounce time.Duration // quiet period for ModeAbortDebounced; default debounce.DefaultWait
	Delays   []int         // artificial server delays in ms, cycled per trigger
	Reporter core.Reporter
	Clock    core.Clock
	Logger   *slog.Logger
}

// Session drives one search box.
type Session struct {
	searcher Searcher
	cfg      Config
	clock    core.Clock
	logger   *slog.Logger
	reporter core.Reporter
	debounce *debounce.Debouncer[string]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	state   State
	counter int
	latest  core.Revision // revision whose outcome may be applied; 0 for none
	closed  bool
}

func New(searcher Searcher, cfg Config) (*Session, error) {
	if searcher == nil {
		return nil, errors.New("session: searcher is required")
	}
	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode
	if err := ValidateDelays(cfg.Delays); err != nil {
		return nil, err
	}
	cfg.Delays = append([]int(nil), cfg.Delays...)
	if cfg.Debounce <= 0 {
		cfg.Debounce = debounce.DefaultWait
	}

	s := &Session{
		searcher: searcher,
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   logging.OrDiscard(cfg.Logger).With("session", cfg.ID),
		reporter: cfg.Reporter,
	}
	if s.clock == nil {
		s.clock = core.RealClock{}
	}
	if s.reporter == nil {
		s.reporter = core.NullReporter
	}
	s.ctx, s.cancel = context.WithCancel(core.ContextWithSessionID(context.Background(), cfg.ID))
	if mode == ModeAbortDebounced {
		s.debounce = debounce.New(cfg.Debounce, s.trigger)
	}
	return s, nil
}

// Mode returns the session's trigger mode.
func (s *Session) Mode() Mode {
	return s.cfg.Mode
}

// Input records typed text and triggers a search, immediately or once
// typing pauses depending on the mode.
func (s *Session) Input(text string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state.Input = text
	s.mu.Unlock()

	if s.debounce != nil {
		s.debounce.Trigger(text)
		return
	}
	s.trigger(text)
}

// Flush runs a debounced search now instead of waiting for the quiet
// period. It reports whether one was pending.
func (s *Session) Flush() bool {
	if s.debounce == nil {
		return false
	}
	return s.debounce.Flush()
}

// trigger starts a search for text, or clears the box when text is blank.
func (s *Session) trigger(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.counter++
	query := strings.TrimSpace(text)
	if query == "" {
		s.searcher.Cancel()
		s.latest = 0
		s.state = State{Input: s.state.Input}
		return
	}

	params := core.NewSearchParams(query, s.nextDelayLocked())
	s.state.Query = query
	s.state.Loading = true
	s.state.Open = true
	s.state.Error = ""

	start := s.clock.Now()
	rev, outcome := s.searcher.Go(s.ctx, params)
	s.latest = rev
	s.logger.Debug("search started", "revision", rev, "query", query, "delay", params.Delay)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.settle(query, start, <-outcome)
	}()
}

// nextDelayLocked picks the delay for the current trigger, or -1 when no
// delays are configured.
func (s *Session) nextDelayLocked() int {
	if len(s.cfg.Delays) == 0 {
		return -1
	}
	return s.cfg.Delays[s.counter%len(s.cfg.Delays)]
}

// settle reports an outcome and applies it if it is still the latest.
// Aborted and outdated outcomes never touch the state.
func (s *Session) settle(query string, start time.Time, out core.Outcome[core.SearchResult]) {
	s.reporter.Report(core.Event{
		Session:    s.cfg.ID,
		Revision:   out.Revision,
		Timestamp:  start,
		Query:      query,
		Kind:       out.Kind,
		Duration:   s.clock.Since(start),
		StatusCode: out.StatusCode,
		Message:    out.Message,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if !out.Applicable() || out.Revision != s.latest || s.closed {
		s.logger.Debug("search discarded", "revision", out.Revision, "kind", out.Kind.String())
		return
	}

	switch out.Kind {
	case core.KindSuccess:
		s.state.Users = out.Payload.Data
		s.state.Loading = false
		s.state.Error = ""
	case core.KindError:
		s.state.Users = nil
		s.state.Loading = false
		s.state.Error = out.Message
		s.logger.Warn("search failed", "revision", out.Revision, "query", query, "error", out.Message)
	}
}

// Select picks a user from the dropdown: the box shows their full name and
// the dropdown closes.
func (s *Session) Select(u core.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := u.FullName()
	s.state.Input = name
	s.state.Query = name
	s.state.Open = false
}

// Focus reopens the dropdown when there is something to show.
func (s *Session) Focus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.state.Users) > 0 || s.state.Loading || s.state.Error != "" {
		s.state.Open = true
	}
}

// Blur closes the dropdown.
func (s *Session) Blur() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Open = false
}

// State returns a snapshot of the displayed state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Users = append([]core.User(nil), s.state.Users...)
	return st
}

// Wait blocks until every search started so far has settled. Pending
// debounced input is not started by Wait; call Flush first.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close cancels any search in flight and stops accepting input.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.searcher.Cancel()
	s.cancel()
	s.wg.Wait()
}
