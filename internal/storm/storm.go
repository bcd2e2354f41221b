// Package storm drives the search stack the way impatient users do: many
// sessions typing phrases one keystroke at a time, each keystroke
// superseding the last search. After every phrase the state a session
// settled on is compared with a direct lookup of that phrase.
package storm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"searchflight/internal/collector"
	"searchflight/internal/config"
	"searchflight/internal/coordinator"
	"searchflight/internal/core"
	transport "searchflight/internal/http"
	"searchflight/internal/logging"
	"searchflight/internal/ratelimit"
	"searchflight/internal/session"
)

const searchPath = "/search"

// Options carries collaborators that do not belong in a scenario file.
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Debug      *transport.DebugLogger
	Clock      core.Clock
}

// Report is the outcome of a run.
type Report struct {
	Metrics     *collector.Metrics
	Thresholds  *collector.ThresholdResults
	Probe       *ProbeResult
	Interrupted bool
}

// Passed reports whether every threshold held.
func (r *Report) Passed() bool {
	return r.Thresholds == nil || r.Thresholds.Passed
}

// Runner executes one storm scenario.
type Runner struct {
	cfg       config.Storm
	mode      session.Mode
	client    *transport.Client
	endpoint  *transport.Endpoint[core.SearchParams]
	collector *collector.Collector
	logger    *slog.Logger
	clock     core.Clock
}

// New validates cfg and prepares a runner.
func New(cfg *config.Storm, opts Options) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, err := session.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = core.RealClock{}
	}

	client := transport.NewClient(cfg.Server, opts.HTTPClient, opts.Debug)
	client.SetHeader("User-Agent", "searchstorm")
	return &Runner{
		cfg:       *cfg,
		mode:      mode,
		client:    client,
		endpoint:  transport.NewEndpoint[core.SearchParams](client, searchPath),
		collector: collector.NewCollector(opts.Clock),
		logger:    logging.OrDiscard(opts.Logger).With("component", "storm"),
		clock:     opts.Clock,
	}, nil
}

// Collector exposes live results, for progress display.
func (r *Runner) Collector() *collector.Collector {
	return r.collector
}

// Run executes the scenario. Cancelling ctx stops typing early and still
// yields a report for what ran. A Runner runs once.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if err := r.preflight(ctx); err != nil {
		r.collector.Close()
		return nil, fmt.Errorf("server not ready: %w", err)
	}

	report := &Report{}
	if r.cfg.Probe != nil {
		res := r.probe(ctx, *r.cfg.Probe)
		report.Probe = &res
	}

	g, gctx := errgroup.WithContext(ctx)
	for id := 1; id <= r.cfg.Sessions; id++ {
		g.Go(func() error { return r.runSession(gctx, id) })
	}
	err := g.Wait()
	r.collector.Close()

	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		report.Interrupted = true
	}

	report.Metrics = r.collector.Compute()
	report.Thresholds = r.cfg.Thresholds.Check(report.Metrics)
	if report.Probe != nil {
		report.Thresholds.Add(report.Probe.thresholdResult())
	}
	return report, nil
}

// preflight checks that the server answers its health check.
func (r *Runner) preflight(ctx context.Context) error {
	reply, err := r.client.Get(ctx, "/health")
	if err != nil {
		return err
	}
	if !reply.OK() {
		return fmt.Errorf("health check returned %s", reply.Status)
	}
	if status := gjson.GetBytes(reply.Body, "status").String(); status != "ok" {
		return fmt.Errorf("health check reported status %q", status)
	}
	r.logger.Info("server ready", "server", r.cfg.Server, "users", gjson.GetBytes(reply.Body, "users").Int())
	return nil
}

// runSession types every phrase into its own search box. It returns an
// error only when ctx ends.
func (r *Runner) runSession(ctx context.Context, id int) error {
	log := r.logger.With("session", id)
	coord := coordinator.New[core.SearchParams, core.SearchResult](r.endpoint, log)
	s, err := session.New(coord, session.Config{
		ID:       id,
		Mode:     r.mode,
		Debounce: r.cfg.Debounce,
		Delays:   r.cfg.Delays,
		Reporter: r.collector,
		Clock:    r.clock,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	pacer := ratelimit.NewPacer(r.cfg.KeysPerSecond)
	for _, phrase := range r.cfg.Phrases {
		var typed strings.Builder
		for _, ch := range phrase {
			if err := pacer.Wait(ctx); err != nil {
				return err
			}
			typed.WriteRune(ch)
			s.Input(typed.String())
		}
		s.Flush()
		s.Wait()
		if err := ctx.Err(); err != nil {
			return err
		}

		check := r.check(ctx, id, phrase, s.State())
		r.collector.RecordCheck(check)
		if !check.Passed {
			log.Warn("inconsistent state", "query", check.Query, "detail", check.Detail)
		}

		// Clear the box before the next phrase.
		s.Input("")
		s.Flush()
		s.Wait()
	}
	return nil
}

// check compares the settled state with a direct lookup of phrase.
func (r *Runner) check(ctx context.Context, id int, phrase string, st session.State) collector.Check {
	query := strings.TrimSpace(phrase)
	c := collector.Check{Session: id, Query: query, Got: len(st.Users)}

	want, err := r.lookup(ctx, query)
	if err != nil {
		c.Detail = "reference lookup failed: " + err.Error()
		return c
	}
	c.Want = len(want)

	switch {
	case st.Loading:
		c.Detail = "still loading"
	case st.Error != "":
		c.Detail = "error shown: " + st.Error
	case st.Query != query:
		c.Detail = fmt.Sprintf("settled on %q", st.Query)
	case !sameUsers(want, st.Users):
		c.Detail = "different users"
	default:
		c.Passed = true
	}
	return c
}

// lookup searches without a delay and outside any session.
func (r *Runner) lookup(ctx context.Context, query string) ([]core.User, error) {
	reply, err := r.client.Post(ctx, searchPath, core.NewSearchParams(query, -1))
	if err != nil {
		return nil, err
	}
	if !reply.OK() {
		return nil, fmt.Errorf("%w: status %d", core.ErrTransport, reply.StatusCode)
	}
	var result core.SearchResult
	if err := json.Unmarshal(reply.Body, &result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return result.Data, nil
}

func sameUsers(a, b []core.User) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}
