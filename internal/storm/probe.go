package storm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"

	"searchflight/internal/collector"
	"searchflight/internal/config"
	"searchflight/internal/core"
)

// The server counts searches it abandoned after the peer went away under
// this family and label.
const (
	requestsFamily = "searchflight_search_requests_total"
	stateLabel     = "state"
	stateCancelled = "cancelled"
)

const (
	settleTimeout = time.Second
	pollInterval  = 25 * time.Millisecond
)

// ProbeResult describes one deliberately abandoned request.
type ProbeResult struct {
	Query   string
	Delay   int
	After   time.Duration
	Elapsed time.Duration

	// Aborted is true when the client gave up before any response arrived.
	Aborted bool
	// StatusCode is set when a response arrived before the disconnect.
	StatusCode int
	// ServerCancelled is the increase in the server's cancelled-search
	// counter, or -1 when metrics were unavailable.
	ServerCancelled float64
	Err             string
}

// Passed reports whether the request was abandoned on both ends.
func (p *ProbeResult) Passed() bool {
	return p.Aborted && p.ServerCancelled != 0
}

func (p *ProbeResult) thresholdResult() collector.ThresholdResult {
	actual := "response received"
	if p.Aborted {
		switch {
		case p.ServerCancelled < 0:
			actual = "client aborted, server unknown"
		case p.ServerCancelled == 0:
			actual = "client aborted, server kept working"
		default:
			actual = "aborted on both ends"
		}
	}
	return collector.ThresholdResult{
		Name:      "probe",
		Passed:    p.Passed(),
		Threshold: "aborted on both ends",
		Actual:    actual,
	}
}

// probe sends a delayed search and disconnects partway through the delay.
func (r *Runner) probe(ctx context.Context, p config.Probe) ProbeResult {
	res := ProbeResult{Query: p.Query, Delay: p.Delay, After: p.After, ServerCancelled: -1}
	before, metricsErr := r.cancelledCount(ctx)

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.clock.After(p.After):
			cancel()
		case <-pctx.Done():
		}
	}()

	start := r.clock.Now()
	reply, err := r.client.Post(pctx, searchPath, core.NewSearchParams(p.Query, p.Delay))
	res.Elapsed = r.clock.Since(start)
	switch {
	case err != nil && pctx.Err() != nil && ctx.Err() == nil:
		res.Aborted = true
	case err != nil:
		res.Err = err.Error()
	default:
		res.StatusCode = reply.StatusCode
	}
	r.logger.Info("probe finished", "aborted", res.Aborted, "elapsed", res.Elapsed, "status", res.StatusCode)

	if metricsErr != nil || !res.Aborted {
		return res
	}

	// The server notices the disconnect asynchronously.
	deadline := r.clock.Now().Add(settleTimeout)
	for {
		after, err := r.cancelledCount(ctx)
		if err != nil {
			return res
		}
		res.ServerCancelled = after - before
		if res.ServerCancelled > 0 || !r.clock.Now().Before(deadline) {
			return res
		}
		select {
		case <-ctx.Done():
			return res
		case <-r.clock.After(pollInterval):
		}
	}
}

// cancelledCount reads the server's cancelled-search counter. A series
// that has not been created yet counts as zero.
func (r *Runner) cancelledCount(ctx context.Context) (float64, error) {
	reply, err := r.client.Get(ctx, "/metrics")
	if err != nil {
		return 0, err
	}
	if !reply.OK() {
		return 0, fmt.Errorf("metrics returned %s", reply.Status)
	}
	return counterValue(bytes.NewReader(reply.Body), requestsFamily, stateLabel, stateCancelled)
}

// counterValue returns the counter in family whose label name has value,
// read from Prometheus text exposition format.
func counterValue(in io.Reader, family, name, value string) (float64, error) {
	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(in)
	if err != nil {
		return 0, fmt.Errorf("parsing metrics: %w", err)
	}
	mf, ok := families[family]
	if !ok {
		return 0, nil
	}
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == name && lp.GetValue() == value {
				return m.GetCounter().GetValue(), nil
			}
		}
	}
	return 0, nil
}

// FormatProbe writes a one-paragraph summary of the probe.
func FormatProbe(w io.Writer, p *ProbeResult) {
	if p == nil {
		return
	}
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Cancellation probe: %q with %dms delay, disconnect after %s\n",
		p.Query, p.Delay, collector.FormatDuration(p.After))
	switch {
	case p.Err != "":
		fmt.Fprintf(w, "  request failed: %s\n", p.Err)
	case !p.Aborted:
		fmt.Fprintf(w, "  ✗ response %d arrived before the disconnect\n", p.StatusCode)
	default:
		fmt.Fprintf(w, "  client aborted after %s\n", collector.FormatDuration(p.Elapsed))
		switch {
		case p.ServerCancelled < 0:
			fmt.Fprintln(w, "  server cancellation unknown (metrics unavailable)")
		case p.ServerCancelled == 0:
			fmt.Fprintln(w, "  ✗ server did not record a cancelled search")
		default:
			fmt.Fprintf(w, "  ✓ server abandoned %.0f search(es)\n", p.ServerCancelled)
		}
	}
}
