package storm

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"searchflight/internal/collector"
	"searchflight/internal/config"
	"searchflight/internal/core"
	"searchflight/internal/dataset"
	"searchflight/internal/server"
	"searchflight/internal/session"
)

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	data, err := dataset.Default()
	require.NoError(t, err)
	s, err := server.NewServer(server.Config{Dataset: data})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func scenario(url string) *config.Storm {
	cfg := config.DefaultStorm()
	cfg.Server = url
	cfg.KeysPerSecond = 0
	cfg.Sessions = 3
	cfg.Phrases = []string{"Ezek", "Smith"}
	cfg.Delays = []int{40, 10}
	return &cfg
}

func TestRun_SessionsSettleConsistently(t *testing.T) {
	ts := startServer(t)
	cfg := scenario(ts.URL)
	cfg.Thresholds = &collector.Thresholds{MaxErrorRate: "0%", RequireConsistent: true}

	r, err := New(cfg, Options{})
	require.NoError(t, err)
	report, err := r.Run(context.Background())
	require.NoError(t, err)

	m := report.Metrics
	assert.False(t, report.Interrupted)
	assert.Nil(t, report.Probe)
	assert.Equal(t, 6, m.ConsistencyChecks)
	assert.Empty(t, m.ConsistencyFailures)
	assert.Zero(t, m.ErrorCount)
	assert.GreaterOrEqual(t, m.SuccessCount, 6, "every final keystroke must succeed")
	assert.Equal(t, m.TotalRequests, m.SuccessCount+m.AbortedCount+m.OutdatedCount)
	assert.Len(t, m.Sessions, 3)
	assert.True(t, report.Passed())
}

func TestRun_DebouncedMode(t *testing.T) {
	ts := startServer(t)
	cfg := scenario(ts.URL)
	cfg.Sessions = 1
	cfg.Mode = string(session.ModeAbortDebounced)
	cfg.Debounce = time.Hour

	r, err := New(cfg, Options{})
	require.NoError(t, err)
	report, err := r.Run(context.Background())
	require.NoError(t, err)

	// Flush fires only the last keystroke of each phrase.
	assert.Equal(t, 2, report.Metrics.TotalRequests)
	assert.Equal(t, 2, report.Metrics.SuccessCount)
	assert.Empty(t, report.Metrics.ConsistencyFailures)
}

func TestRun_ServerErrorsFailThresholds(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","users":0}`))
	})
	mux.HandleFunc("POST /search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	cfg := scenario(ts.URL)
	cfg.Sessions = 1
	cfg.Phrases = []string{"Ez"}
	cfg.Delays = nil
	cfg.Thresholds = &collector.Thresholds{MaxErrorRate: "0%"}

	r, err := New(cfg, Options{})
	require.NoError(t, err)
	report, err := r.Run(context.Background())
	require.NoError(t, err)

	m := report.Metrics
	assert.Positive(t, m.ErrorCount)
	assert.Positive(t, m.StatusCodes[500])
	assert.Contains(t, m.Errors, "HTTP error! status: 500 (boom)")
	require.Len(t, m.ConsistencyFailures, 1)
	assert.Contains(t, m.ConsistencyFailures[0].Detail, "reference lookup failed")
	assert.False(t, report.Passed())
}

func TestRun_Probe(t *testing.T) {
	ts := startServer(t)
	cfg := scenario(ts.URL)
	cfg.Sessions = 1
	cfg.Phrases = []string{"Ez"}
	cfg.Probe = &config.Probe{Query: "Ezekiel", Delay: 2000, After: 50 * time.Millisecond}

	r, err := New(cfg, Options{})
	require.NoError(t, err)
	start := time.Now()
	report, err := r.Run(context.Background())
	require.NoError(t, err)

	p := report.Probe
	require.NotNil(t, p)
	assert.True(t, p.Aborted)
	assert.Empty(t, p.Err)
	assert.Positive(t, p.ServerCancelled)
	assert.True(t, p.Passed())
	assert.Less(t, time.Since(start), 2*time.Second, "the probe must not wait out the delay")

	require.NotEmpty(t, report.Thresholds.Results)
	last := report.Thresholds.Results[len(report.Thresholds.Results)-1]
	assert.Equal(t, "probe", last.Name)
	assert.True(t, last.Passed)
}

func TestRun_InterruptedYieldsPartialReport(t *testing.T) {
	ts := startServer(t)
	cfg := scenario(ts.URL)
	cfg.Sessions = 2
	cfg.KeysPerSecond = 20
	cfg.Phrases = []string{strings.Repeat("Smith", 20)}

	r, err := New(cfg, Options{})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	report, err := r.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	assert.Positive(t, report.Metrics.TotalRequests)
	assert.Zero(t, report.Metrics.ConsistencyChecks)
}

func TestRun_ServerUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	r, err := New(scenario(url), Options{})
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server not ready")
}

func TestNew_InvalidScenario(t *testing.T) {
	cfg := scenario("localhost:5010")
	cfg.Sessions = 0

	_, err := New(cfg, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server:")
	assert.Contains(t, err.Error(), "sessions:")
}

func TestCounterValue(t *testing.T) {
	exposition := `# HELP searchflight_search_requests_total Search requests by final handler state.
# TYPE searchflight_search_requests_total counter
searchflight_search_requests_total{state="cancelled"} 3
searchflight_search_requests_total{state="done"} 12
# HELP other_total Unrelated.
# TYPE other_total counter
other_total{zone="a",state="cancelled"} 99
`
	tests := []struct {
		name   string
		family string
		value  string
		want   float64
	}{
		{"cancelled", requestsFamily, stateCancelled, 3},
		{"other label value", requestsFamily, "done", 12},
		{"absent label value", requestsFamily, "failed", 0},
		{"absent family", "searchflight_missing_total", stateCancelled, 0},
		{"label not first", "other_total", stateCancelled, 99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := counterValue(strings.NewReader(exposition), tt.family, stateLabel, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := counterValue(strings.NewReader(requestsFamily+`{state="cancelled"} nope`+"\n"), requestsFamily, stateLabel, stateCancelled)
	assert.Error(t, err)
}

func TestRun_DisconnectFollowsInjectedClock(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# TYPE searchflight_search_requests_total counter\n" +
			`searchflight_search_requests_total{state="done"} 1` + "\n"))
	})
	mux.HandleFunc("POST /search", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	clock := core.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := scenario(ts.URL)
	r, err := New(cfg, Options{Clock: clock})
	require.NoError(t, err)

	done := make(chan ProbeResult, 1)
	go func() {
		done <- r.probe(context.Background(), config.Probe{Query: "Ezekiel", Delay: 2000, After: 500 * time.Millisecond})
	}()

	// Nothing but the fake clock can end the request or the wait for
	// the server's counter.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case res := <-done:
			assert.True(t, res.Aborted)
			assert.Empty(t, res.Err)
			assert.Zero(t, res.ServerCancelled, "the counter never moved")
			assert.False(t, res.Passed())
			return
		case <-timeout:
			t.Fatal("disconnect and settle wait did not follow the injected clock")
		case <-time.After(2 * time.Millisecond):
			clock.Advance(50 * time.Millisecond)
		}
	}
}

func TestFormatProbe(t *testing.T) {
	tests := []struct {
		name  string
		probe ProbeResult
		want  string
	}{
		{
			name:  "aborted on both ends",
			probe: ProbeResult{Query: "Ezek", Delay: 2000, After: 100 * time.Millisecond, Elapsed: 101 * time.Millisecond, Aborted: true, ServerCancelled: 1},
			want:  "✓ server abandoned 1 search(es)",
		},
		{
			name:  "server kept working",
			probe: ProbeResult{Query: "Ezek", Delay: 2000, After: 100 * time.Millisecond, Aborted: true},
			want:  "✗ server did not record a cancelled search",
		},
		{
			name:  "metrics unavailable",
			probe: ProbeResult{Query: "Ezek", Delay: 2000, After: 100 * time.Millisecond, Aborted: true, ServerCancelled: -1},
			want:  "server cancellation unknown",
		},
		{
			name:  "response arrived",
			probe: ProbeResult{Query: "Ezek", Delay: 2000, After: 100 * time.Millisecond, StatusCode: 200},
			want:  "✗ response 200 arrived before the disconnect",
		},
		{
			name:  "request failed",
			probe: ProbeResult{Query: "Ezek", Delay: 2000, After: 100 * time.Millisecond, Err: "connection refused"},
			want:  "request failed: connection refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			FormatProbe(&buf, &tt.probe)
			assert.Contains(t, buf.String(), `Cancellation probe: "Ezek" with 2000ms delay, disconnect after 100ms`)
			assert.Contains(t, buf.String(), tt.want)
		})
	}

	var buf bytes.Buffer
	FormatProbe(&buf, nil)
	assert.Empty(t, buf.String())
}
