package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"searchflight/internal/core"
)

// FormatText writes metrics in human-readable format.
func FormatText(w io.Writer, m *Metrics, thresholds *ThresholdResults) {
	if m.TotalRequests == 0 && m.ConsistencyChecks == 0 {
		fmt.Fprintln(w, "No events collected")
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Searchstorm - Cancellation Run Results")
	fmt.Fprintln(w, "======================================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Duration:       %v\n", m.TestDuration.Round(time.Millisecond))
	fmt.Fprintf(w, "Total Requests: %s\n", formatNumber(m.TotalRequests))
	fmt.Fprintf(w, "Requests/sec:   %.1f\n", m.RequestsPerSec)
	fmt.Fprintf(w, "Error Rate:     %.1f%% (%s / %s)\n",
		m.ErrorRate, formatNumber(m.ErrorCount), formatNumber(m.TotalRequests))
	if m.Dropped > 0 {
		fmt.Fprintf(w, "Dropped Events: %s\n", formatNumber(m.Dropped))
	}
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Outcomes:")
	for _, k := range core.Kinds {
		fmt.Fprintf(w, "  %-9s %s\n", k.String()+":", formatNumber(m.Count(k)))
	}

	if m.SuccessCount > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Success Latency:")
		fmt.Fprintf(w, "  Min:    %s\n", FormatDuration(m.Success.Min))
		fmt.Fprintf(w, "  Avg:    %s\n", FormatDuration(m.Success.Avg))
		fmt.Fprintf(w, "  P50:    %s\n", FormatDuration(m.Success.P50))
		fmt.Fprintf(w, "  P90:    %s\n", FormatDuration(m.Success.P90))
		fmt.Fprintf(w, "  P95:    %s\n", FormatDuration(m.Success.P95))
		fmt.Fprintf(w, "  P99:    %s\n", FormatDuration(m.Success.P99))
		fmt.Fprintf(w, "  Max:    %s\n", FormatDuration(m.Success.Max))
	}

	if len(m.StatusCodes) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Status Codes:")
		codes := make([]int, 0, len(m.StatusCodes))
		for code := range m.StatusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Fprintf(w, "  %d: %s\n", code, formatNumber(m.StatusCodes[code]))
		}
	}

	if len(m.Errors) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Errors:")
		for msg, n := range m.Errors {
			fmt.Fprintf(w, "  %s x%d\n", msg, n)
		}
	}

	if len(m.Sessions) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "By Session:")
		for _, id := range m.sessionIDs() {
			sm := m.Sessions[id]
			fmt.Fprintf(w, "  #%-4d %s reqs   success=%d  error=%d  aborted=%d  outdated=%d\n",
				id, formatNumber(sm.Count), sm.Success, sm.Errors, sm.Aborted, sm.Outdated)
		}
	}

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Consistency:    %d/%d checks passed\n",
		m.ConsistencyChecks-len(m.ConsistencyFailures), m.ConsistencyChecks)
	for _, f := range m.ConsistencyFailures {
		fmt.Fprintf(w, "  ✗ session #%d %q: want %d users, got %d %s\n", f.Session, f.Query, f.Want, f.Got, f.Detail)
	}

	if thresholds != nil && len(thresholds.Results) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Thresholds:")
		for _, result := range thresholds.Results {
			symbol := "✓"
			if !result.Passed {
				symbol = "✗"
			}
			fmt.Fprintf(w, "  %s %s %s (actual: %s)\n",
				symbol, result.Name, result.Threshold, result.Actual)
		}
	}
}

// FormatJSON writes metrics in JSON format.
func FormatJSON(w io.Writer, m *Metrics, thresholds *ThresholdResults) {
	output := struct {
		Duration            string                     `json:"duration"`
		TotalRequests       int                        `json:"totalRequests"`
		Outcomes            map[core.Kind]int          `json:"outcomes"`
		ErrorRate           float64                    `json:"errorRate"`
		RequestsPerSec      float64                    `json:"requestsPerSec"`
		Dropped             int                        `json:"dropped,omitempty"`
		Success             jsonDurationMetrics        `json:"successLatency"`
		StatusCodes         map[int]int                `json:"statusCodes"`
		Errors              map[string]int             `json:"errors,omitempty"`
		Sessions            map[int]jsonSessionMetrics `json:"sessions"`
		ConsistencyChecks   int                        `json:"consistencyChecks"`
		ConsistencyFailures []jsonCheck                `json:"consistencyFailures,omitempty"`
		Thresholds          *ThresholdResults          `json:"thresholds,omitempty"`
	}{
		Duration:          m.TestDuration.Round(time.Millisecond).String(),
		TotalRequests:     m.TotalRequests,
		Outcomes:          make(map[core.Kind]int),
		ErrorRate:         m.ErrorRate,
		RequestsPerSec:    m.RequestsPerSec,
		Dropped:           m.Dropped,
		Success:           toJSONDurationMetrics(m.Success),
		StatusCodes:       m.StatusCodes,
		Errors:            m.Errors,
		Sessions:          make(map[int]jsonSessionMetrics),
		ConsistencyChecks: m.ConsistencyChecks,
		Thresholds:        thresholds,
	}

	for _, k := range core.Kinds {
		output.Outcomes[k] = m.Count(k)
	}
	for id, sm := range m.Sessions {
		output.Sessions[id] = jsonSessionMetrics(*sm)
	}
	for _, f := range m.ConsistencyFailures {
		output.ConsistencyFailures = append(output.ConsistencyFailures, jsonCheck{
			Session: f.Session, Query: f.Query, Want: f.Want, Got: f.Got, Detail: f.Detail,
		})
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(output) // stdout errors are unrecoverable
}

type jsonDurationMetrics struct {
	Min string `json:"min"`
	Max string `json:"max"`
	Avg string `json:"avg"`
	P50 string `json:"p50"`
	P90 string `json:"p90"`
	P95 string `json:"p95"`
	P99 string `json:"p99"`
}

type jsonSessionMetrics struct {
	Count    int `json:"count"`
	Success  int `json:"success"`
	Errors   int `json:"error"`
	Aborted  int `json:"aborted"`
	Outdated int `json:"outdated"`
}

type jsonCheck struct {
	Session int    `json:"session"`
	Query   string `json:"query"`
	Want    int    `json:"want"`
	Got     int    `json:"got"`
	Detail  string `json:"detail,omitempty"`
}

func toJSONDurationMetrics(d DurationMetrics) jsonDurationMetrics {
	return jsonDurationMetrics{
		Min: FormatDuration(d.Min),
		Max: FormatDuration(d.Max),
		Avg: FormatDuration(d.Avg),
		P50: FormatDuration(d.P50),
		P90: FormatDuration(d.P90),
		P95: FormatDuration(d.P95),
		P99: FormatDuration(d.P99),
	}
}

// FormatDuration formats a duration for display.
func FormatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

func formatNumber(n int) string {
	return humanize.Comma(int64(n))
}
