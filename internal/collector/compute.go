package collector

import (
	"slices"
	"sort"
	"time"

	"searchflight/internal/core"
)

// Metrics contains aggregated run results.
type Metrics struct {
	TotalRequests  int
	SuccessCount   int
	ErrorCount     int
	AbortedCount   int
	OutdatedCount  int
	ErrorRate      float64 // errors as a percentage of all requests
	RequestsPerSec float64
	TestDuration   time.Duration
	Dropped        int

	// Success holds latency statistics for successful requests only;
	// aborted requests end when they are cancelled, not when served.
	Success DurationMetrics

	StatusCodes map[int]int
	Errors      map[string]int
	Sessions    map[int]*SessionMetrics

	ConsistencyChecks   int
	ConsistencyFailures []Check
}

// Count returns the number of outcomes of kind k.
func (m *Metrics) Count(k core.Kind) int {
	switch k {
	case core.KindSuccess:
		return m.SuccessCount
	case core.KindError:
		return m.ErrorCount
	case core.KindAborted:
		return m.AbortedCount
	case core.KindOutdated:
		return m.OutdatedCount
	default:
		return 0
	}
}

// Consistent reports whether every consistency check passed.
func (m *Metrics) Consistent() bool {
	return len(m.ConsistencyFailures) == 0
}

// DurationMetrics contains latency statistics.
type DurationMetrics struct {
	Min time.Duration
	Max time.Duration
	Avg time.Duration
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// SessionMetrics contains per-session outcome counts.
type SessionMetrics struct {
	Count    int
	Success  int
	Errors   int
	Aborted  int
	Outdated int
}

// ComputeMetrics computes metrics from events and checks. Pure function,
// no side effects.
func ComputeMetrics(events []core.Event, checks []Check, testDuration time.Duration) *Metrics {
	m := &Metrics{
		TestDuration: testDuration,
		StatusCodes:  make(map[int]int),
		Errors:       make(map[string]int),
		Sessions:     make(map[int]*SessionMetrics),
	}

	var successDurations []time.Duration
	for _, e := range events {
		m.TotalRequests++

		sm, ok := m.Sessions[e.Session]
		if !ok {
			sm = &SessionMetrics{}
			m.Sessions[e.Session] = sm
		}
		sm.Count++

		switch e.Kind {
		case core.KindSuccess:
			m.SuccessCount++
			sm.Success++
			successDurations = append(successDurations, e.Duration)
		case core.KindError:
			m.ErrorCount++
			sm.Errors++
			m.Errors[e.Message]++
		case core.KindAborted:
			m.AbortedCount++
			sm.Aborted++
		case core.KindOutdated:
			m.OutdatedCount++
			sm.Outdated++
		}
		if e.StatusCode != 0 {
			m.StatusCodes[e.StatusCode]++
		}
	}

	if m.TotalRequests > 0 {
		m.ErrorRate = float64(m.ErrorCount) / float64(m.TotalRequests) * 100
	}
	if testDuration > 0 {
		m.RequestsPerSec = float64(m.TotalRequests) / testDuration.Seconds()
	}
	m.Success = ComputeDurationMetrics(successDurations)

	m.ConsistencyChecks = len(checks)
	for _, c := range checks {
		if !c.Passed {
			m.ConsistencyFailures = append(m.ConsistencyFailures, c)
		}
	}
	return m
}

// ComputePercentile returns the nearest-rank percentile p (0..1) of a
// slice sorted in ascending order.
func ComputePercentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	return sorted[int(float64(len(sorted)-1)*p)]
}

// ComputeDurationMetrics calculates all duration statistics from a slice of durations.
func ComputeDurationMetrics(durations []time.Duration) DurationMetrics {
	if len(durations) == 0 {
		return DurationMetrics{}
	}

	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	return DurationMetrics{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: total / time.Duration(len(sorted)),
		P50: ComputePercentile(sorted, 0.50),
		P90: ComputePercentile(sorted, 0.90),
		P95: ComputePercentile(sorted, 0.95),
		P99: ComputePercentile(sorted, 0.99),
	}
}

// sessionIDs returns session ids in ascending order.
func (m *Metrics) sessionIDs() []int {
	ids := make([]int, 0, len(m.Sessions))
	for id := range m.Sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
