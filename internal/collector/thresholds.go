package collector

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Thresholds defines pass/fail criteria for a run.
type Thresholds struct {
	// MaxErrorRate is a percentage such as "1%". Errors exclude aborted
	// and outdated outcomes, which are expected under rapid input.
	MaxErrorRate string `yaml:"maxErrorRate"`
	// SuccessP95 bounds the p95 latency of successful requests.
	SuccessP95 time.Duration `yaml:"successP95"`
	// RequireConsistent fails the run on any consistency check failure.
	RequireConsistent bool `yaml:"requireConsistent"`
}

// Validate checks threshold syntax.
func (t *Thresholds) Validate() error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.MaxErrorRate != "" {
		if rate, err := parsePercentage(t.MaxErrorRate); err != nil {
			errs = append(errs, fmt.Errorf("maxErrorRate: %w", err))
		} else if rate < 0 || rate > 100 {
			errs = append(errs, fmt.Errorf("maxErrorRate: %s out of range", t.MaxErrorRate))
		}
	}
	if t.SuccessP95 < 0 {
		errs = append(errs, fmt.Errorf("successP95: must be >= 0, got %v", t.SuccessP95))
	}
	return errors.Join(errs...)
}

// ThresholdResult represents the outcome of a single threshold check.
type ThresholdResult struct {
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Threshold string `json:"threshold"`
	Actual    string `json:"actual"`
}

// ThresholdResults contains all threshold check results.
type ThresholdResults struct {
	Passed  bool              `json:"passed"`
	Results []ThresholdResult `json:"results"`
}

// Check evaluates all thresholds against computed metrics.
func (t *Thresholds) Check(m *Metrics) *ThresholdResults {
	results := &ThresholdResults{Passed: true}
	if t == nil {
		return results
	}

	if t.MaxErrorRate != "" {
		if limit, err := parsePercentage(t.MaxErrorRate); err == nil {
			results.Add(ThresholdResult{
				Name:      "error_rate",
				Passed:    m.ErrorRate <= limit,
				Threshold: "<= " + t.MaxErrorRate,
				Actual:    fmt.Sprintf("%.2f%%", m.ErrorRate),
			})
		}
	}

	if t.SuccessP95 > 0 {
		results.Add(ThresholdResult{
			Name:      "success_latency.p95",
			Passed:    m.Success.P95 < t.SuccessP95,
			Threshold: "< " + FormatDuration(t.SuccessP95),
			Actual:    FormatDuration(m.Success.P95),
		})
	}

	if t.RequireConsistent {
		results.Add(ThresholdResult{
			Name:      "consistency",
			Passed:    m.Consistent(),
			Threshold: "0 failures",
			Actual:    fmt.Sprintf("%d failures", len(m.ConsistencyFailures)),
		})
	}

	return results
}

// Add appends a result; a failing one fails the whole set.
func (r *ThresholdResults) Add(result ThresholdResult) {
	if !result.Passed {
		r.Passed = false
	}
	r.Results = append(r.Results, result)
}

// Violations returns only the failed threshold results.
func (r *ThresholdResults) Violations() []ThresholdResult {
	violations := make([]ThresholdResult, 0)
	for _, result := range r.Results {
		if !result.Passed {
			violations = append(violations, result)
		}
	}
	return violations
}

func parsePercentage(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "%") {
		return 0, fmt.Errorf("invalid percentage format: %s", s)
	}
	return strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
}
