package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the search endpoint's Prometheus collectors.
type Metrics struct {
	Requests     *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
	InFlight     prometheus.Gauge
	CancelAcks   prometheus.Counter
	ResultsTotal prometheus.Histogram
}

// NewMetrics registers the collectors with reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "searchflight",
			Name:      "search_requests_total",
			Help:      "Search requests by final handler state.",
		}, []string{"state"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "searchflight",
			Name:      "search_duration_seconds",
			Help:      "Search handling time by final handler state, including artificial delay.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"state"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "searchflight",
			Name:      "search_in_flight",
			Help:      "Search requests currently being handled.",
		}),
		CancelAcks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "searchflight",
			Name:      "search_cancel_acks_total",
			Help:      "Cancellation acknowledgements (499) written to disconnected peers.",
		}),
		ResultsTotal: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "searchflight",
			Name:      "search_results",
			Help:      "Number of users returned per successful search.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),
	}
}

func (m *Metrics) observe(state State, elapsed time.Duration) {
	label := state.String()
	m.Requests.WithLabelValues(label).Inc()
	m.Duration.WithLabelValues(label).Observe(elapsed.Seconds())
}
