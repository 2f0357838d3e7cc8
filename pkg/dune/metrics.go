package dune

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tracking outcomes recorded by Metrics.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
	outcomeTimeout   = "timeout"
	outcomeError     = "error"
	outcomeAbandoned = "abandoned"
)

// Metrics holds Prometheus collectors for the client and tracker. A nil
// *Metrics records nothing.
type Metrics struct {
	requests         *prometheus.CounterVec
	polls            *prometheus.CounterVec
	outcomes         *prometheus.CounterVec
	trackingDuration prometheus.Histogram
}

// NewMetrics registers the collectors with r.
func NewMetrics(r prometheus.Registerer) *Metrics {
	return &Metrics{
		requests: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "dune_client_requests_total",
			Help: "Total number of API requests by operation and HTTP status code.",
		}, []string{"operation", "code"}),
		polls: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "dune_tracker_polls_total",
			Help: "Total number of status polls by reported state.",
		}, []string{"state"}),
		outcomes: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "dune_tracker_outcomes_total",
			Help: "Total number of tracking sessions by outcome.",
		}, []string{"outcome"}),
		trackingDuration: promauto.With(r).NewHistogram(prometheus.HistogramOpts{
			Name:    "dune_tracker_duration_seconds",
			Help:    "Time from the first poll until a tracking session ended.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
}

// observeRequest records one API call. code is "error" for transport failures.
func (m *Metrics) observeRequest(operation string, status int) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(operation, code).Inc()
}

func (m *Metrics) observePoll(state ExecutionState) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) observeOutcome(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
	m.trackingDuration.Observe(elapsed.Seconds())
}
