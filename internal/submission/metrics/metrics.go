package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the submission pipeline.
type Metrics struct {
	// Submission outcomes: accepted, rejected, network_error, validation_error, replayed
	Outcomes *prometheus.CounterVec

	// Round trip to the review boundary
	BoundaryLatency prometheus.Histogram

	// Evidence bytes uploaded per submission
	EvidenceBytes prometheus.Histogram
}

// New creates the submission metrics and registers them with the default registry.
func New() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "livecheck_submission_outcomes_total",
			Help: "Total submission attempts by outcome",
		}, []string{"outcome"}),

		BoundaryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "livecheck_submission_boundary_duration_seconds",
			Help:    "Duration of calls to the review boundary",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		EvidenceBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "livecheck_submission_evidence_bytes",
			Help:    "Size of the binary parts of a submission bundle",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
		}),
	}
}

// IncrementOutcome records a submission outcome.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome).Inc()
	}
}

// ObserveBoundaryLatency records one boundary round trip.
func (m *Metrics) ObserveBoundaryLatency(d time.Duration) {
	if m != nil {
		m.BoundaryLatency.Observe(d.Seconds())
	}
}

// ObserveEvidenceBytes records the payload size of a bundle.
func (m *Metrics) ObserveEvidenceBytes(n int) {
	if m != nil {
		m.EvidenceBytes.Observe(float64(n))
	}
}
