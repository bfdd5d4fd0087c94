package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for verification sessions and their runs.
type Metrics struct {
	SessionsStarted prometheus.Counter

	// Sessions ended by terminal phase and reason
	SessionsEnded *prometheus.CounterVec

	// Capture runs currently sampling frames
	ActiveRuns prometheus.Gauge

	// Challenge outcomes by kind and status (completed, timed_out)
	ChallengeOutcomes *prometheus.CounterVec
	ChallengeDuration *prometheus.HistogramVec

	ScanDuration prometheus.Histogram
	ScanScores   *prometheus.HistogramVec

	// Decisions by result and failure reason
	Decisions *prometheus.CounterVec
}

// New creates the verification metrics and registers them with the default registry.
func New() *Metrics {
	scoreBuckets := prometheus.LinearBuckets(0, 10, 11)
	return &Metrics{
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "livecheck_sessions_started_total",
			Help: "Total verification sessions started",
		}),
		SessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "livecheck_sessions_ended_total",
			Help: "Total verification sessions that reached a terminal phase",
		}, []string{"phase", "reason"}),
		ActiveRuns: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "livecheck_capture_runs_active",
			Help: "Capture runs currently sampling frames",
		}),
		ChallengeOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "livecheck_challenge_outcomes_total",
			Help: "Liveness challenge outcomes by kind and status",
		}, []string{"kind", "status"}),
		ChallengeDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livecheck_challenge_duration_seconds",
			Help:    "Time spent per liveness challenge",
			Buckets: []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10},
		}, []string{"kind"}),
		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "livecheck_scan_duration_seconds",
			Help:    "Duration of complete face geometry scans",
			Buckets: []float64{2, 5, 8, 10, 12, 15, 20, 30},
		}),
		ScanScores: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livecheck_scan_score",
			Help:    "Scan-local liveness and quality scores",
			Buckets: scoreBuckets,
		}, []string{"score"}),
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "livecheck_decisions_total",
			Help: "Verification decisions by result",
		}, []string{"result", "reason"}),
	}
}

func (m *Metrics) IncrementSessionsStarted() {
	if m != nil {
		m.SessionsStarted.Inc()
	}
}

func (m *Metrics) IncrementSessionsEnded(phase, reason string) {
	if m != nil {
		m.SessionsEnded.WithLabelValues(phase, reason).Inc()
	}
}

func (m *Metrics) RunStarted() {
	if m != nil {
		m.ActiveRuns.Inc()
	}
}

func (m *Metrics) RunFinished() {
	if m != nil {
		m.ActiveRuns.Dec()
	}
}

// ObserveChallenge records one challenge outcome.
func (m *Metrics) ObserveChallenge(kind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ChallengeOutcomes.WithLabelValues(kind, status).Inc()
	m.ChallengeDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveScan records a finished scan.
func (m *Metrics) ObserveScan(d time.Duration, liveness, quality float64) {
	if m == nil {
		return
	}
	m.ScanDuration.Observe(d.Seconds())
	m.ScanScores.WithLabelValues("liveness").Observe(liveness)
	m.ScanScores.WithLabelValues("quality").Observe(quality)
}

// IncrementDecision records a decision. reasons may be empty for a pass.
func (m *Metrics) IncrementDecision(passed bool, reasons []string) {
	if m == nil {
		return
	}
	if passed {
		m.Decisions.WithLabelValues("passed", "").Inc()
		return
	}
	for _, r := range reasons {
		m.Decisions.WithLabelValues("failed", r).Inc()
	}
}
