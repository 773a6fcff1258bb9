// Package metrics exposes Prometheus collectors for the firewall.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ocx/uaal/internal/analysis"
)

// Metrics holds all Prometheus metrics for the intent firewall
type Metrics struct {
	// Pipeline metrics
	AnalysesTotal   *prometheus.CounterVec
	DetectionTime   prometheus.Histogram
	DriftMetrics    *prometheus.CounterVec
	AggregateRisk   *prometheus.CounterVec
	BlockedTotal    *prometheus.CounterVec
	CoordinatedHits prometheus.Counter
	RejectedLogs    *prometheus.CounterVec

	// Sink metrics
	SinkDeliveries *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AnalysesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uaal_analyses_total",
				Help: "Execution logs analysed, by static risk tier and policy decision",
			},
			[]string{"risk_level", "decision"},
		),

		DetectionTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "uaal_detection_duration_seconds",
				Help:    "Time from receiving a log to producing its analysis record",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),

		DriftMetrics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uaal_drift_metrics_total",
				Help: "Discrepant fields found, by drift type",
			},
			[]string{"drift_type"},
		),

		AggregateRisk: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uaal_aggregate_risk_total",
				Help: "Aggregated risk verdicts",
			},
			[]string{"risk_level"},
		),

		BlockedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uaal_blocked_total",
				Help: "Actions blocked in enforce mode",
			},
			[]string{"action"},
		),

		CoordinatedHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "uaal_coordinated_detections_total",
				Help: "Analyses where coordinated drift was detected",
			},
		),

		RejectedLogs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uaal_rejected_logs_total",
				Help: "Execution logs rejected before analysis",
			},
			[]string{"field"},
		),

		SinkDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uaal_sink_deliveries_total",
				Help: "Decision record deliveries, by sink and result",
			},
			[]string{"sink", "result"}, // result: ok, error, skipped
		),
	}
}

// ObserveRecord counts one finished analysis.
func (m *Metrics) ObserveRecord(rec analysis.Record) {
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues(rec.RiskLevel.String(), string(rec.PolicyDecision)).Inc()
	m.AggregateRisk.WithLabelValues(rec.AggregateRisk.String()).Inc()
	m.DetectionTime.Observe(rec.DetectionTimeMs / 1000)
	for _, dm := range rec.DriftMetrics {
		m.DriftMetrics.WithLabelValues(string(dm.Type)).Inc()
	}
	if rec.Coordinated != nil && rec.Coordinated.Detected {
		m.CoordinatedHits.Inc()
	}
	if rec.Outcome == analysis.OutcomeBlocked {
		m.BlockedTotal.WithLabelValues(rec.Action()).Inc()
	}
}

// ObserveRejected counts a log that failed validation on field.
func (m *Metrics) ObserveRejected(field string) {
	if m == nil {
		return
	}
	m.RejectedLogs.WithLabelValues(field).Inc()
}

// ObserveSink counts one sink delivery attempt.
func (m *Metrics) ObserveSink(sink, result string) {
	if m == nil {
		return
	}
	m.SinkDeliveries.WithLabelValues(sink, result).Inc()
}
