package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ocx/uaal/internal/analysis"
	"github.com/ocx/uaal/internal/drift"
	"github.com/ocx/uaal/internal/intent"
	"github.com/ocx/uaal/internal/policy"
	"github.com/ocx/uaal/internal/risk"
)

func TestObserveRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRecord(analysis.Record{
		CoreIntent:     intent.CoreIntent{Action: "approve_loan"},
		RiskLevel:      drift.High,
		PolicyDecision: policy.DecisionDeny,
		AggregateRisk:  drift.Medium,
		DriftMetrics: []drift.Metric{
			{Field: "amount", Type: drift.MagnitudeInflation},
			{Field: "memo", Type: drift.UnauthorizedField},
		},
		Coordinated:     &risk.CoordinatedSignal{Detected: true, EntityCount: 3},
		Outcome:         analysis.OutcomeBlocked,
		DetectionTimeMs: 2,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("HIGH", "DENY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AggregateRisk.WithLabelValues("MEDIUM")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DriftMetrics.WithLabelValues("MAGNITUDE_INFLATION")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DriftMetrics.WithLabelValues("UNAUTHORIZED_FIELD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CoordinatedHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BlockedTotal.WithLabelValues("approve_loan")))
}

func TestObserveSinkAndRejected(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveSink("webhook", "error")
	m.ObserveSink("webhook", "error")
	m.ObserveRejected("toolCall")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SinkDeliveries.WithLabelValues("webhook", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RejectedLogs.WithLabelValues("toolCall")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRecord(analysis.Record{})
		m.ObserveSink("webhook", "ok")
		m.ObserveRejected("params")
	})
}
