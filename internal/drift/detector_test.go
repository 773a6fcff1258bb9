package drift

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/uaal/internal/intent"
)

func core(params map[string]any) intent.CoreIntent {
	return intent.CoreIntent{Action: "approve_loan", NormalizedParams: params}
}

func TestAnalyze_NoDrift(t *testing.T) {
	d := NewDetector(DefaultThresholds)
	params := map[string]any{"amount": 250000.0, "borrower": "acme corp", "secured": true}

	res := d.Analyze(core(params), map[string]any{"amount": 250000.0, "borrower": "acme corp", "secured": true})

	assert.False(t, res.HasDrift)
	assert.Empty(t, res.Metrics)
	assert.Equal(t, Low, res.RiskLevel)
}

func TestAnalyze_MagnitudeInflation(t *testing.T) {
	d := NewDetector(DefaultThresholds)

	res := d.Analyze(core(map[string]any{"amount": 250000.0}), map[string]any{"amount": 2500000.0})

	require.Len(t, res.Metrics, 1)
	m := res.Metrics[0]
	assert.Equal(t, MagnitudeInflation, m.Type)
	require.NotNil(t, m.DeltaPercent)
	assert.InDelta(t, 900.0, *m.DeltaPercent, 1e-9)
	assert.Equal(t, High, res.RiskLevel)
}

func TestAnalyze_StaticThresholdsEscalateToCritical(t *testing.T) {
	d := NewDetector(StaticThresholds)

	res := d.Analyze(core(map[string]any{"amount": 250000.0}), map[string]any{"amount": 2500000.0})

	assert.Equal(t, Critical, res.RiskLevel)
}

func TestAnalyze_TierLadder(t *testing.T) {
	d := NewDetector(DefaultThresholds)
	tests := []struct {
		payload float64
		want    Level
	}{
		{105, Low},       // 5%
		{115, Medium},    // 15%
		{250, High},      // 150%
		{2000, Critical}, // 1900%
		{50, Medium},     // -50%
	}
	for _, tt := range tests {
		res := d.Analyze(core(map[string]any{"amount": 100.0}), map[string]any{"amount": tt.payload})
		assert.Equal(t, tt.want, res.RiskLevel, "payload %v", tt.payload)
		assert.True(t, res.HasDrift)
	}
}

func TestAnalyze_ZeroCoreIsCritical(t *testing.T) {
	d := NewDetector(DefaultThresholds)

	res := d.Analyze(core(map[string]any{"fee": 0.0}), map[string]any{"fee": 10.0})

	require.Len(t, res.Metrics, 1)
	assert.Equal(t, MagnitudeInflation, res.Metrics[0].Type)
	assert.Nil(t, res.Metrics[0].DeltaPercent)
	assert.Equal(t, Critical, res.RiskLevel)
}

func TestAnalyze_UnauthorizedField(t *testing.T) {
	d := NewDetector(DefaultThresholds)

	res := d.Analyze(core(map[string]any{"amount": 10.0}), map[string]any{"amount": 10.0, "bypass_kyc": true})

	require.Len(t, res.Metrics, 1)
	assert.Equal(t, UnauthorizedField, res.Metrics[0].Type)
	assert.Equal(t, "bypass_kyc", res.Metrics[0].Field)
	assert.Nil(t, res.Metrics[0].CoreValue)
	assert.Equal(t, High, res.RiskLevel)
}

func TestAnalyze_TypeMismatchAndValueChange(t *testing.T) {
	d := NewDetector(DefaultThresholds)

	res := d.Analyze(
		core(map[string]any{"amount": 10.0, "borrower": "acme corp"}),
		map[string]any{"amount": "10", "borrower": "Acme Corp"},
	)

	require.Len(t, res.Metrics, 2)
	assert.Equal(t, "amount", res.Metrics[0].Field)
	assert.Equal(t, TypeMismatch, res.Metrics[0].Type)
	assert.Equal(t, "borrower", res.Metrics[1].Field)
	assert.Equal(t, ValueChange, res.Metrics[1].Type)
	assert.Equal(t, High, res.RiskLevel)
}

func TestAnalyze_RiskNeverDecreases(t *testing.T) {
	d := NewDetector(DefaultThresholds)

	// A critical inflation followed (in key order) by a medium value change.
	res := d.Analyze(
		core(map[string]any{"amount": 1.0, "zone": "eu"}),
		map[string]any{"amount": 100.0, "zone": "us"},
	)

	assert.Equal(t, Critical, res.RiskLevel)
}

func TestMaxDelta(t *testing.T) {
	a, b := 50.0, -20.0
	v, ok := MaxDelta([]Metric{
		{Type: MagnitudeInflation, DeltaPercent: &a},
		{Type: MagnitudeInflation, DeltaPercent: &b},
		{Type: ValueChange},
	})
	assert.True(t, ok)
	assert.Equal(t, 50.0, v)

	v, ok = MaxDelta([]Metric{{Type: MagnitudeInflation}})
	assert.True(t, ok)
	assert.True(t, math.IsInf(v, 1))

	_, ok = MaxDelta(nil)
	assert.False(t, ok)
}

func TestLevel_TextRoundTrip(t *testing.T) {
	for _, l := range []Level{Low, Medium, High, Critical} {
		b, err := l.MarshalText()
		require.NoError(t, err)
		var got Level
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, l, got)
	}
	var bad Level
	assert.Error(t, bad.UnmarshalText([]byte("SEVERE")))
}

func TestDeltaPercentProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	d := NewDetector(DefaultThresholds)

	properties.Property("delta percent is exact for non-zero core", prop.ForAll(
		func(c, p float64) bool {
			if c == 0 || c == p {
				return true
			}
			res := d.Analyze(core(map[string]any{"amount": c}), map[string]any{"amount": p})
			if len(res.Metrics) != 1 || res.Metrics[0].DeltaPercent == nil {
				return false
			}
			want := (p - c) / c * 100
			return *res.Metrics[0].DeltaPercent == want &&
				res.RiskLevel == DefaultThresholds.Tier(math.Abs(want))
		},
		gen.Float64Range(-1e6, 1e6),
		gen.Float64Range(-1e6, 1e6),
	))

	properties.Property("tier is monotonic in absolute delta", prop.ForAll(
		func(a, b float64) bool {
			lo, hi := math.Min(a, b), math.Max(a, b)
			return DefaultThresholds.Tier(lo) <= DefaultThresholds.Tier(hi)
		},
		gen.Float64Range(0, 5000),
		gen.Float64Range(0, 5000),
	))

	properties.Property("unauthorized field always yields at least HIGH", prop.ForAll(
		func(field string, amount float64) bool {
			if field == "" || field == "amount" {
				return true
			}
			res := d.Analyze(core(map[string]any{"amount": amount}), map[string]any{"amount": amount, field: 1})
			return res.RiskLevel >= High
		},
		gen.AlphaString(),
		gen.Float64Range(-1e6, 1e6),
	))

	properties.TestingRun(t)
}
