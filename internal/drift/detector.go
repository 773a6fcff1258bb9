// Package drift compares an agent's core intent against the payload it
// actually submitted and classifies every discrepancy.
package drift

import (
	"math"
	"reflect"
	"sort"

	"github.com/ocx/uaal/internal/intent"
)

// Type classifies a single discrepancy.
type Type string

const (
	ValueChange        Type = "VALUE_CHANGE"
	MagnitudeInflation Type = "MAGNITUDE_INFLATION"
	TypeMismatch       Type = "TYPE_MISMATCH"
	UnauthorizedField  Type = "UNAUTHORIZED_FIELD"
)

// Metric describes one discrepant field. CoreValue is nil for
// UNAUTHORIZED_FIELD. DeltaPercent is nil when the core value is zero.
type Metric struct {
	Field        string   `json:"field"`
	CoreValue    any      `json:"coreValue,omitempty"`
	PayloadValue any      `json:"payloadValue"`
	Type         Type     `json:"driftType"`
	DeltaPercent *float64 `json:"deltaPercent,omitempty"`
}

// Result is the outcome of comparing one intent with one payload.
type Result struct {
	HasDrift  bool     `json:"hasDrift"`
	Metrics   []Metric `json:"metrics"`
	RiskLevel Level    `json:"riskLevel"`
}

// Thresholds are the absolute delta percentages above which a magnitude
// inflation escalates to the named tier.
type Thresholds struct {
	Medium   float64 `yaml:"medium" json:"medium"`
	High     float64 `yaml:"high" json:"high"`
	Critical float64 `yaml:"critical" json:"critical"`
}

var (
	// DefaultThresholds is the canonical 10/100/1000 ladder.
	DefaultThresholds = Thresholds{Medium: 10, High: 100, Critical: 1000}

	// StaticThresholds escalates straight to CRITICAL above 100%, as the
	// standalone static drift scan does.
	StaticThresholds = Thresholds{Medium: 10, High: 100, Critical: 100}
)

// Tier maps an absolute delta percentage onto a risk tier.
func (t Thresholds) Tier(absDelta float64) Level {
	switch {
	case absDelta > t.Critical:
		return Critical
	case absDelta > t.High:
		return High
	case absDelta > t.Medium:
		return Medium
	default:
		return Low
	}
}

// Detector compares core intents with submitted payloads.
type Detector struct {
	thresholds Thresholds
}

// NewDetector creates a detector using the given thresholds.
func NewDetector(t Thresholds) *Detector {
	return &Detector{thresholds: t}
}

// Thresholds returns the detector's escalation ladder.
func (d *Detector) Thresholds() Thresholds {
	return d.thresholds
}

// Analyze returns every discrepancy between core and payload. Unauthorized
// fields are reported first, then changed core fields, each in key order.
func (d *Detector) Analyze(core intent.CoreIntent, payload map[string]any) Result {
	metrics := make([]Metric, 0)
	risk := Low

	for _, key := range sortedKeys(payload) {
		if _, ok := core.NormalizedParams[key]; ok {
			continue
		}
		metrics = append(metrics, Metric{
			Field:        key,
			PayloadValue: payload[key],
			Type:         UnauthorizedField,
		})
		risk = Max(risk, High)
	}

	for _, key := range sortedKeys(core.NormalizedParams) {
		coreVal := core.NormalizedParams[key]
		payloadVal, present := payload[key]

		c, coreNumeric := intent.Number(coreVal)
		p, payloadNumeric := intent.Number(payloadVal)

		switch {
		case coreNumeric && payloadNumeric && present:
			if c == p {
				continue
			}
			m := Metric{Field: key, CoreValue: coreVal, PayloadValue: payloadVal, Type: MagnitudeInflation}
			if c == 0 {
				// The percentage is unbounded; treat it as the worst tier.
				risk = Max(risk, Critical)
			} else {
				delta := (p - c) / c * 100
				m.DeltaPercent = &delta
				risk = Max(risk, d.thresholds.Tier(math.Abs(delta)))
			}
			metrics = append(metrics, m)

		case present && reflect.DeepEqual(coreVal, payloadVal):
			continue

		case !present || intent.Kind(coreVal) != intent.Kind(payloadVal):
			metrics = append(metrics, Metric{Field: key, CoreValue: coreVal, PayloadValue: payloadVal, Type: TypeMismatch})
			risk = Max(risk, High)

		default:
			metrics = append(metrics, Metric{Field: key, CoreValue: coreVal, PayloadValue: payloadVal, Type: ValueChange})
			risk = Max(risk, Medium)
		}
	}

	return Result{HasDrift: len(metrics) > 0, Metrics: metrics, RiskLevel: risk}
}

// MaxDelta returns the largest delta percentage among magnitude inflations.
// A zero-core inflation counts as +Inf. The second result is false when
// there is no magnitude inflation at all.
func MaxDelta(metrics []Metric) (float64, bool) {
	found := false
	best := math.Inf(-1)
	for _, m := range metrics {
		if m.Type != MagnitudeInflation {
			continue
		}
		found = true
		v := math.Inf(1)
		if m.DeltaPercent != nil {
			v = *m.DeltaPercent
		}
		if v > best {
			best = v
		}
	}
	if !found {
		return 0, false
	}
	return best, true
}

// FieldDelta returns the delta percentage reported for field, if any.
func FieldDelta(metrics []Metric, field string) *float64 {
	for _, m := range metrics {
		if m.Field == field {
			return m.DeltaPercent
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
