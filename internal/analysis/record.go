// Package analysis defines the durable record produced for every processed
// execution log.
package analysis

import (
	"time"

	"github.com/ocx/uaal/internal/drift"
	"github.com/ocx/uaal/internal/intent"
	"github.com/ocx/uaal/internal/policy"
	"github.com/ocx/uaal/internal/risk"
)

// Outcome is the terminal state of the pipeline for one log.
type Outcome string

const (
	OutcomeRecorded Outcome = "RECORDED"
	OutcomeBlocked  Outcome = "BLOCKED"
)

// AmountField is the parameter that carries monetary exposure.
const AmountField = "amount"

// Record is created once per processed log and never mutated afterwards.
type Record struct {
	Timestamp       time.Time               `json:"timestamp"`
	UserID          string                  `json:"userId,omitempty"`
	CoreIntentHash  string                  `json:"coreIntentHash"`
	PayloadHash     string                  `json:"payloadHash"`
	CoreIntent      intent.CoreIntent       `json:"coreIntent"`
	Payload         map[string]any          `json:"payload"`
	HasDrift        bool                    `json:"hasDrift"`
	DriftMetrics    []drift.Metric          `json:"driftMetrics"`
	RiskLevel       drift.Level             `json:"riskLevel"`
	PolicyDecision  policy.Decision         `json:"policyDecision"`
	PolicyVersion   string                  `json:"policyVersion"`
	ViolatedRules   []policy.Violation      `json:"violatedRules"`
	AggregateRisk   drift.Level             `json:"aggregateRisk"`
	RiskEvidence    []risk.Evidence         `json:"riskEvidence"`
	ZScore          float64                 `json:"zScore"`
	Coordinated     *risk.CoordinatedSignal `json:"coordinated,omitempty"`
	Outcome         Outcome                 `json:"outcome"`
	DetectionTimeMs float64                 `json:"detectionTimeMs"`
}

// Clone returns a deep copy sharing no maps, slices or pointers with r.
func (r Record) Clone() Record {
	out := r
	out.CoreIntent.NormalizedParams = intent.CloneParams(r.CoreIntent.NormalizedParams)
	out.Payload = intent.CloneParams(r.Payload)
	if r.DriftMetrics != nil {
		out.DriftMetrics = make([]drift.Metric, len(r.DriftMetrics))
		for i, m := range r.DriftMetrics {
			m.CoreValue = intent.CloneValue(m.CoreValue)
			m.PayloadValue = intent.CloneValue(m.PayloadValue)
			if m.DeltaPercent != nil {
				d := *m.DeltaPercent
				m.DeltaPercent = &d
			}
			out.DriftMetrics[i] = m
		}
	}
	if r.ViolatedRules != nil {
		out.ViolatedRules = append([]policy.Violation{}, r.ViolatedRules...)
	}
	if r.RiskEvidence != nil {
		out.RiskEvidence = append([]risk.Evidence{}, r.RiskEvidence...)
	}
	if r.Coordinated != nil {
		c := *r.Coordinated
		out.Coordinated = &c
	}
	return out
}

// Action is the tool action of the analysed log.
func (r Record) Action() string { return r.CoreIntent.Action }

// Denied reports whether policy evaluation denied the action.
func (r Record) Denied() bool { return r.PolicyDecision == policy.DecisionDeny }

// CoreAmount is the normalized amount the agent declared, if numeric.
func (r Record) CoreAmount() (float64, bool) {
	return Amount(r.CoreIntent.NormalizedParams)
}

// PayloadAmount is the amount actually submitted, if numeric.
func (r Record) PayloadAmount() (float64, bool) {
	return Amount(r.Payload)
}

// AmountDelta is the amount field's delta percentage when it inflated.
func (r Record) AmountDelta() *float64 {
	return drift.FieldDelta(r.DriftMetrics, AmountField)
}

// Amount reads the numeric amount field from params.
func Amount(params map[string]any) (float64, bool) {
	v, ok := params[AmountField]
	if !ok {
		return 0, false
	}
	return intent.Number(v)
}
