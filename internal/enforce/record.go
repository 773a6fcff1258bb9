package enforce

import (
	"time"

	"github.com/google/uuid"

	"github.com/ocx/uaal/internal/analysis"
	"github.com/ocx/uaal/internal/drift"
	"github.com/ocx/uaal/internal/events"
	"github.com/ocx/uaal/internal/policy"
)

// DecisionRecord is what sinks receive for every analysed action.
type DecisionRecord struct {
	ID             string          `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	Action         string          `json:"action"`
	UserID         string          `json:"userId,omitempty"`
	Decision       policy.Decision `json:"decision"`
	RiskLevel      drift.Level     `json:"riskLevel"`
	AggregateRisk  drift.Level     `json:"aggregateRisk"`
	CoreIntentHash string          `json:"coreIntentHash"`
	PayloadHash    string          `json:"payloadHash"`
	Mode           Mode            `json:"mode"`
	Blocked        bool            `json:"blocked"`
	ViolatedRules  []string        `json:"violatedRules,omitempty"`
}

func newDecisionRecord(rec analysis.Record, mode Mode, blocked bool) DecisionRecord {
	rules := make([]string, 0, len(rec.ViolatedRules))
	for _, v := range rec.ViolatedRules {
		rules = append(rules, v.Name)
	}
	return DecisionRecord{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		Action:         rec.Action(),
		UserID:         rec.UserID,
		Decision:       rec.PolicyDecision,
		RiskLevel:      rec.RiskLevel,
		AggregateRisk:  rec.AggregateRisk,
		CoreIntentHash: rec.CoreIntentHash,
		PayloadHash:    rec.PayloadHash,
		Mode:           mode,
		Blocked:        blocked,
		ViolatedRules:  rules,
	}
}

// EventType maps the record onto a decision event type.
func (d DecisionRecord) EventType() string {
	switch {
	case d.Blocked:
		return events.TypeDecisionBlocked
	case d.Decision == policy.DecisionDeny:
		return events.TypeDecisionDeny
	default:
		return events.TypeDecisionAllow
	}
}
