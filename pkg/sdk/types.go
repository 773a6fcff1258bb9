package sdk

import "time"

// Decision constants returned by the firewall's policy evaluation.
const (
	DecisionAllow = "ALLOW"
	DecisionDeny  = "DENY"
)

// Outcome constants for a processed tool call.
const (
	// OutcomeRecorded means the call may proceed. In shadow mode this
	// includes denied calls.
	OutcomeRecorded = "RECORDED"

	// OutcomeBlocked means enforce mode rejected the call. Do NOT execute it.
	OutcomeBlocked = "BLOCKED"
)

// ToolCall is what the SDK sends to the firewall before executing a tool.
type ToolCall struct {
	// Prompt is the instruction the agent acted on. Amounts and names stated
	// here are the agent's declared intent.
	Prompt string `json:"prompt"`

	// ToolCall is the tool being called (e.g. "approve_loan", "transfer_funds")
	ToolCall string `json:"toolCall"`

	// Params are the arguments the agent is about to submit
	Params map[string]interface{} `json:"params"`

	// UserID is the entity the action is performed for; enables per-user
	// baselines and coordinated drift detection
	UserID string `json:"userId,omitempty"`

	// Timestamp of the attempt
	Timestamp string `json:"timestamp,omitempty"`

	Executed bool `json:"executed"`
}

// Violation names one policy rule the call broke.
type Violation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Reason  string `json:"reason,omitempty"`
}

// Verdict is the subset of the firewall's analysis an agent acts on.
type Verdict struct {
	CoreIntentHash string      `json:"coreIntentHash"`
	PayloadHash    string      `json:"payloadHash"`
	HasDrift       bool        `json:"hasDrift"`
	RiskLevel      string      `json:"riskLevel"`
	AggregateRisk  string      `json:"aggregateRisk"`
	PolicyDecision string      `json:"policyDecision"`
	PolicyVersion  string      `json:"policyVersion"`
	ViolatedRules  []Violation `json:"violatedRules"`
	Outcome        string      `json:"outcome"`
	Timestamp      time.Time   `json:"timestamp"`

	// Reason is set when the call was blocked.
	Reason string `json:"-"`
}

// Blocked reports whether the firewall rejected the call.
func (v *Verdict) Blocked() bool { return v.Outcome == OutcomeBlocked }
