// Package report derives summaries, simulations and exports from analysis
// records. Every function here is a pure query over its input.
package report

import (
	"sort"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/ocx/uaal/internal/analysis"
	"github.com/ocx/uaal/internal/drift"
	"github.com/ocx/uaal/internal/ledger"
)

// DefaultTopActions is how many actions Summarize ranks.
const DefaultTopActions = 10

// UnknownUser keys exposure for records without a user id.
const UnknownUser = "unknown"

var currency = message.NewPrinter(language.English)

// FormatCurrency renders amount as US dollars with grouping, e.g. "$2,250,000".
func FormatCurrency(amount float64) string {
	return "$" + currency.Sprintf("%v", number.Decimal(amount, number.MaxFractionDigits(2)))
}

// Findings counts what shadow mode observed.
type Findings struct {
	TotalActionsAnalyzed int `json:"totalActionsAnalyzed"`
	DeniedActions        int `json:"deniedActions"`
}

// Integrity is the Merkle root over the report's analyses, in order.
type Integrity struct {
	Algorithm string `json:"algorithm"`
	Leaves    int    `json:"leaves"`
	Root      string `json:"root"`
}

// Report is the full shadow-mode report.
type Report struct {
	ShadowModeFindings Findings          `json:"shadowModeFindings"`
	Analyses           []analysis.Record `json:"analyses"`
	Integrity          *Integrity        `json:"integrity,omitempty"`
}

// BuildReport wraps records with their findings and integrity root.
func BuildReport(records []analysis.Record) Report {
	denied := 0
	for _, r := range records {
		if r.Denied() {
			denied++
		}
	}
	if records == nil {
		records = []analysis.Record{}
	}
	rep := Report{
		ShadowModeFindings: Findings{TotalActionsAnalyzed: len(records), DeniedActions: denied},
		Analyses:           records,
	}
	if l, err := ledger.Build(records); err == nil && l.Len() > 0 {
		rep.Integrity = &Integrity{Algorithm: ledger.Algorithm, Leaves: l.Len(), Root: l.Root()}
	}
	return rep
}

// SimulationResult is what a candidate amount threshold would have done.
type SimulationResult struct {
	Policy            string  `json:"policy"`
	Threshold         float64 `json:"threshold"`
	WouldBlock        int     `json:"wouldBlock"`
	PreventedExposure string  `json:"preventedExposure"`
}

// Simulate counts records for action whose payload amount exceeds threshold.
func Simulate(records []analysis.Record, action, policyName string, threshold float64) SimulationResult {
	blocked := 0
	exposure := 0.0
	for _, r := range records {
		if r.Action() != action {
			continue
		}
		amount, ok := r.PayloadAmount()
		if !ok || amount <= threshold {
			continue
		}
		blocked++
		exposure += amount
	}
	return SimulationResult{
		Policy:            policyName,
		Threshold:         threshold,
		WouldBlock:        blocked,
		PreventedExposure: FormatCurrency(exposure),
	}
}

// ActionCount is one entry of the action frequency ranking.
type ActionCount struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

// UserExposure is the denied exposure attributed to one user.
type UserExposure struct {
	TotalExposure float64        `json:"totalExposure"`
	DeniedActions int            `json:"deniedActions"`
	Actions       map[string]int `json:"actions"`
}

// Summary aggregates risk across records.
type Summary struct {
	TotalExposure    float64                  `json:"totalExposure"`
	TopRiskyActions  []ActionCount            `json:"topRiskyActions"`
	PolicyViolations map[string]int           `json:"policyViolations"`
	PerUserExposure  map[string]*UserExposure `json:"perUserExposure"`
}

// Summarize totals denied exposure, ranks the topN most frequent actions
// (ties by name) and counts violations by their first rule.
func Summarize(records []analysis.Record, topN int) Summary {
	if topN <= 0 {
		topN = DefaultTopActions
	}

	s := Summary{
		PolicyViolations: map[string]int{},
		PerUserExposure:  PerUserExposure(records),
	}
	counts := map[string]int{}

	for _, r := range records {
		action := r.Action()
		if action == "" {
			action = "unknown"
		}
		counts[action]++

		if !r.Denied() {
			continue
		}
		if amount, ok := r.PayloadAmount(); ok {
			s.TotalExposure += amount
		}
		s.PolicyViolations[violationKey(r)]++
	}

	ranked := make([]ActionCount, 0, len(counts))
	for a, c := range counts {
		ranked = append(ranked, ActionCount{Action: a, Count: c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Action < ranked[j].Action
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	s.TopRiskyActions = ranked
	return s
}

func violationKey(r analysis.Record) string {
	if len(r.ViolatedRules) > 0 && r.ViolatedRules[0].Name != "" {
		return r.ViolatedRules[0].Name
	}
	v := r.PolicyVersion
	if v == "" {
		v = "unknown"
	}
	return "policy_" + v
}

// PerUserExposure breaks denied exposure down by user id.
func PerUserExposure(records []analysis.Record) map[string]*UserExposure {
	users := map[string]*UserExposure{}
	for _, r := range records {
		id := r.UserID
		if id == "" {
			id = UnknownUser
		}
		u, ok := users[id]
		if !ok {
			u = &UserExposure{Actions: map[string]int{}}
			users[id] = u
		}
		if amount, ok := r.PayloadAmount(); ok && r.Denied() {
			u.TotalExposure += amount
			u.DeniedActions++
		}
		u.Actions[r.Action()]++
	}
	return users
}

// ShadowMetrics is the live dashboard view.
type ShadowMetrics struct {
	TotalAnalyzed         int            `json:"totalAnalyzed"`
	Denied                int            `json:"denied"`
	Blocked               int            `json:"blocked"`
	Drifted               int            `json:"drifted"`
	CoordinatedDetections int            `json:"coordinatedDetections"`
	ByRiskLevel           map[string]int `json:"byRiskLevel"`
	ByAggregateRisk       map[string]int `json:"byAggregateRisk"`
	AverageDetectionMs    float64        `json:"averageDetectionMs"`
}

// Metrics computes the dashboard counters.
func Metrics(records []analysis.Record) ShadowMetrics {
	m := ShadowMetrics{
		ByRiskLevel:     map[string]int{},
		ByAggregateRisk: map[string]int{},
	}
	for _, l := range []drift.Level{drift.Low, drift.Medium, drift.High, drift.Critical} {
		m.ByRiskLevel[l.String()] = 0
		m.ByAggregateRisk[l.String()] = 0
	}

	total := 0.0
	for _, r := range records {
		m.TotalAnalyzed++
		if r.Denied() {
			m.Denied++
		}
		if r.Outcome == analysis.OutcomeBlocked {
			m.Blocked++
		}
		if r.HasDrift {
			m.Drifted++
		}
		if r.Coordinated != nil && r.Coordinated.Detected {
			m.CoordinatedDetections++
		}
		m.ByRiskLevel[r.RiskLevel.String()]++
		m.ByAggregateRisk[r.AggregateRisk.String()]++
		total += r.DetectionTimeMs
	}
	if m.TotalAnalyzed > 0 {
		m.AverageDetectionMs = total / float64(m.TotalAnalyzed)
	}
	return m
}
