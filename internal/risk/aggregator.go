package risk

import (
	"fmt"
	"math"

	"github.com/ocx/uaal/internal/drift"
)

// Source names an independent detector that contributed evidence.
type Source string

const (
	SourceStaticDrift      Source = "STATIC_DRIFT"
	SourceUserBaseline     Source = "USER_BASELINE"
	SourceAnomalyModel     Source = "ANOMALY_MODEL"
	SourceCoordinatedDrift Source = "COORDINATED_DRIFT"
)

// DefaultZScoreThreshold is the baseline z-score magnitude treated as evidence.
const DefaultZScoreThreshold = 3.0

// Evidence is one detector's contribution to the overall verdict.
type Evidence struct {
	Source Source  `json:"source"`
	Detail string  `json:"detail"`
	Value  float64 `json:"value,omitempty"`
}

// AnomalySignal is the verdict of an external anomaly model.
type AnomalySignal struct {
	Anomaly bool    `json:"anomaly"`
	Score   float64 `json:"score"`
}

// Signals are the aggregator inputs. Nil pointers mean the detector did not run.
type Signals struct {
	StaticRisk  drift.Level
	ZScore      float64
	Anomaly     *AnomalySignal
	Coordinated *CoordinatedSignal
}

// Assessment is the combined verdict.
type Assessment struct {
	Overall  drift.Level `json:"overallRisk"`
	Evidence []Evidence  `json:"evidence"`
}

// Aggregator counts corroborating detectors. Severity of any single signal
// is ignored: two or more pieces of evidence are HIGH, one is MEDIUM.
type Aggregator struct {
	ZScoreThreshold float64
}

// NewAggregator creates an aggregator with the default z-score threshold.
func NewAggregator() Aggregator {
	return Aggregator{ZScoreThreshold: DefaultZScoreThreshold}
}

// Aggregate combines the signals into one assessment.
func (a Aggregator) Aggregate(s Signals) Assessment {
	evidence := make([]Evidence, 0, 4)

	if s.StaticRisk == drift.Critical {
		evidence = append(evidence, Evidence{
			Source: SourceStaticDrift,
			Detail: "static drift tier " + s.StaticRisk.String(),
		})
	}

	threshold := a.ZScoreThreshold
	if threshold <= 0 {
		threshold = DefaultZScoreThreshold
	}
	if math.Abs(s.ZScore) > threshold {
		evidence = append(evidence, Evidence{
			Source: SourceUserBaseline,
			Detail: fmt.Sprintf("z-score %.2f", s.ZScore),
			Value:  s.ZScore,
		})
	}

	if s.Anomaly != nil && s.Anomaly.Anomaly {
		evidence = append(evidence, Evidence{
			Source: SourceAnomalyModel,
			Detail: fmt.Sprintf("anomaly score %.2f", s.Anomaly.Score),
			Value:  s.Anomaly.Score,
		})
	}

	if s.Coordinated != nil && s.Coordinated.Detected {
		evidence = append(evidence, Evidence{
			Source: SourceCoordinatedDrift,
			Detail: fmt.Sprintf("%d distinct entities", s.Coordinated.EntityCount),
			Value:  float64(s.Coordinated.EntityCount),
		})
	}

	overall := drift.Low
	switch {
	case len(evidence) >= 2:
		overall = drift.High
	case len(evidence) == 1:
		overall = drift.Medium
	}

	return Assessment{Overall: overall, Evidence: evidence}
}
