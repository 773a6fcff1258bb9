package firewall

import "fmt"

// Stage is one step of the per-log pipeline. Stages run strictly in order.
type Stage int

const (
	StageNormalize Stage = iota
	StageDetectDrift
	StageEvaluatePolicy
	StageUpdateBaseline
	StageDetectCoordinated
	StageAggregateRisk
	StageEnforce
	StageRecord
)

func (s Stage) String() string {
	switch s {
	case StageNormalize:
		return "NORMALIZE"
	case StageDetectDrift:
		return "DETECT_DRIFT"
	case StageEvaluatePolicy:
		return "EVALUATE_POLICY"
	case StageUpdateBaseline:
		return "UPDATE_BASELINE"
	case StageDetectCoordinated:
		return "DETECT_COORDINATED"
	case StageAggregateRisk:
		return "AGGREGATE_RISK"
	case StageEnforce:
		return "ENFORCE"
	case StageRecord:
		return "RECORD"
	default:
		return "UNKNOWN"
	}
}

// StageError is an infrastructure failure inside the pipeline. It is never
// a policy block.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
