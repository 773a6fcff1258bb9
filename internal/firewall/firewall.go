// Package firewall runs the intent-drift pipeline for each execution log
// and keeps the resulting analysis records.
package firewall

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/ocx/uaal/internal/analysis"
	"github.com/ocx/uaal/internal/drift"
	"github.com/ocx/uaal/internal/enforce"
	"github.com/ocx/uaal/internal/intent"
	"github.com/ocx/uaal/internal/ledger"
	"github.com/ocx/uaal/internal/metrics"
	"github.com/ocx/uaal/internal/policy"
	"github.com/ocx/uaal/internal/report"
	"github.com/ocx/uaal/internal/risk"
	"github.com/ocx/uaal/internal/store"
)

// Options wires the pipeline. Nil fields get in-memory defaults.
type Options struct {
	Detector    *drift.Detector
	Policy      *policy.Engine
	Baseline    *risk.Baseline
	Coordinated *risk.CoordinatedDetector
	Aggregator  *risk.Aggregator
	Anomaly     risk.AnomalyModel
	Enforcer    *enforce.Enforcer
	Store       store.Store
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Firewall is safe for concurrent use; each shared structure guards itself.
type Firewall struct {
	detector    *drift.Detector
	policy      *policy.Engine
	baseline    *risk.Baseline
	coordinated *risk.CoordinatedDetector
	aggregator  risk.Aggregator
	anomaly     risk.AnomalyModel
	enforcer    *enforce.Enforcer
	store       store.Store
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// New builds a firewall from opts.
func New(opts Options) *Firewall {
	f := &Firewall{
		detector:    opts.Detector,
		policy:      opts.Policy,
		baseline:    opts.Baseline,
		coordinated: opts.Coordinated,
		aggregator:  risk.NewAggregator(),
		anomaly:     opts.Anomaly,
		enforcer:    opts.Enforcer,
		store:       opts.Store,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Clock,
	}
	if f.detector == nil {
		f.detector = drift.NewDetector(drift.DefaultThresholds)
	}
	if f.policy == nil {
		f.policy = policy.DefaultEngine()
	}
	if f.baseline == nil {
		f.baseline = risk.NewBaseline()
	}
	if f.coordinated == nil {
		f.coordinated = risk.NewCoordinatedDetector(nil)
	}
	if opts.Aggregator != nil {
		f.aggregator = *opts.Aggregator
	}
	if f.enforcer == nil {
		f.enforcer = enforce.NewEnforcer(enforce.ModeShadow)
	}
	if f.store == nil {
		f.store = store.NewRingStore(store.DefaultCapacity)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f
}

// Enforcer returns the decision enforcer.
func (f *Firewall) Enforcer() *enforce.Enforcer { return f.enforcer }

// PolicyVersion returns the active rule-set version.
func (f *Firewall) PolicyVersion() string { return f.policy.Version() }

// Process runs one log through the pipeline. The returned error is a
// *intent.ValidationError for malformed input, a *enforce.PolicyBlockedError
// for an enforce-mode block, or a *StageError for infrastructure failures.
// A blocked record is stored before the block is returned.
func (f *Firewall) Process(ctx context.Context, log intent.ExecutionLog) (analysis.Record, error) {
	start := time.Now()

	if err := log.Validate(); err != nil {
		var ve *intent.ValidationError
		if errors.As(err, &ve) {
			f.metrics.ObserveRejected(ve.Field)
		}
		return analysis.Record{}, err
	}
	log.Params = intent.CloneParams(log.Params)

	// NORMALIZE
	core := intent.Normalize(log)
	coreHash, err := intent.Hash(core)
	if err != nil {
		return analysis.Record{}, &StageError{Stage: StageNormalize, Err: err}
	}
	payloadHash, err := intent.Hash(log.Params)
	if err != nil {
		return analysis.Record{}, &StageError{Stage: StageNormalize, Err: err}
	}

	// DETECT_DRIFT
	dr := f.detector.Analyze(core, log.Params)

	// EVALUATE_POLICY
	pr := f.policy.Evaluate(core, log.Params)

	// UPDATE_BASELINE
	z := f.baseline.Observe(log.UserID, log.Params[analysis.AmountField])

	// DETECT_COORDINATED
	coordinated := f.detectCoordinated(ctx, log.UserID, core.Action, dr.Metrics)

	// AGGREGATE_RISK
	signals := risk.Signals{
		StaticRisk:  dr.RiskLevel,
		ZScore:      z,
		Anomaly:     f.scoreAnomaly(ctx, log, core.Action, z, dr.Metrics),
		Coordinated: coordinated,
	}
	assessment := f.aggregator.Aggregate(signals)

	rec := analysis.Record{
		Timestamp:      f.timestamp(log),
		UserID:         log.UserID,
		CoreIntentHash: coreHash,
		PayloadHash:    payloadHash,
		CoreIntent:     core,
		Payload:        log.Params,
		HasDrift:       dr.HasDrift,
		DriftMetrics:   dr.Metrics,
		RiskLevel:      dr.RiskLevel,
		PolicyDecision: pr.Decision,
		PolicyVersion:  f.policy.Version(),
		ViolatedRules:  pr.Violated,
		AggregateRisk:  assessment.Overall,
		RiskEvidence:   assessment.Evidence,
		ZScore:         z,
		Coordinated:    coordinated,
		Outcome:        analysis.OutcomeRecorded,
	}

	// ENFORCE
	_, blockErr := f.enforcer.Act(ctx, rec)
	if blockErr != nil {
		rec.Outcome = analysis.OutcomeBlocked
	}
	rec.DetectionTimeMs = float64(time.Since(start).Microseconds()) / 1000

	// RECORD
	if err := f.store.Append(ctx, rec); err != nil {
		err = &StageError{Stage: StageRecord, Err: err}
		if blockErr != nil {
			return rec, errors.Join(blockErr, err)
		}
		return rec, err
	}
	f.metrics.ObserveRecord(rec)

	f.logger.Debug("Analysed execution log",
		"action", core.Action,
		"user_id", log.UserID,
		"risk_level", rec.RiskLevel,
		"decision", rec.PolicyDecision,
		"aggregate_risk", rec.AggregateRisk,
		"outcome", rec.Outcome,
	)
	return rec, blockErr
}

func (f *Firewall) detectCoordinated(ctx context.Context, userID, action string, dm []drift.Metric) *risk.CoordinatedSignal {
	if userID == "" {
		return nil
	}

	delta := 0.0
	if d, ok := drift.MaxDelta(dm); ok {
		// zero-core inflation is +Inf; keep it positive but encodable
		delta = math.Min(d, math.MaxFloat64)
	}

	sig, err := f.coordinated.Record(ctx, userID, action, delta)
	if err != nil {
		f.logger.Warn("Coordinated window unavailable", "stage", StageDetectCoordinated.String(), "error", err)
		return nil
	}
	return &sig
}

func (f *Firewall) scoreAnomaly(ctx context.Context, log intent.ExecutionLog, action string, z float64, dm []drift.Metric) *risk.AnomalySignal {
	if f.anomaly == nil {
		return nil
	}

	features := risk.AnomalyFeatures{Action: action, UserID: log.UserID, ZScore: z}
	if amount, ok := analysis.Amount(log.Params); ok {
		features.Amount = amount
	}
	if d, ok := drift.MaxDelta(dm); ok {
		features.MaxDeltaPercent = math.Min(d, math.MaxFloat64)
	}

	sig, err := f.anomaly.Score(ctx, features)
	if err != nil {
		f.logger.Warn("Anomaly model unavailable", "error", err)
		return nil
	}
	return &sig
}

// timestamp uses the log's own time when it has one. Validate has already
// rejected unparsable values.
func (f *Firewall) timestamp(log intent.ExecutionLog) time.Time {
	if t, ok := log.ParsedTimestamp(); ok {
		return t
	}
	return f.now().UTC()
}

// BatchResult summarises ProcessBatch.
type BatchResult struct {
	Records []analysis.Record
	Blocked int
}

// ProcessBatch runs logs in order. Blocks are counted and processing
// continues; any other error stops the batch.
func (f *Firewall) ProcessBatch(ctx context.Context, logs []intent.ExecutionLog) (BatchResult, error) {
	var res BatchResult
	for i, l := range logs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		rec, err := f.Process(ctx, l)
		if err != nil {
			if _, blocked := enforce.IsPolicyBlocked(err); blocked && !hasStageError(err) {
				res.Blocked++
				res.Records = append(res.Records, rec)
				continue
			}
			var ve *intent.ValidationError
			if errors.As(err, &ve) {
				ve.Index = i
			}
			return res, err
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

func hasStageError(err error) bool {
	var se *StageError
	return errors.As(err, &se)
}

// Analyses returns every stored record in insertion order.
func (f *Firewall) Analyses(ctx context.Context) ([]analysis.Record, error) {
	return f.store.List(ctx)
}

// Report builds the shadow-mode report.
func (f *Firewall) Report(ctx context.Context) (report.Report, error) {
	recs, err := f.store.List(ctx)
	if err != nil {
		return report.Report{}, err
	}
	return report.BuildReport(recs), nil
}

// Summary aggregates risk over stored records.
func (f *Firewall) Summary(ctx context.Context, topN int) (report.Summary, error) {
	recs, err := f.store.List(ctx)
	if err != nil {
		return report.Summary{}, err
	}
	return report.Summarize(recs, topN), nil
}

// Simulate evaluates a candidate amount threshold over stored records.
func (f *Firewall) Simulate(ctx context.Context, action, policyName string, threshold float64) (report.SimulationResult, error) {
	recs, err := f.store.List(ctx)
	if err != nil {
		return report.SimulationResult{}, err
	}
	return report.Simulate(recs, action, policyName, threshold), nil
}

// ShadowMetrics computes dashboard counters over stored records.
func (f *Firewall) ShadowMetrics(ctx context.Context) (report.ShadowMetrics, error) {
	recs, err := f.store.List(ctx)
	if err != nil {
		return report.ShadowMetrics{}, err
	}
	return report.Metrics(recs), nil
}

// InclusionProof ties one stored record to the report's integrity root.
type InclusionProof struct {
	Index    int                `json:"index"`
	Root     string             `json:"root"`
	Proof    []ledger.ProofStep `json:"proof"`
	Analysis analysis.Record    `json:"analysis"`
}

// Proof returns the Merkle inclusion proof for the record at index.
func (f *Firewall) Proof(ctx context.Context, index int) (InclusionProof, error) {
	recs, err := f.store.List(ctx)
	if err != nil {
		return InclusionProof{}, err
	}
	l, err := ledger.Build(recs)
	if err != nil {
		return InclusionProof{}, err
	}
	steps, err := l.Proof(index)
	if err != nil {
		return InclusionProof{}, err
	}
	return InclusionProof{Index: index, Root: l.Root(), Proof: steps, Analysis: recs[index]}, nil
}

// ExportCSV writes stored records as CSV.
func (f *Firewall) ExportCSV(ctx context.Context, w io.Writer) error {
	recs, err := f.store.List(ctx)
	if err != nil {
		return err
	}
	return report.WriteCSV(w, recs)
}

// Close waits for in-flight sink emissions and closes the store.
func (f *Firewall) Close(ctx context.Context) error {
	return errors.Join(f.enforcer.Close(ctx), f.store.Close())
}
