// Package enforce turns analysis records into decisions: it emits decision
// records to external sinks and, in enforce mode, blocks denied actions.
package enforce

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ocx/uaal/internal/analysis"
	"github.com/ocx/uaal/internal/circuitbreaker"
	"github.com/ocx/uaal/internal/metrics"
)

// Mode selects whether denied actions are blocked.
type Mode string

const (
	ModeShadow  Mode = "shadow"
	ModeEnforce Mode = "enforce"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeShadow, ModeEnforce:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown enforcement mode %q", s)
}

// DefaultSinkTimeout bounds each sink emission.
const DefaultSinkTimeout = 5 * time.Second

// Blocker decides whether a denied action is actually blocked in enforce
// mode. It is never consulted for ALLOW decisions or in shadow mode.
type Blocker interface {
	ShouldBlock(rec analysis.Record) bool
}

// AlwaysBlock blocks every denied action.
type AlwaysBlock struct{}

func (AlwaysBlock) ShouldBlock(analysis.Record) bool { return true }

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithSinks adds decision sinks.
func WithSinks(sinks ...Sink) Option {
	return func(e *Enforcer) { e.sinks = append(e.sinks, sinks...) }
}

// WithSinkTimeout bounds every sink call.
func WithSinkTimeout(d time.Duration) Option {
	return func(e *Enforcer) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithBlocker replaces AlwaysBlock, e.g. with a GradualEnforcer.
func WithBlocker(b Blocker) Option {
	return func(e *Enforcer) {
		if b != nil {
			e.blocker = b
		}
	}
}

// WithBreakers shares a breaker registry, so callers can report breaker state.
func WithBreakers(r *circuitbreaker.Registry) Option {
	return func(e *Enforcer) { e.breakers = r }
}

// WithMetrics records sink outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Enforcer) { e.metrics = m }
}

// Enforcer is safe for concurrent use.
type Enforcer struct {
	mu      sync.RWMutex
	mode    Mode
	blocker Blocker

	sinks    []Sink
	timeout  time.Duration
	breakers *circuitbreaker.Registry
	metrics  *metrics.Metrics
	logger   *log.Logger

	inflight sync.WaitGroup
}

// NewEnforcer creates an enforcer in mode.
func NewEnforcer(mode Mode, opts ...Option) *Enforcer {
	e := &Enforcer{
		mode:    mode,
		blocker: AlwaysBlock{},
		timeout: DefaultSinkTimeout,
		logger:  log.New(log.Writer(), "[ENFORCE] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.breakers == nil {
		e.breakers = circuitbreaker.NewRegistry(nil)
	}
	return e
}

// Mode returns the current mode.
func (e *Enforcer) Mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// SetMode switches mode at runtime.
func (e *Enforcer) SetMode(m Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode != m {
		e.logger.Printf("🔀 Enforcement mode %s → %s", e.mode, m)
	}
	e.mode = m
}

// SetBlocker swaps the blocker at runtime. Nil restores AlwaysBlock.
func (e *Enforcer) SetBlocker(b Blocker) {
	if b == nil {
		b = AlwaysBlock{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.blocker = b
}

// Breakers returns the per-sink circuit breakers.
func (e *Enforcer) Breakers() *circuitbreaker.Registry { return e.breakers }

// Act builds the decision record, emits it to every sink in the background
// and returns it. In enforce mode a blocked DENY also returns a
// *PolicyBlockedError. Sink failures never surface here.
func (e *Enforcer) Act(ctx context.Context, rec analysis.Record) (DecisionRecord, error) {
	e.mu.RLock()
	mode, blocker := e.mode, e.blocker
	e.mu.RUnlock()

	blocked := mode == ModeEnforce && rec.Denied() && blocker.ShouldBlock(rec)
	dr := newDecisionRecord(rec, mode, blocked)

	e.emit(ctx, dr)

	if blocked {
		return dr, &PolicyBlockedError{Action: dr.Action, Rules: dr.ViolatedRules}
	}
	return dr, nil
}

func (e *Enforcer) emit(ctx context.Context, dr DecisionRecord) {
	// Emission outlives the caller's request but keeps its values.
	base := context.WithoutCancel(ctx)

	for _, sink := range e.sinks {
		e.inflight.Add(1)
		go func(sink Sink) {
			defer e.inflight.Done()

			sctx, cancel := context.WithTimeout(base, e.timeout)
			defer cancel()

			err := e.breakers.Get(sink.Name()).Execute(sctx, func(ctx context.Context) error {
				return sink.Send(ctx, dr)
			})
			switch {
			case err == nil:
				e.metrics.ObserveSink(sink.Name(), "ok")
			case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
				e.metrics.ObserveSink(sink.Name(), "skipped")
				e.logger.Printf("⏭️  Sink %s skipped for decision %s: %v", sink.Name(), dr.ID, err)
			default:
				e.metrics.ObserveSink(sink.Name(), "error")
				e.logger.Printf("❌ Sink %s failed for decision %s: %v", sink.Name(), dr.ID, err)
			}
		}(sink)
	}
}

// Wait blocks until every in-flight emission has finished.
func (e *Enforcer) Wait() {
	e.inflight.Wait()
}

// Close waits for in-flight emissions or until ctx is done.
func (e *Enforcer) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for decision sinks: %w", ctx.Err())
	}
}
