// Package risk holds the statistical and cross-user detectors that sit next
// to static drift detection, and the aggregator that combines their signals.
package risk

import (
	"math"
	"sync"

	"github.com/ocx/uaal/internal/intent"
)

// MinBaselineSamples is the number of observations a user needs before a
// z-score is reported.
const MinBaselineSamples = 5

// BaselineStat is Welford online-variance state for one user.
type BaselineStat struct {
	Count int     `json:"sampleCount"`
	Mean  float64 `json:"runningMean"`
	M2    float64 `json:"sumSquaredDeviation"`
}

// Variance is the population variance of the observations so far.
func (s BaselineStat) Variance() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.M2 / float64(s.Count)
}

func (s *BaselineStat) add(x float64) {
	s.Count++
	delta := x - s.Mean
	s.Mean += delta / float64(s.Count)
	s.M2 += delta * (x - s.Mean)
}

func (s BaselineStat) zScore(x float64) float64 {
	if s.Count < MinBaselineSamples {
		return 0
	}
	variance := s.Variance()
	if variance == 0 {
		variance = 1
	}
	return (x - s.Mean) / math.Sqrt(variance)
}

// Baseline tracks a per-user running mean and variance of a numeric quantity.
// Statistics only ever move forward; there is no rollback.
type Baseline struct {
	mu    sync.Mutex
	stats map[string]*BaselineStat
}

// NewBaseline creates an empty baseline tracker.
func NewBaseline() *Baseline {
	return &Baseline{stats: make(map[string]*BaselineStat)}
}

// Update folds amount into the user's statistics. It is a no-op when userID
// is empty or amount is not numeric.
func (b *Baseline) Update(userID string, amount any) {
	x, ok := intent.Number(amount)
	if userID == "" || !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.statFor(userID).add(x)
}

// ZScore returns the standard score of amount against the user's history,
// or 0 while the user has fewer than MinBaselineSamples observations.
func (b *Baseline) ZScore(userID string, amount float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.stats[userID]
	if !ok {
		return 0
	}
	return s.zScore(amount)
}

// Observe scores amount against the history and then folds it in, as one
// step. Non-numeric amounts and empty user ids score 0 and change nothing.
func (b *Baseline) Observe(userID string, amount any) float64 {
	x, ok := intent.Number(amount)
	if userID == "" || !ok {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.statFor(userID)
	z := s.zScore(x)
	s.add(x)
	return z
}

// Stat returns a copy of the user's statistics.
func (b *Baseline) Stat(userID string) (BaselineStat, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.stats[userID]
	if !ok {
		return BaselineStat{}, false
	}
	return *s, true
}

func (b *Baseline) statFor(userID string) *BaselineStat {
	s, ok := b.stats[userID]
	if !ok {
		s = &BaselineStat{}
		b.stats[userID] = s
	}
	return s
}
