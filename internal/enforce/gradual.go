package enforce

import (
	"math/rand/v2"
	"sync"

	"github.com/ocx/uaal/internal/analysis"
)

// CustomerTypeField is the payload key checked against the exception list.
const CustomerTypeField = "customerType"

// GradualEnforcer blocks a configurable percentage of denied actions, so
// enforcement can be rolled out in stages. Customer types on the exception
// list are never blocked.
type GradualEnforcer struct {
	mu         sync.Mutex
	percentage float64
	exceptions map[string]bool
	rng        *rand.Rand
}

// NewGradualEnforcer draws from a PCG source seeded with seed, so a rollout
// replays identically for the same seed and input order.
func NewGradualEnforcer(percentage float64, exceptions []string, seed uint64) *GradualEnforcer {
	return NewGradualEnforcerWithSource(percentage, exceptions, rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// NewGradualEnforcerWithSource uses src for the rollout draws.
func NewGradualEnforcerWithSource(percentage float64, exceptions []string, src rand.Source) *GradualEnforcer {
	g := &GradualEnforcer{rng: rand.New(src)}
	g.Update(percentage, exceptions)
	return g
}

// Update changes the rollout percentage and exception list.
func (g *GradualEnforcer) Update(percentage float64, exceptions []string) {
	set := make(map[string]bool, len(exceptions))
	for _, e := range exceptions {
		set[e] = true
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.percentage = min(max(percentage, 0), 100)
	g.exceptions = set
}

// Percentage returns the current rollout percentage.
func (g *GradualEnforcer) Percentage() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.percentage
}

// ShouldBlock skips excepted customer types, then blocks when a uniform
// draw in [0,100) falls below the rollout percentage.
func (g *GradualEnforcer) ShouldBlock(rec analysis.Record) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ct, ok := rec.Payload[CustomerTypeField].(string); ok && g.exceptions[ct] {
		return false
	}
	return g.rng.Float64()*100 < g.percentage
}
