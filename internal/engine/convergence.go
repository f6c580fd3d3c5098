package engine

import (
	"log/slog"
	"math"
)

// ConvergenceConfig defines when a run counts as stagnated.
type ConvergenceConfig struct {
	// Patience is the number of iterations without significant improvement
	// before stopping. Zero disables detection.
	Patience int

	// Threshold is the minimum relative improvement counted as progress,
	// measured against the last significant leader fitness.
	Threshold float64
}

// Enabled reports whether detection is active.
func (c ConvergenceConfig) Enabled() bool {
	return c.Patience > 0
}

// ConvergenceTracker watches the leader fitness. It is fed the broadcast
// leader, so every worker reaches the same decision in the same iteration.
type ConvergenceTracker struct {
	config          ConvergenceConfig
	history         []float64
	best            float64
	lastSignificant float64
	stale           int
}

// NewConvergenceTracker creates a tracker.
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		best:            math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Update records a leader fitness and returns true once patience runs out.
func (c *ConvergenceTracker) Update(fitness float64) bool {
	c.history = append(c.history, fitness)
	if fitness < c.best {
		c.best = fitness
	}
	if !c.config.Enabled() {
		return false
	}

	if len(c.history) == 1 {
		c.lastSignificant = fitness
		return false
	}

	// Fitness may be zero or negative, so scale by magnitude.
	scale := math.Max(math.Abs(c.lastSignificant), math.SmallestNonzeroFloat64)
	improvement := (c.lastSignificant - fitness) / scale

	if improvement > 0 && improvement >= c.config.Threshold {
		c.lastSignificant = fitness
		c.stale = 0
		return false
	}

	c.stale++
	slog.Debug("No significant leader improvement",
		"fitness", fitness,
		"last_significant", c.lastSignificant,
		"relative_improvement", improvement,
		"stale_count", c.stale,
		"patience", c.config.Patience,
	)
	return c.stale >= c.config.Patience
}

// Best returns the best fitness seen so far.
func (c *ConvergenceTracker) Best() float64 {
	return c.best
}

// History returns a copy of every recorded fitness.
func (c *ConvergenceTracker) History() []float64 {
	return append([]float64{}, c.history...)
}

// StaleCount returns the iterations since the last significant improvement.
func (c *ConvergenceTracker) StaleCount() int {
	return c.stale
}
