package opt

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MinMayflyPopulation is the smallest population the mayfly library accepts.
const MinMayflyPopulation = 20

// MayflyAdapter wraps the external Mayfly library as a single-process
// baseline.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly optimizer adapter.
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Name implements Optimizer.
func (m *MayflyAdapter) Name() string { return "mayfly" }

// Run implements Optimizer. The library is not cancellable, so ctx is only
// checked before the run starts.
func (m *MayflyAdapter) Run(ctx context.Context, p Problem) (Outcome, error) {
	if err := p.Validate(); err != nil {
		return Outcome{}, err
	}
	if m.popSize < MinMayflyPopulation {
		return Outcome{}, fmt.Errorf("mayfly needs a population of at least %d, got %d", MinMayflyPopulation, m.popSize)
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	obj := &counted{obj: p.Objective}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = obj.Evaluate
	config.ProblemSize = p.Features
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = p.Lower
	config.UpperBound = p.Upper
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return Outcome{}, fmt.Errorf("mayfly optimization failed: %w", err)
	}

	return Outcome{
		Position:    append([]float64(nil), result.GlobalBest.Position...),
		Fitness:     result.GlobalBest.Cost,
		Evaluations: obj.n.Load(),
	}, nil
}
