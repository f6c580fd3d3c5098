// Package opt puts the distributed Raven Roost search and baseline
// optimizers behind one interface so they can be compared on equal terms.
package opt

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cwbudde/ravenroost/internal/objective"
)

// Problem is a box-constrained minimisation problem.
type Problem struct {
	Objective objective.Objective
	Features  int
	Lower     float64
	Upper     float64
}

// Validate checks the problem dimensions.
func (p Problem) Validate() error {
	if p.Objective == nil {
		return fmt.Errorf("problem has no objective")
	}
	if p.Features <= 0 {
		return fmt.Errorf("features must be positive, got %d", p.Features)
	}
	if p.Lower >= p.Upper {
		return fmt.Errorf("lower bound %v must be below upper bound %v", p.Lower, p.Upper)
	}
	return nil
}

// Outcome is the best point an optimizer found.
type Outcome struct {
	Position    []float64
	Fitness     float64
	Evaluations int64
}

// Optimizer defines an optimization algorithm.
type Optimizer interface {
	// Name identifies the algorithm in reports.
	Name() string
	// Run minimises p and returns the best point found.
	Run(ctx context.Context, p Problem) (Outcome, error)
}

// counted wraps an objective and counts its evaluations. Safe for
// concurrent use.
type counted struct {
	obj objective.Objective
	n   atomic.Int64
}

func (c *counted) Evaluate(x []float64) float64 {
	c.n.Add(1)
	return c.obj.Evaluate(x)
}
