package engine

import (
	"context"
	"log/slog"
	"math"

	"github.com/cwbudde/ravenroost/internal/rng"
	"gonum.org/v1/gonum/floats"
)

// EarlyStopPolicy decides whether a raven ends its flight after finding a
// better food source.
type EarlyStopPolicy interface {
	Stop(s *rng.Stream) bool
}

// NeverStop always completes every flight and lookout step. Runs using it
// are deterministic in both result and work done.
type NeverStop struct{}

// Stop implements EarlyStopPolicy.
func (NeverStop) Stop(*rng.Stream) bool { return false }

// RandomStop ends the flight with probability P after an improvement.
type RandomStop struct {
	P float64
}

// Stop implements EarlyStopPolicy.
func (r RandomStop) Stop(s *rng.Stream) bool {
	return s.Float64() < r.P
}

// TargetPolicy controls how often a follower picks its target near the
// leader.
type TargetPolicy int

const (
	// FixedTarget picks the target once per iteration.
	FixedTarget TargetPolicy = iota
	// PerStepTarget resamples the follower target before every flight step.
	PerStepTarget
)

// Heading controls the direction of each flight step.
type Heading int

const (
	// RandomHeading moves along a random unit direction.
	RandomHeading Heading = iota
	// TargetHeading moves straight towards the target.
	TargetHeading
)

// LookRadius returns the perception radius rPcpt for a run.
func LookRadius(radius float64, population, features int) float64 {
	return radius / (3.6 * math.Pow(float64(population), 1/float64(features)))
}

// arena is the scratch space of one thread, allocated once per worker.
type arena struct {
	rng       *rng.Stream
	direction []float64
	candidate []float64
	previous  []float64
	target    []float64
}

func newArena(s *rng.Stream, features int) *arena {
	return &arena{
		rng:       s,
		direction: make([]float64, features),
		candidate: make([]float64, features),
		previous:  make([]float64, features),
		target:    make([]float64, features),
	}
}

func (w *Worker) chooseTarget(a *arena, i int, leader []float64) {
	if w.pop.Follower[i] {
		a.rng.InSphere(a.target, leader, w.lookRadius)
		return
	}
	copy(a.target, w.pop.FoodRow(i))
}

// fly moves raven i through its flight steps, probing lookout candidates
// around each stop and keeping any strictly better one as its food source.
func (w *Worker) fly(ctx context.Context, a *arena, i int, leader []float64) {
	cur := w.pop.CurrentRow(i)
	food := w.pop.FoodRow(i)

	w.chooseTarget(a, i, leader)
	initial := floats.Distance(cur, a.target, 2)
	path := 0.0

flight:
	for step := 0; step < w.cfg.FlightSteps; step++ {
		if step > 0 && w.targetPolicy == PerStepTarget && w.pop.Follower[i] {
			a.rng.InSphere(a.target, leader, w.lookRadius)
		}
		copy(a.previous, cur)

		remaining := floats.Distance(cur, a.target, 2)
		w.heading(a, cur)
		floats.AddScaled(cur, remaining*a.rng.Float64(), a.direction)
		w.bounds.Clamp(cur)
		path += floats.Distance(a.previous, cur, 2)

		for look := 0; look < w.cfg.LookoutSteps; look++ {
			a.rng.InSphere(a.candidate, cur, w.lookRadius)
			w.bounds.Clamp(a.candidate)

			f := w.obj.Evaluate(a.candidate)
			if f < w.pop.Fitness[i] {
				copy(food, a.candidate)
				w.pop.Fitness[i] = f
				if w.earlyStop.Stop(a.rng) {
					break flight
				}
			}
		}
	}

	if initial > 0 && w.log.Enabled(ctx, slog.LevelDebug) {
		final := floats.Distance(cur, a.target, 2)
		w.log.Debug("Raven relative progress",
			"raven", w.part.Start+i,
			"progress", (initial-final)/initial,
			"path", path,
		)
	}
}

func (w *Worker) heading(a *arena, cur []float64) {
	if w.headingPolicy == TargetHeading {
		floats.SubTo(a.direction, a.target, cur)
		if n := floats.Norm(a.direction, 2); n > 0 {
			floats.Scale(1/n, a.direction)
			return
		}
	}
	a.rng.UnitVector(a.direction)
}
