package engine

import (
	"fmt"

	"github.com/cwbudde/ravenroost/internal/objective"
)

// Population holds the ravens owned by one worker in flat row-major arrays.
// It is sized once and never resized.
type Population struct {
	Rows     int
	Features int
	Food     []float64 // best position found by each raven
	Current  []float64 // working position during a flight
	Fitness  []float64 // objective value of Food
	Follower []bool
}

// NewPopulation allocates a population of rows ravens.
func NewPopulation(rows, features int) *Population {
	return &Population{
		Rows:     rows,
		Features: features,
		Food:     make([]float64, rows*features),
		Current:  make([]float64, rows*features),
		Fitness:  make([]float64, rows),
		Follower: make([]bool, rows),
	}
}

// FoodRow returns the food source of raven i.
func (p *Population) FoodRow(i int) []float64 {
	return p.Food[i*p.Features : (i+1)*p.Features]
}

// CurrentRow returns the working position of raven i.
func (p *Population) CurrentRow(i int) []float64 {
	return p.Current[i*p.Features : (i+1)*p.Features]
}

// Load copies the initial positions into the food sources, clamps them and
// evaluates their fitness.
func (p *Population) Load(initial []float64, b Bounds, obj objective.Objective) error {
	if len(initial) != len(p.Food) {
		return fmt.Errorf("initial population holds %d values, want %d x %d", len(initial), p.Rows, p.Features)
	}
	copy(p.Food, initial)
	for i := 0; i < p.Rows; i++ {
		row := p.FoodRow(i)
		b.Clamp(row)
		p.Fitness[i] = obj.Evaluate(row)
	}
	return nil
}

// ResetToAnchor sends every raven back to the roosting site.
func (p *Population) ResetToAnchor(anchor []float64) {
	for i := 0; i < p.Rows; i++ {
		copy(p.CurrentRow(i), anchor)
	}
}

// Followers returns the number of local followers.
func (p *Population) Followers() int {
	n := 0
	for _, f := range p.Follower {
		if f {
			n++
		}
	}
	return n
}
