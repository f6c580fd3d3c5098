package objective

import (
	"math"

	"github.com/cwbudde/ravenroost/internal/partition"
	"golang.org/x/sync/errgroup"
)

// parallelThreshold is the dimensionality above which Griewank splits its
// sums across goroutines.
const parallelThreshold = 100

// Griewank is the default multimodal landscape:
//
//	f(x) = sum(x_j^2)/4000 - prod(cos(x_j/sqrt(j+1))) + 1
//
// Its global minimum is f(0) = 0, surrounded by many regularly spaced local
// minima.
type Griewank struct {
	// Threads bounds the goroutines used for len(x) > 100. Partials are
	// combined in chunk order so results only depend on Threads.
	Threads int
}

// Evaluate implements Objective.
func (g Griewank) Evaluate(x []float64) float64 {
	if g.Threads <= 1 || len(x) <= parallelThreshold {
		sum, prod := griewankTerms(x, 0)
		return sum - prod + 1
	}

	chunks, err := partition.All(len(x), g.Threads)
	if err != nil {
		sum, prod := griewankTerms(x, 0)
		return sum - prod + 1
	}

	sums := make([]float64, len(chunks))
	prods := make([]float64, len(chunks))

	var eg errgroup.Group
	for i, c := range chunks {
		eg.Go(func() error {
			sums[i], prods[i] = griewankTerms(x[c.Start:c.End()], c.Start)
			return nil
		})
	}
	eg.Wait()

	sum, prod := 0.0, 1.0
	for i := range chunks {
		sum += sums[i]
		prod *= prods[i]
	}
	return sum - prod + 1
}

// griewankTerms returns the partial sum and product for x, whose first
// element has global dimension index offset.
func griewankTerms(x []float64, offset int) (sum, prod float64) {
	prod = 1
	for j, v := range x {
		sum += v * v / 4000
		prod *= math.Cos(v / math.Sqrt(float64(offset+j)+1))
	}
	return sum, prod
}

// Sphere is sum(x_j^2).
func Sphere(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

// Rastrigin is 10n + sum(x_j^2 - 10cos(2 pi x_j)).
func Rastrigin(x []float64) float64 {
	sum := 10 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return sum
}

// Ackley with the usual constants a=20, b=0.2, c=2pi.
func Ackley(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	n := float64(len(x))
	var sq, cs float64
	for _, v := range x {
		sq += v * v
		cs += math.Cos(2 * math.Pi * v)
	}
	return -20*math.Exp(-0.2*math.Sqrt(sq/n)) - math.Exp(cs/n) + 20 + math.E
}
