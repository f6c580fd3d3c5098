// Package rng provides the deterministic random streams used by the search
// engine. Every worker and every worker thread owns its own Stream so results
// are reproducible for a fixed seed, worker count and thread count.
package rng

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// DefaultIncrement selects the PCG stream for worker-level generators.
const DefaultIncrement uint64 = 52

// Stream is a seeded PCG generator. A Stream is not safe for concurrent use.
type Stream struct {
	r *rand.Rand
}

// New creates a stream from a seed and a PCG stream selector.
func New(seed, stream uint64) *Stream {
	return &Stream{r: rand.New(rand.NewPCG(seed, stream))}
}

// ForWorker returns the worker-level stream for rank.
func ForWorker(seed uint64, rank int) *Stream {
	return New(rankSeed(seed, rank), DefaultIncrement)
}

// ForThread returns the stream owned by thread on the given rank.
func ForThread(seed uint64, rank, thread int) *Stream {
	return New(rankSeed(seed, rank), mix(DefaultIncrement+uint64(thread)+1))
}

// rankSeed mixes seed before adding the rank, so neighbouring seeds do not
// share streams across ranks.
func rankSeed(seed uint64, rank int) uint64 {
	return mix(seed) ^ uint64(rank)
}

// ForRow returns a stream dedicated to one global population row.
func ForRow(seed uint64, row int) *Stream {
	return New(mix(seed^uint64(row)), uint64(row))
}

// mix is the SplitMix64 finalizer; it decorrelates nearby selectors.
func mix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Float64 returns a uniform sample in [0, 1).
func (s *Stream) Float64() float64 {
	return s.r.Float64()
}

// Interval returns a uniform sample between a and b. The bounds are swapped
// when b < a.
func (s *Stream) Interval(a, b float64) float64 {
	if b < a {
		a, b = b, a
	}
	return a + (b-a)*s.r.Float64()
}

// Normal returns a standard Gaussian sample (Box-Muller).
func (s *Stream) Normal() float64 {
	u1 := 1 - s.r.Float64() // (0, 1], keeps log finite
	u2 := s.r.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// UnitVector fills dst with a direction drawn uniformly on the unit
// hypersphere and returns the norm of the Gaussian draw before normalisation.
func (s *Stream) UnitVector(dst []float64) float64 {
	for i := range dst {
		dst[i] = s.Normal()
	}
	norm := floats.Norm(dst, 2)
	if norm > 0 {
		floats.Scale(1/norm, dst)
	}
	return norm
}

// InSphere writes into dst a point drawn uniformly from the volume of the
// hypersphere of the given radius around center. dst and center must have
// the same length and must not alias.
func (s *Stream) InSphere(dst, center []float64, radius float64) {
	s.UnitVector(dst)
	r := radius * math.Pow(s.r.Float64(), 1/float64(len(dst)))
	floats.AddScaledTo(dst, center, r, dst)
}

// Shuffle performs a Fisher-Yates shuffle of idx, drawing j = floor(U*(i+1)).
func (s *Stream) Shuffle(idx []int) {
	for i := len(idx) - 1; i > 0; i-- {
		j := int(s.r.Float64() * float64(i+1))
		idx[i], idx[j] = idx[j], idx[i]
	}
}
