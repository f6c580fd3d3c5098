package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/cwbudde/ravenroost/internal/comm"
	"github.com/cwbudde/ravenroost/internal/partition"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// ConsistencyEpsilon is the largest norm spread tolerated for a vector that
// must be identical on every worker.
const ConsistencyEpsilon = 1e-12

// Candidate identifies one raven competing for leadership.
type Candidate struct {
	Fitness float64
	Rank    int
	Index   int
}

// LessCandidate orders candidates by fitness, then rank, then local index.
func LessCandidate(a, b Candidate) bool {
	if a.Fitness != b.Fitness {
		return a.Fitness < b.Fitness
	}
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.Index < b.Index
}

func minCandidate(a, b Candidate) Candidate {
	if LessCandidate(b, a) {
		return b
	}
	return a
}

// SelectLocalBest returns the index and fitness of the smallest value; the
// first occurrence wins ties. An empty slice yields (-1, +Inf).
func SelectLocalBest(fitness []float64) (int, float64) {
	best, bestFit := -1, math.Inf(1)
	for i, f := range fitness {
		if best < 0 || f < bestFit {
			best, bestFit = i, f
		}
	}
	return best, bestFit
}

// SelectLocalBestParallel scans static chunks concurrently and combines the
// partial results with minCandidate, giving the same answer as
// SelectLocalBest for any thread count.
func SelectLocalBestParallel(fitness []float64, threads int) (int, float64) {
	if threads <= 1 || len(fitness) < 2*threads {
		return SelectLocalBest(fitness)
	}

	chunks, err := partition.All(len(fitness), threads)
	if err != nil {
		return SelectLocalBest(fitness)
	}

	partial := make([]Candidate, len(chunks))
	var g errgroup.Group
	for t, ch := range chunks {
		g.Go(func() error {
			i, f := SelectLocalBest(fitness[ch.Start:ch.End()])
			partial[t] = Candidate{Fitness: f, Index: ch.Start + i}
			return nil
		})
	}
	g.Wait()

	best := partial[0]
	for _, c := range partial[1:] {
		best = minCandidate(best, c)
	}
	return best.Index, best.Fitness
}

func encodeCandidate(c Candidate) comm.Message {
	return comm.Message{Floats: []float64{c.Fitness}, Ints: []int{c.Rank, c.Index}}
}

func decodeCandidate(m comm.Message) (Candidate, error) {
	if len(m.Floats) != 1 || len(m.Ints) != 2 {
		return Candidate{}, fmt.Errorf("malformed candidate: %d floats, %d ints", len(m.Floats), len(m.Ints))
	}
	return Candidate{Fitness: m.Floats[0], Rank: m.Ints[0], Index: m.Ints[1]}, nil
}

// LeaderMin is the all-reduce operator electing the global leader.
var LeaderMin = comm.ReduceOp{
	Name: "leader-min",
	Combine: func(a, b comm.Message) comm.Message {
		ca, _ := decodeCandidate(a)
		cb, _ := decodeCandidate(b)
		return encodeCandidate(minCandidate(ca, cb))
	},
}

// AllreduceCandidate returns the smallest candidate over all ranks.
func AllreduceCandidate(ctx context.Context, c *comm.Comm, local Candidate) (Candidate, error) {
	out, err := c.Allreduce(ctx, LeaderMin, encodeCandidate(local))
	if err != nil {
		return Candidate{}, err
	}
	return decodeCandidate(out)
}

// Leader is the best raven across all workers. Every worker holds an
// identical copy after an election.
type Leader struct {
	Fitness     float64
	Rank        int
	LocalIndex  int
	GlobalIndex int
	Position    []float64
}

// ElectGlobalLeader runs the distributed argmin: local scan, all-reduce over
// candidates, broadcast of the winner's food source from the winning rank and
// broadcast of its global index from the root.
func ElectGlobalLeader(ctx context.Context, c *comm.Comm, pop *Population, parts []partition.Partition, threads int) (Leader, error) {
	idx, fit := SelectLocalBestParallel(pop.Fitness, threads)
	winner, err := AllreduceCandidate(ctx, c, Candidate{Fitness: fit, Rank: c.Rank(), Index: idx})
	if err != nil {
		return Leader{}, fmt.Errorf("leader election: %w", err)
	}
	if winner.Rank < 0 || winner.Rank >= len(parts) {
		return Leader{}, fmt.Errorf("leader election: winner rank %d outside world of %d", winner.Rank, len(parts))
	}

	pos := make([]float64, pop.Features)
	if c.Rank() == winner.Rank {
		copy(pos, pop.FoodRow(winner.Index))
	}
	if err := c.BroadcastFloats(ctx, winner.Rank, pos); err != nil {
		return Leader{}, fmt.Errorf("leader position broadcast: %w", err)
	}

	global := -1
	if c.Rank() == comm.Root {
		global = parts[winner.Rank].Start + winner.Index
	}
	global, err = c.BroadcastInt(ctx, comm.Root, global)
	if err != nil {
		return Leader{}, fmt.Errorf("leader index broadcast: %w", err)
	}

	return Leader{
		Fitness:     winner.Fitness,
		Rank:        winner.Rank,
		LocalIndex:  winner.Index,
		GlobalIndex: global,
		Position:    pos,
	}, nil
}

// ConsistencyError reports a vector that differs between workers.
type ConsistencyError struct {
	Vector string
	Spread float64
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("vector %q diverged across workers: norm spread %g exceeds %g", e.Vector, e.Spread, ConsistencyEpsilon)
}

// AssertVector checks that v has the same Euclidean norm on every worker.
// Every rank sees the same spread, so all of them fail together.
func AssertVector(ctx context.Context, c *comm.Comm, name string, v []float64) error {
	lo, hi, err := c.AllreduceMinMax(ctx, floats.Norm(v, 2))
	if err != nil {
		return fmt.Errorf("consistency check of %q: %w", name, err)
	}
	if spread := hi - lo; spread > ConsistencyEpsilon {
		return &ConsistencyError{Vector: name, Spread: spread}
	}
	return nil
}
