// Package partition splits a population into contiguous row ranges, one per
// worker. The same split is used for thread chunks inside a worker.
package partition

import (
	"fmt"
	"sort"
)

// Partition is the contiguous row range [Start, Start+Rows) owned by a worker.
type Partition struct {
	Rows  int `json:"rows"`
	Start int `json:"start"`
}

// End returns the exclusive end row.
func (p Partition) End() int {
	return p.Start + p.Rows
}

// Contains reports whether the global row index belongs to p.
func (p Partition) Contains(row int) bool {
	return row >= p.Start && row < p.End()
}

// For returns the partition owned by rank. Ranks below the remainder own one
// extra row.
func For(population, workers, rank int) (Partition, error) {
	if population <= 0 {
		return Partition{}, fmt.Errorf("population must be positive, got %d", population)
	}
	if workers <= 0 {
		return Partition{}, fmt.Errorf("worker count must be positive, got %d", workers)
	}
	if rank < 0 || rank >= workers {
		return Partition{}, fmt.Errorf("rank %d outside [0, %d)", rank, workers)
	}

	base := population / workers
	rem := population % workers

	if rank < rem {
		return Partition{Rows: base + 1, Start: rank * (base + 1)}, nil
	}
	return Partition{Rows: base, Start: rem*(base+1) + (rank-rem)*base}, nil
}

// All returns the partition of every rank, indexed by rank.
func All(population, workers int) ([]Partition, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", workers)
	}
	parts := make([]Partition, workers)
	for r := range parts {
		p, err := For(population, workers, r)
		if err != nil {
			return nil, err
		}
		parts[r] = p
	}
	return parts, nil
}

// Owner returns the rank whose partition contains row, or -1.
func Owner(parts []Partition, row int) int {
	r := sort.Search(len(parts), func(i int) bool { return parts[i].End() > row })
	if r < len(parts) && parts[r].Contains(row) {
		return r
	}
	return -1
}

// Counts returns the row counts and start offsets of parts, in the layout a
// scatter expects.
func Counts(parts []Partition) (counts, displs []int) {
	counts = make([]int, len(parts))
	displs = make([]int, len(parts))
	for i, p := range parts {
		counts[i] = p.Rows
		displs[i] = p.Start
	}
	return counts, displs
}
