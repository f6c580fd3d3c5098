package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/cwbudde/ravenroost/internal/comm"
	"github.com/cwbudde/ravenroost/internal/partition"
	"github.com/cwbudde/ravenroost/internal/rng"
)

// FollowerFraction is the share of the population following the leader.
const FollowerFraction = 0.2

// FollowerCount returns ceil(0.2*n - 1) clamped to the n-1 non-leaders.
func FollowerCount(n int) int {
	c := int(math.Ceil(FollowerFraction*float64(n) - 1))
	return max(0, min(c, n-1))
}

// SelectFollowers marks FollowerCount(n) ravens, never the leader, using a
// Fisher-Yates shuffle of the non-leader indices.
func SelectFollowers(s *rng.Stream, n, leader int) []bool {
	flags := make([]bool, n)
	if n <= 1 {
		return flags
	}

	available := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if i != leader {
			available = append(available, i)
		}
	}
	s.Shuffle(available)

	count := min(FollowerCount(n), len(available))
	for _, idx := range available[:count] {
		flags[idx] = true
	}
	return flags
}

// DistributeFollowers selects followers on the root and scatters each
// worker's slice of the flags into dst. It returns the local follower count.
// s is only used on the root.
func DistributeFollowers(ctx context.Context, c *comm.Comm, s *rng.Stream, parts []partition.Partition, leader int, dst []bool) (int, error) {
	population := 0
	if len(parts) > 0 {
		population = parts[len(parts)-1].End()
	}
	if population <= 1 {
		clear(dst)
		return 0, nil
	}

	var send []int
	if c.Rank() == comm.Root {
		flags := SelectFollowers(s, population, leader)
		send = make([]int, population)
		for i, f := range flags {
			if f {
				send[i] = 1
			}
		}
	}

	counts, displs := partition.Counts(parts)
	recv := make([]int, len(dst))
	if err := c.Scatterv(ctx, comm.Root, send, counts, displs, recv); err != nil {
		return 0, fmt.Errorf("follower scatter: %w", err)
	}

	n := 0
	for i, v := range recv {
		dst[i] = v == 1
		if dst[i] {
			n++
		}
	}
	return n, nil
}
