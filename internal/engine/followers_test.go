package engine

import (
	"context"
	"testing"

	"github.com/cwbudde/ravenroost/internal/comm"
	"github.com/cwbudde/ravenroost/internal/partition"
	"github.com/cwbudde/ravenroost/internal/rng"
	"github.com/google/go-cmp/cmp"
)

func TestFollowerCount(t *testing.T) {
	tests := []struct {
		n, want int
	}{
		{1, 0},
		{2, 0},
		{5, 0},
		{6, 1},
		{8, 1},
		{10, 1},
		{11, 2},
		{100, 19},
		{1000, 199},
	}
	for _, tt := range tests {
		if got := FollowerCount(tt.n); got != tt.want {
			t.Errorf("FollowerCount(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestSelectFollowers(t *testing.T) {
	s := rng.New(42, 52)
	for n := 1; n <= 60; n++ {
		for _, leader := range []int{0, n / 2, n - 1} {
			flags := SelectFollowers(s, n, leader)
			if len(flags) != n {
				t.Fatalf("n=%d: got %d flags", n, len(flags))
			}
			if flags[leader] {
				t.Fatalf("n=%d: leader %d marked as follower", n, leader)
			}
			count := 0
			for _, f := range flags {
				if f {
					count++
				}
			}
			if count != FollowerCount(n) {
				t.Fatalf("n=%d: %d followers, want %d", n, count, FollowerCount(n))
			}
		}
	}
}

func TestSelectFollowers_Deterministic(t *testing.T) {
	a := SelectFollowers(rng.New(7, 52), 50, 3)
	b := SelectFollowers(rng.New(7, 52), 50, 3)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same seed produced different followers (-a +b):\n%s", diff)
	}
}

func TestDistributeFollowers_Consistent(t *testing.T) {
	const population, workers, leader, seed = 23, 4, 9, 11

	parts, err := partition.All(population, workers)
	if err != nil {
		t.Fatal(err)
	}
	want := SelectFollowers(rng.ForWorker(seed, 0), population, leader)

	got := make([][]bool, workers)
	counts := make([]int, workers)
	err = comm.RunLocal(context.Background(), workers, func(ctx context.Context, c *comm.Comm) error {
		dst := make([]bool, parts[c.Rank()].Rows)
		n, err := DistributeFollowers(ctx, c, rng.ForWorker(seed, c.Rank()), parts, leader, dst)
		if err != nil {
			return err
		}
		got[c.Rank()] = dst
		counts[c.Rank()] = n
		return nil
	})
	if err != nil {
		t.Fatalf("distribution failed: %v", err)
	}

	var all []bool
	total := 0
	for r := range got {
		all = append(all, got[r]...)
		total += counts[r]
	}
	if diff := cmp.Diff(want, all); diff != "" {
		t.Errorf("scattered flags differ from root selection (-want +got):\n%s", diff)
	}
	if total != FollowerCount(population) {
		t.Errorf("total followers = %d, want %d", total, FollowerCount(population))
	}
}

func TestDistributeFollowers_SingleRaven(t *testing.T) {
	parts := []partition.Partition{{Rows: 1, Start: 0}}
	err := comm.RunLocal(context.Background(), 1, func(ctx context.Context, c *comm.Comm) error {
		dst := []bool{true}
		n, err := DistributeFollowers(ctx, c, rng.New(1, 52), parts, 0, dst)
		if err != nil {
			return err
		}
		if n != 0 || dst[0] {
			t.Errorf("single raven must not follow: n=%d flag=%v", n, dst[0])
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
