package comm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/ravenroost/internal/partition"
	"github.com/google/go-cmp/cmp"
)

func TestNewLocalWorld_InvalidSize(t *testing.T) {
	if _, err := NewLocalWorld(0); err == nil {
		t.Fatal("expected error for empty world")
	}
}

func TestBarrier(t *testing.T) {
	var mu sync.Mutex
	entered := 0

	err := RunLocal(context.Background(), 5, func(ctx context.Context, c *Comm) error {
		mu.Lock()
		entered++
		mu.Unlock()
		if err := c.Barrier(ctx); err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		if entered != c.Size() {
			return errors.New("left barrier before every rank entered")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunLocal failed: %v", err)
	}
}

func TestBroadcast(t *testing.T) {
	want := []float64{1.5, -2.25, 3.125}

	err := RunLocal(context.Background(), 4, func(ctx context.Context, c *Comm) error {
		buf := make([]float64, len(want))
		if c.Rank() == 2 {
			copy(buf, want)
		}
		if err := c.BroadcastFloats(ctx, 2, buf); err != nil {
			return err
		}
		if diff := cmp.Diff(want, buf); diff != "" {
			t.Errorf("rank %d floats mismatch (-want +got):\n%s", c.Rank(), diff)
		}

		v, err := c.BroadcastInt(ctx, Root, 100+c.Rank())
		if err != nil {
			return err
		}
		if v != 100 {
			t.Errorf("rank %d: BroadcastInt = %d, want 100", c.Rank(), v)
		}

		b, err := c.BroadcastBytes(ctx, 3, []byte{byte(c.Rank())})
		if err != nil {
			return err
		}
		if len(b) != 1 || b[0] != 3 {
			t.Errorf("rank %d: BroadcastBytes = %v, want [3]", c.Rank(), b)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunLocal failed: %v", err)
	}
}

func TestBroadcastFloats_LengthMismatch(t *testing.T) {
	err := RunLocal(context.Background(), 2, func(ctx context.Context, c *Comm) error {
		buf := make([]float64, 3+c.Rank())
		return c.BroadcastFloats(ctx, Root, buf)
	})
	var ce *CollectiveError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CollectiveError, got %v", err)
	}
	if ce.Rank != 1 {
		t.Errorf("failing rank = %d, want 1", ce.Rank)
	}
}

func TestAllreduce(t *testing.T) {
	sum := ReduceOp{
		Name: "sum",
		Combine: func(a, b Message) Message {
			return Message{Ints: []int{a.Ints[0] + b.Ints[0]}}
		},
	}

	err := RunLocal(context.Background(), 6, func(ctx context.Context, c *Comm) error {
		out, err := c.Allreduce(ctx, sum, Message{Ints: []int{c.Rank()}})
		if err != nil {
			return err
		}
		if out.Ints[0] != 15 {
			t.Errorf("rank %d: sum = %d, want 15", c.Rank(), out.Ints[0])
		}

		lo, hi, err := c.AllreduceMinMax(ctx, float64(c.Rank())*0.5-1)
		if err != nil {
			return err
		}
		if lo != -1 || hi != 1.5 {
			t.Errorf("rank %d: minmax = (%v, %v), want (-1, 1.5)", c.Rank(), lo, hi)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunLocal failed: %v", err)
	}
}

func TestScatterv(t *testing.T) {
	const population, workers = 10, 4
	parts, err := partition.All(population, workers)
	if err != nil {
		t.Fatal(err)
	}
	counts, displs := partition.Counts(parts)

	send := make([]int, population)
	for i := range send {
		send[i] = i * i
	}

	err = RunLocal(context.Background(), workers, func(ctx context.Context, c *Comm) error {
		p := parts[c.Rank()]
		recv := make([]int, p.Rows)
		var s []int
		if c.Rank() == Root {
			s = send
		}
		if err := c.Scatterv(ctx, Root, s, counts, displs, recv); err != nil {
			return err
		}
		if diff := cmp.Diff(send[p.Start:p.End()], recv); diff != "" {
			t.Errorf("rank %d segment mismatch (-want +got):\n%s", c.Rank(), diff)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunLocal failed: %v", err)
	}
}

func TestScatterv_EmptySegment(t *testing.T) {
	err := RunLocal(context.Background(), 3, func(ctx context.Context, c *Comm) error {
		counts := []int{2, 0, 1}
		displs := []int{0, 2, 2}
		recv := make([]int, counts[c.Rank()])
		return c.Scatterv(ctx, Root, []int{7, 8, 9}, counts, displs, recv)
	})
	if err != nil {
		t.Fatalf("RunLocal failed: %v", err)
	}
}

func TestRunLocal_FailureAbortsWorld(t *testing.T) {
	boom := errors.New("boom")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := RunLocal(ctx, 4, func(ctx context.Context, c *Comm) error {
		if c.Rank() == 3 {
			return boom
		}
		// Never completes without rank 3.
		return c.Barrier(ctx)
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected originating error, got %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("world hung until the deadline instead of aborting")
	}
}

func TestComm_MismatchedCollective(t *testing.T) {
	err := RunLocal(context.Background(), 2, func(ctx context.Context, c *Comm) error {
		if c.Rank() == Root {
			return c.Barrier(ctx)
		}
		_, _, err := c.AllreduceMinMax(ctx, 1)
		return err
	})
	if err == nil {
		t.Fatal("expected mismatched collectives to fail")
	}
}
