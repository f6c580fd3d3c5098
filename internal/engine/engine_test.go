package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/cwbudde/ravenroost/internal/comm"
	"github.com/cwbudde/ravenroost/internal/config"
	"github.com/cwbudde/ravenroost/internal/dataset"
	"github.com/cwbudde/ravenroost/internal/objective"
	"github.com/cwbudde/ravenroost/internal/partition"
	"github.com/cwbudde/ravenroost/internal/store"
	"github.com/google/go-cmp/cmp"
)

// runWorld launches every rank of an in-process world and returns the
// per-rank results.
func runWorld(t *testing.T, cfg config.Config, workers int, opts ...Option) []Result {
	t.Helper()
	results := make([]Result, workers)
	err := comm.RunLocal(context.Background(), workers, func(ctx context.Context, c *comm.Comm) error {
		res, err := Launch(ctx, cfg, c, opts...)
		if err != nil {
			return err
		}
		results[c.Rank()] = res
		return nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	return results
}

func assertSameLeader(t *testing.T, results []Result) {
	t.Helper()
	for r := 1; r < len(results); r++ {
		if diff := cmp.Diff(results[0].Leader, results[r].Leader); diff != "" {
			t.Errorf("rank %d leader differs from rank 0 (-rank0 +rank%d):\n%s", r, r, diff)
		}
	}
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := smallConfig()
	results := runWorld(t, cfg, 2)

	assertSameLeader(t, results)
	for r, res := range results {
		if res.Partition.Rows != 4 {
			t.Errorf("rank %d owns %d rows, want 4", r, res.Partition.Rows)
		}
		if res.Leader.Fitness > res.Initial.Fitness {
			t.Errorf("rank %d: leader fitness %v worse than initial %v", r, res.Leader.Fitness, res.Initial.Fitness)
		}
		if !(Bounds{Lower: cfg.Lower, Upper: cfg.Upper}).Contains(res.Leader.Position) {
			t.Errorf("rank %d: leader position %v outside bounds", r, res.Leader.Position)
		}
		if res.Iterations != 1 || len(res.History) != 2 {
			t.Errorf("rank %d: iterations %d, history %v", r, res.Iterations, res.History)
		}
		if res.MaxCompute < res.Compute || res.MaxTotal < res.Total {
			t.Errorf("rank %d: max timings below local timings", r)
		}
	}
}

func TestRun_ZeroIterationsReturnsInitialBest(t *testing.T) {
	cfg := smallConfig()
	cfg.Iterations = 0

	initial := dataset.Random(partition.Partition{Rows: cfg.Population}, cfg.Features, cfg.Lower, cfg.Upper, cfg.Seed)
	obj := objective.Griewank{Threads: 1}
	best := math.Inf(1)
	for i := 0; i < cfg.Population; i++ {
		best = math.Min(best, obj.Evaluate(initial[i*cfg.Features:(i+1)*cfg.Features]))
	}

	results := runWorld(t, cfg, 2)
	for r, res := range results {
		if res.Leader.Fitness != best {
			t.Errorf("rank %d: leader fitness %v, want initial best %v", r, res.Leader.Fitness, best)
		}
		if res.Iterations != 0 {
			t.Errorf("rank %d: ran %d iterations", r, res.Iterations)
		}
	}
}

func TestRun_Deterministic(t *testing.T) {
	cfg := smallConfig()
	cfg.Population = 30
	cfg.Features = 4
	cfg.Iterations = 6
	cfg.FlightSteps = 3
	cfg.LookoutSteps = 3
	cfg.Threads = 3
	cfg.Seed = 1768210034

	for _, measure := range []bool{true, false} {
		cfg.MeasureSpeedup = measure
		a := runWorld(t, cfg, 3)
		b := runWorld(t, cfg, 3)

		assertSameLeader(t, a)
		for r := range a {
			if diff := cmp.Diff(a[r].History, b[r].History); diff != "" {
				t.Errorf("measure=%v rank %d: trajectories differ (-first +second):\n%s", measure, r, diff)
			}
		}
		if diff := cmp.Diff(a[0].Leader, b[0].Leader); diff != "" {
			t.Errorf("measure=%v: leaders differ (-first +second):\n%s", measure, diff)
		}
	}
}

func TestRun_LeaderNeverWorsens(t *testing.T) {
	cfg := smallConfig()
	cfg.Population = 40
	cfg.Features = 6
	cfg.Iterations = 10
	cfg.FlightSteps = 4
	cfg.LookoutSteps = 4
	cfg.Lower, cfg.Upper = -600, 600
	cfg.Radius = 100

	results := runWorld(t, cfg, 4)
	h := results[0].History
	for i := 1; i < len(h); i++ {
		if h[i] > h[i-1] {
			t.Errorf("leader fitness increased at iteration %d: %v -> %v", i-1, h[i-1], h[i])
		}
	}
}

func TestRun_RecordsConvergence(t *testing.T) {
	cfg := smallConfig()
	cfg.Iterations = 3
	cfg.Convergence = true

	var (
		mu   sync.Mutex
		recs []store.ConvergenceRecord
	)
	rec := RecorderFunc(func(r store.ConvergenceRecord) error {
		mu.Lock()
		defer mu.Unlock()
		recs = append(recs, r)
		return nil
	})

	results := runWorld(t, cfg, 2, WithRecorder(rec), WithRunID("run-1"))

	if len(recs) != 2*cfg.Iterations {
		t.Fatalf("got %d records, want %d", len(recs), 2*cfg.Iterations)
	}
	for _, r := range recs {
		if r.RunID != "run-1" {
			t.Errorf("record not tagged: %+v", r)
		}
		if r.Improvement != r.PreviousBest-r.Fitness || r.Improvement < 0 {
			t.Errorf("inconsistent improvement: %+v", r)
		}
		if r.Fitness != results[0].History[r.Iteration+1] {
			t.Errorf("record fitness %v differs from history %v", r.Fitness, results[0].History[r.Iteration+1])
		}
	}
}

func TestRun_RecorderDisabledByConfig(t *testing.T) {
	cfg := smallConfig()
	called := false
	runWorld(t, cfg, 1, WithRecorder(RecorderFunc(func(store.ConvergenceRecord) error {
		called = true
		return nil
	})))
	if called {
		t.Error("recorder called although convergence recording is off")
	}
}

func TestRun_StagnationStopsAllRanks(t *testing.T) {
	cfg := smallConfig()
	cfg.Iterations = 10
	cfg.Patience = 2

	flat := objective.Func(func([]float64) float64 { return 1 })
	results := make([]Result, 2)
	err := comm.RunLocal(context.Background(), 2, func(ctx context.Context, c *comm.Comm) error {
		w, err := NewWorker(cfg, c, flat)
		if err != nil {
			return err
		}
		initial, err := InitialPositions(cfg, w.Partition())
		if err != nil {
			return err
		}
		results[c.Rank()], err = w.Run(ctx, initial)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	for r, res := range results {
		if !res.Converged || res.Iterations != 2 {
			t.Errorf("rank %d: converged=%v after %d iterations, want true after 2", r, res.Converged, res.Iterations)
		}
	}
}

func TestRun_FromDataset(t *testing.T) {
	path, err := dataset.WriteFile(t.TempDir(), 12, 3, -5, 5, 9)
	if err != nil {
		t.Fatal(err)
	}

	cfg := smallConfig()
	cfg.Dataset = path
	cfg.Iterations = 0
	if err := cfg.ApplyDatasetDims(); err != nil {
		t.Fatal(err)
	}

	rows, err := dataset.ReadRows(path, partition.Partition{Rows: 12}, 3)
	if err != nil {
		t.Fatal(err)
	}
	obj := objective.Griewank{Threads: 1}
	best := math.Inf(1)
	for i := 0; i < 12; i++ {
		best = math.Min(best, obj.Evaluate(rows[i*3:(i+1)*3]))
	}

	results := runWorld(t, cfg, 3)
	if results[0].Leader.Fitness != best {
		t.Errorf("leader fitness %v, want dataset best %v", results[0].Leader.Fitness, best)
	}
	if len(results[2].Leader.Position) != 3 {
		t.Errorf("leader has %d features, want 3", len(results[2].Leader.Position))
	}
}

func TestLaunch_MoreWorkersThanRavens(t *testing.T) {
	cfg := smallConfig()
	cfg.Population = 2

	err := comm.RunLocal(context.Background(), 3, func(ctx context.Context, c *comm.Comm) error {
		_, err := Launch(ctx, cfg, c)
		return err
	})
	var ve *config.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError when workers exceed population, got %v", err)
	}
	if ve.Field != "workers" {
		t.Errorf("Field = %q, want workers", ve.Field)
	}
}

func TestLaunch_CanceledContext(t *testing.T) {
	cfg := smallConfig()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := comm.RunLocal(ctx, 2, func(ctx context.Context, c *comm.Comm) error {
		_, err := Launch(ctx, cfg, c)
		return err
	})
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestResult_RunResult(t *testing.T) {
	cfg := smallConfig()
	cfg.Iterations = 2
	res := runWorld(t, cfg, 2)[0]

	rr := res.RunResult("run-7", cfg)
	if err := rr.Validate(); err != nil {
		t.Fatalf("converted result invalid: %v", err)
	}
	if rr.Workers != 2 || rr.Iterations != 2 || rr.LeaderIndex != res.Leader.GlobalIndex {
		t.Errorf("unexpected run result: %+v", rr)
	}
	if rr.Improvement() < 0 {
		t.Errorf("negative improvement %v", rr.Improvement())
	}

	tm := res.Timings(cfg, "")
	if got, want := tm.FileName(), "exec_timings_np2_iter2_pop8_feat2.log"; got != want {
		t.Errorf("timings file %q, want %q", got, want)
	}
}
