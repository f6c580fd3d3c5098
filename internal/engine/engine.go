// Package engine runs the Raven Roost search on one worker. Workers own a
// contiguous slice of the population and meet at collective points to elect
// a global leader, pick followers and share the roosting site.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/ravenroost/internal/comm"
	"github.com/cwbudde/ravenroost/internal/config"
	"github.com/cwbudde/ravenroost/internal/objective"
	"github.com/cwbudde/ravenroost/internal/partition"
	"github.com/cwbudde/ravenroost/internal/rng"
	"github.com/cwbudde/ravenroost/internal/store"
	"golang.org/x/sync/errgroup"
)

// Recorder receives one convergence record per iteration.
type Recorder interface {
	Record(rec store.ConvergenceRecord) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(rec store.ConvergenceRecord) error

// Record implements Recorder.
func (f RecorderFunc) Record(rec store.ConvergenceRecord) error { return f(rec) }

// Option customises a Worker.
type Option func(*Worker)

// WithRecorder sets the convergence recorder. Records are only emitted when
// the config enables convergence recording.
func WithRecorder(r Recorder) Option {
	return func(w *Worker) { w.recorder = r }
}

// WithEarlyStop overrides the early-stop policy derived from the config.
func WithEarlyStop(p EarlyStopPolicy) Option {
	return func(w *Worker) { w.earlyStop = p }
}

// WithTargetPolicy overrides the follower target policy.
func WithTargetPolicy(p TargetPolicy) Option {
	return func(w *Worker) { w.targetPolicy = p }
}

// WithHeading overrides the flight heading.
func WithHeading(h Heading) Option {
	return func(w *Worker) { w.headingPolicy = h }
}

// WithLogger sets the logger. The default is slog.Default() tagged with the
// rank.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.log = l }
}

// WithRunID tags convergence records.
func WithRunID(id string) Option {
	return func(w *Worker) { w.runID = id }
}

// Worker is one participant of a run.
type Worker struct {
	cfg    config.Config
	comm   *comm.Comm
	obj    objective.Objective
	parts  []partition.Partition
	part   partition.Partition
	pop    *Population
	bounds Bounds

	rng        *rng.Stream // worker stream: roosting site and follower draws
	arenas     []*arena    // one per thread
	chunks     []partition.Partition
	lookRadius float64
	anchor     []float64

	earlyStop     EarlyStopPolicy
	targetPolicy  TargetPolicy
	headingPolicy Heading
	recorder      Recorder
	runID         string
	log           *slog.Logger
}

// Result is the outcome of a run as seen by one worker. Leader and timings
// maxima are identical on every worker.
type Result struct {
	Leader     Leader
	Initial    Leader
	Iterations int
	Converged  bool
	LookRadius float64
	Followers  int // local followers in the last assignment
	History    []float64
	Total      time.Duration // this worker, including setup
	Compute    time.Duration // this worker, since the start barrier
	MaxTotal   time.Duration
	MaxCompute time.Duration
	Partition  partition.Partition
	WorldSize  int
}

// NewWorker prepares the worker of c.Rank(). cfg must be identical on every
// rank.
func NewWorker(cfg config.Config, c *comm.Comm, obj objective.Objective, opts ...Option) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ValidateWorkers(c.Size()); err != nil {
		return nil, err
	}
	parts, err := partition.All(cfg.Population, c.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to partition population: %w", err)
	}
	part := parts[c.Rank()]

	threads := min(cfg.Threads, part.Rows)
	chunks, err := partition.All(part.Rows, threads)
	if err != nil {
		return nil, fmt.Errorf("failed to split rows across threads: %w", err)
	}

	w := &Worker{
		cfg:        cfg,
		comm:       c,
		obj:        obj,
		parts:      parts,
		part:       part,
		pop:        NewPopulation(part.Rows, cfg.Features),
		bounds:     Bounds{Lower: cfg.Lower, Upper: cfg.Upper},
		rng:        rng.ForWorker(cfg.Seed, c.Rank()),
		chunks:     chunks,
		lookRadius: LookRadius(cfg.Radius, cfg.Population, cfg.Features),
		anchor:     make([]float64, cfg.Features),
	}
	for t := range chunks {
		w.arenas = append(w.arenas, newArena(rng.ForThread(cfg.Seed, c.Rank(), t), cfg.Features))
	}

	switch {
	case cfg.MeasureSpeedup || cfg.EarlyStopProbability == 0:
		w.earlyStop = NeverStop{}
	default:
		w.earlyStop = RandomStop{P: cfg.EarlyStopProbability}
	}
	if cfg.TargetPolicy == config.TargetPerStep {
		w.targetPolicy = PerStepTarget
	}
	if cfg.Heading == config.HeadingTarget {
		w.headingPolicy = TargetHeading
	}

	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = slog.Default().With("rank", c.Rank())
	}
	return w, nil
}

// Partition returns the rows owned by this worker.
func (w *Worker) Partition() partition.Partition {
	return w.part
}

// Population exposes the local population.
func (w *Worker) Population() *Population {
	return w.pop
}

// Run executes the search from initial, the flat [rows x features] starting
// positions of this worker's partition.
func (w *Worker) Run(ctx context.Context, initial []float64) (Result, error) {
	start := time.Now()

	if err := w.pop.Load(initial, w.bounds, w.obj); err != nil {
		return Result{}, err
	}
	if err := w.initAnchor(ctx); err != nil {
		return Result{}, err
	}

	if err := w.comm.Barrier(ctx); err != nil {
		return Result{}, fmt.Errorf("start barrier: %w", err)
	}
	computeStart := time.Now()

	if w.comm.Rank() == comm.Root {
		w.log.Info("Look radius", "r_pcpt", w.lookRadius)
	}

	w.pop.ResetToAnchor(w.anchor)

	leader, err := ElectGlobalLeader(ctx, w.comm, w.pop, w.parts, len(w.chunks))
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Initial:    leader,
		LookRadius: w.lookRadius,
		History:    []float64{leader.Fitness},
		Partition:  w.part,
		WorldSize:  w.comm.Size(),
	}
	if w.comm.Rank() == comm.Root {
		w.log.Info("Initial leader", "index", leader.GlobalIndex, "fitness", leader.Fitness)
	}

	res.Followers, err = DistributeFollowers(ctx, w.comm, w.rng, w.parts, leader.GlobalIndex, w.pop.Follower)
	if err != nil {
		return Result{}, err
	}
	w.log.Info("Followers assigned", "followers", res.Followers, "rows", w.part.Rows)

	tracker := NewConvergenceTracker(ConvergenceConfig{Patience: w.cfg.Patience, Threshold: w.cfg.Threshold})
	tracker.Update(leader.Fitness)
	prev := leader.Fitness

	for iter := 0; iter < w.cfg.Iterations; iter++ {
		if err := w.flyAll(ctx, leader.Position); err != nil {
			return Result{}, err
		}

		leader, err = ElectGlobalLeader(ctx, w.comm, w.pop, w.parts, len(w.chunks))
		if err != nil {
			return Result{}, err
		}
		res.History = append(res.History, leader.Fitness)
		w.log.Debug("Iteration complete", "iteration", iter, "leader", leader.GlobalIndex, "fitness", leader.Fitness)

		if w.cfg.Convergence && w.recorder != nil {
			rec := store.ConvergenceRecord{
				RunID:        w.runID,
				Iteration:    iter,
				Rank:         w.comm.Rank(),
				Fitness:      leader.Fitness,
				Elapsed:      time.Since(computeStart),
				LeaderIndex:  leader.GlobalIndex,
				Improvement:  prev - leader.Fitness,
				PreviousBest: prev,
			}
			if err := w.recorder.Record(rec); err != nil {
				return Result{}, fmt.Errorf("failed to record iteration %d: %w", iter, err)
			}
		}
		prev = leader.Fitness

		res.Followers, err = DistributeFollowers(ctx, w.comm, w.rng, w.parts, leader.GlobalIndex, w.pop.Follower)
		if err != nil {
			return Result{}, err
		}
		w.pop.ResetToAnchor(w.anchor)
		res.Iterations = iter + 1

		// Every rank feeds the same broadcast fitness, so all stop together.
		if tracker.Update(leader.Fitness) {
			res.Converged = true
			if w.comm.Rank() == comm.Root {
				w.log.Info("Leader stagnated, stopping early", "iteration", iter, "patience", w.cfg.Patience)
			}
			break
		}
	}

	res.Leader = leader
	if w.comm.Rank() == comm.Root {
		w.log.Info("Finished execution", "index", leader.GlobalIndex, "fitness", leader.Fitness, "iterations", res.Iterations)
	}

	if err := w.comm.Barrier(ctx); err != nil {
		return Result{}, fmt.Errorf("end barrier: %w", err)
	}
	res.Total = time.Since(start)
	res.Compute = time.Since(computeStart)

	_, hi, err := w.comm.AllreduceMinMax(ctx, res.Total.Seconds())
	if err != nil {
		return Result{}, fmt.Errorf("timing reduction: %w", err)
	}
	res.MaxTotal = seconds(hi)
	_, hi, err = w.comm.AllreduceMinMax(ctx, res.Compute.Seconds())
	if err != nil {
		return Result{}, fmt.Errorf("timing reduction: %w", err)
	}
	res.MaxCompute = seconds(hi)
	return res, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// initAnchor draws the roosting site on the root, broadcasts it and checks
// that every worker holds the same vector.
func (w *Worker) initAnchor(ctx context.Context) error {
	if w.comm.Rank() == comm.Root {
		for j := range w.anchor {
			w.anchor[j] = w.rng.Interval(w.cfg.Lower, w.cfg.Upper)
		}
	}
	if err := w.comm.BroadcastFloats(ctx, comm.Root, w.anchor); err != nil {
		return fmt.Errorf("roosting site broadcast: %w", err)
	}
	return AssertVector(ctx, w.comm, "roosting site", w.anchor)
}

// flyAll runs every local raven's flight. Thread t always processes chunk t
// with arena t, so results depend only on the seed and the thread count.
func (w *Worker) flyAll(ctx context.Context, leader []float64) error {
	if len(w.chunks) == 1 {
		return w.flyChunk(ctx, w.arenas[0], w.chunks[0], leader)
	}

	g, gctx := errgroup.WithContext(ctx)
	for t, ch := range w.chunks {
		g.Go(func() error {
			return w.flyChunk(gctx, w.arenas[t], ch, leader)
		})
	}
	return g.Wait()
}

func (w *Worker) flyChunk(ctx context.Context, a *arena, ch partition.Partition, leader []float64) error {
	for i := ch.Start; i < ch.End(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.fly(ctx, a, i, leader)
	}
	return nil
}
