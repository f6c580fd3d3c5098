package engine

import (
	"context"
	"fmt"

	"github.com/cwbudde/ravenroost/internal/comm"
	"github.com/cwbudde/ravenroost/internal/config"
	"github.com/cwbudde/ravenroost/internal/dataset"
	"github.com/cwbudde/ravenroost/internal/objective"
	"github.com/cwbudde/ravenroost/internal/partition"
)

// InitialPositions loads the rows of part from the configured dataset, or
// draws them at random when no dataset is configured.
func InitialPositions(cfg config.Config, part partition.Partition) ([]float64, error) {
	if cfg.Dataset == "" {
		return dataset.Random(part, cfg.Features, cfg.Lower, cfg.Upper, cfg.Seed), nil
	}
	buf, err := dataset.ReadRows(cfg.Dataset, part, cfg.Features)
	if err != nil {
		return nil, fmt.Errorf("failed to load rows [%d, %d): %w", part.Start, part.End(), err)
	}
	return buf, nil
}

// Launch builds the objective and the worker of c.Rank(), loads its initial
// positions and runs the search.
func Launch(ctx context.Context, cfg config.Config, c *comm.Comm, opts ...Option) (Result, error) {
	part, err := partition.For(cfg.Population, c.Size(), c.Rank())
	if err != nil {
		return Result{}, err
	}

	// Threads go to the ravens; the objective only gets them when a worker
	// owns fewer ravens than threads.
	objThreads := 1
	if part.Rows < cfg.Threads {
		objThreads = cfg.Threads
	}
	obj, err := objective.ByName(cfg.Objective, objThreads)
	if err != nil {
		return Result{}, err
	}

	w, err := NewWorker(cfg, c, obj, opts...)
	if err != nil {
		return Result{}, err
	}

	initial, err := InitialPositions(cfg, part)
	if err != nil {
		return Result{}, err
	}
	return w.Run(ctx, initial)
}
