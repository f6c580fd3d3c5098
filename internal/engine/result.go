package engine

import (
	"time"

	"github.com/cwbudde/ravenroost/internal/config"
	"github.com/cwbudde/ravenroost/internal/store"
)

// RunResult converts the outcome into its persisted form.
func (r Result) RunResult(runID string, cfg config.Config) *store.RunResult {
	return &store.RunResult{
		RunID:          runID,
		Optimizer:      "ravenroost",
		Workers:        r.WorldSize,
		BestFitness:    r.Leader.Fitness,
		InitialFitness: r.Initial.Fitness,
		BestPosition:   append([]float64(nil), r.Leader.Position...),
		LeaderIndex:    r.Leader.GlobalIndex,
		Iterations:     r.Iterations,
		Converged:      r.Converged,
		TotalSeconds:   r.MaxTotal.Seconds(),
		ComputeSeconds: r.MaxCompute.Seconds(),
		History:        append([]float64(nil), r.History...),
		Timestamp:      time.Now(),
		Config:         cfg,
	}
}

// Timings returns the timing report of the run. placement is an optional
// label of how ranks were mapped to hosts.
func (r Result) Timings(cfg config.Config, placement string) store.Timings {
	return store.Timings{
		Placement:  placement,
		Workers:    r.WorldSize,
		Iterations: cfg.Iterations,
		Population: cfg.Population,
		Features:   cfg.Features,
		Total:      r.MaxTotal,
		Compute:    r.MaxCompute,
	}
}
