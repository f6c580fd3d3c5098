package opt

import (
	"context"
	"fmt"

	"github.com/cwbudde/ravenroost/internal/comm"
	"github.com/cwbudde/ravenroost/internal/config"
	"github.com/cwbudde/ravenroost/internal/engine"
)

// RavenRoost runs the distributed search on an in-process world of Workers
// ranks.
type RavenRoost struct {
	cfg     config.Config
	workers int
	opts    []engine.Option
}

// NewRavenRoost creates the adapter. Features and bounds of cfg are replaced
// by those of the problem at run time.
func NewRavenRoost(cfg config.Config, workers int, opts ...engine.Option) *RavenRoost {
	return &RavenRoost{cfg: cfg, workers: workers, opts: opts}
}

// Name implements Optimizer.
func (r *RavenRoost) Name() string { return "ravenroost" }

// Run implements Optimizer.
func (r *RavenRoost) Run(ctx context.Context, p Problem) (Outcome, error) {
	if err := p.Validate(); err != nil {
		return Outcome{}, err
	}
	cfg := r.cfg
	cfg.Features = p.Features
	cfg.Lower, cfg.Upper = p.Lower, p.Upper
	cfg.Dataset = ""

	obj := &counted{obj: p.Objective}
	var leader engine.Leader

	err := comm.RunLocal(ctx, r.workers, func(ctx context.Context, c *comm.Comm) error {
		w, err := engine.NewWorker(cfg, c, obj, r.opts...)
		if err != nil {
			return err
		}
		initial, err := engine.InitialPositions(cfg, w.Partition())
		if err != nil {
			return err
		}
		res, err := w.Run(ctx, initial)
		if err != nil {
			return err
		}
		if c.Rank() == comm.Root {
			leader = res.Leader
		}
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("raven roost run failed: %w", err)
	}

	return Outcome{
		Position:    leader.Position,
		Fitness:     leader.Fitness,
		Evaluations: obj.n.Load(),
	}, nil
}
