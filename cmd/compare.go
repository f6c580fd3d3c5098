package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"runtime"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/ravenroost/internal/config"
	"github.com/cwbudde/ravenroost/internal/objective"
	"github.com/cwbudde/ravenroost/internal/opt"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	compareTrials     int
	compareParallel   int
	compareWorkers    int
	compareOptimizers []string
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare Raven Roost against baseline optimizers",
	Long: `Runs --trials independent trials of every optimizer on the configured
objective, with seeds seed, seed+1, ..., and prints fitness statistics.
Mayfly runs with the same population, iteration budget and seeds.`,
	Args: cobra.NoArgs,
	RunE: runCompare,
}

func init() {
	config.RegisterFlags(compareCmd.Flags())
	compareCmd.Flags().IntVar(&compareTrials, "trials", 10, "Trials per optimizer")
	compareCmd.Flags().IntVar(&compareParallel, "parallel", runtime.NumCPU(), "Trials run concurrently")
	compareCmd.Flags().IntVarP(&compareWorkers, "workers", "w", 1, "Workers per Raven Roost trial")
	compareCmd.Flags().StringSliceVar(&compareOptimizers, "optimizers", opt.Names(), "Optimizers to compare")
	rootCmd.AddCommand(compareCmd)
}

// trial is the outcome of one optimizer run.
type trial struct {
	Optimizer   string
	Seed        uint64
	Fitness     float64
	Evaluations int64
	Elapsed     time.Duration
}

// summary aggregates the trials of one optimizer.
type summary struct {
	Optimizer   string
	Trials      int
	Best        float64
	Mean        float64
	StdDev      float64
	Median      float64
	Evaluations float64
	Elapsed     time.Duration
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if compareTrials <= 0 || compareParallel <= 0 {
		return fmt.Errorf("--trials and --parallel must be positive")
	}
	for _, name := range compareOptimizers {
		if _, err := opt.ByName(name, cfg, compareWorkers); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting comparison",
		"optimizers", compareOptimizers,
		"trials", compareTrials,
		"objective", cfg.Objective,
		"population", cfg.Population,
		"features", cfg.Features,
	)

	trials, err := runTrials(ctx, cfg, compareOptimizers, compareTrials, compareParallel, compareWorkers)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OPTIMIZER\tTRIALS\tBEST\tMEAN\tSTDDEV\tMEDIAN\tEVALS\tTIME")
	for _, s := range summarize(trials) {
		fmt.Fprintf(w, "%s\t%d\t%.6g\t%.6g\t%.3g\t%.6g\t%.0f\t%s\n",
			s.Optimizer, s.Trials, s.Best, s.Mean, s.StdDev, s.Median, s.Evaluations, s.Elapsed.Round(time.Millisecond))
	}
	return w.Flush()
}

// runTrials runs every optimizer on seeds cfg.Seed .. cfg.Seed+n-1, at most
// parallel trials at a time. The first failure cancels the rest.
func runTrials(ctx context.Context, cfg config.Config, names []string, n, parallel, workers int) ([]trial, error) {
	p := pool.NewWithResults[trial]().
		WithContext(ctx).
		WithCancelOnError().
		WithMaxGoroutines(parallel)

	for i := 0; i < n; i++ {
		for _, name := range names {
			tcfg := cfg
			tcfg.Seed = cfg.Seed + uint64(i)
			p.Go(func(ctx context.Context) (trial, error) {
				return runTrial(ctx, tcfg, name, workers)
			})
		}
	}

	trials, err := p.Wait()
	if err != nil {
		return nil, err
	}
	sort.Slice(trials, func(i, j int) bool {
		if trials[i].Optimizer != trials[j].Optimizer {
			return trials[i].Optimizer < trials[j].Optimizer
		}
		return trials[i].Seed < trials[j].Seed
	})
	return trials, nil
}

func runTrial(ctx context.Context, cfg config.Config, name string, workers int) (trial, error) {
	o, err := opt.ByName(name, cfg, workers)
	if err != nil {
		return trial{}, err
	}
	obj, err := objective.ByName(cfg.Objective, 1)
	if err != nil {
		return trial{}, err
	}

	start := time.Now()
	out, err := o.Run(ctx, opt.Problem{
		Objective: obj,
		Features:  cfg.Features,
		Lower:     cfg.Lower,
		Upper:     cfg.Upper,
	})
	if err != nil {
		return trial{}, fmt.Errorf("%s trial with seed %d: %w", name, cfg.Seed, err)
	}
	slog.Debug("Trial finished", "optimizer", name, "seed", cfg.Seed, "fitness", out.Fitness)

	return trial{
		Optimizer:   name,
		Seed:        cfg.Seed,
		Fitness:     out.Fitness,
		Evaluations: out.Evaluations,
		Elapsed:     time.Since(start),
	}, nil
}

// summarize groups trials by optimizer, in order of first appearance.
func summarize(trials []trial) []summary {
	var order []string
	byName := make(map[string][]trial)
	for _, t := range trials {
		if _, ok := byName[t.Optimizer]; !ok {
			order = append(order, t.Optimizer)
		}
		byName[t.Optimizer] = append(byName[t.Optimizer], t)
	}

	out := make([]summary, 0, len(order))
	for _, name := range order {
		ts := byName[name]
		fit := make([]float64, len(ts))
		evals := make([]float64, len(ts))
		var elapsed time.Duration
		for i, t := range ts {
			fit[i] = t.Fitness
			evals[i] = float64(t.Evaluations)
			elapsed += t.Elapsed
		}

		s := summary{Optimizer: name, Trials: len(ts), Best: floats.Min(fit)}
		s.Mean, s.StdDev = stat.MeanStdDev(fit, nil)
		if len(ts) == 1 {
			s.StdDev = 0
		}
		sort.Float64s(fit)
		s.Median = stat.Quantile(0.5, stat.Empirical, fit, nil)
		s.Evaluations = stat.Mean(evals, nil)
		s.Elapsed = elapsed / time.Duration(len(ts))
		out = append(out, s)
	}
	return out
}
