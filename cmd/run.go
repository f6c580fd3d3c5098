package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/cwbudde/ravenroost/internal/comm"
	"github.com/cwbudde/ravenroost/internal/config"
	"github.com/cwbudde/ravenroost/internal/engine"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	runWorkers int
	runID      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an optimization with workers in this process",
	Long: `Runs the Raven Roost search on an in-process world of --workers ranks and
writes the result, the timing report and, with --convergence, the
per-iteration leader samples to --output-dir.`,
	Args: cobra.NoArgs,
	RunE: runOptimization,
}

func init() {
	config.RegisterFlags(runCmd.Flags())
	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 1, "Number of workers")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (default: random UUID)")
	rootCmd.AddCommand(runCmd)
}

func runOptimization(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if runWorkers <= 0 {
		return fmt.Errorf("--workers must be positive, got %d", runWorkers)
	}
	id := runID
	if id == "" {
		id = uuid.New().String()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting optimization",
		"run_id", id,
		"workers", runWorkers,
		"population", cfg.Population,
		"features", cfg.Features,
		"iterations", cfg.Iterations,
		"objective", cfg.Objective,
	)

	res, err := runLocalWorld(ctx, cfg, id, runWorkers)
	if err != nil {
		return err
	}
	if err := saveOutputs(cfg, id, res); err != nil {
		return err
	}
	printResult(cmd, id, res)
	return nil
}

// runLocalWorld runs every rank as a goroutine and returns rank 0's result.
// The config goes through the same broadcast a multi-process world uses.
func runLocalWorld(ctx context.Context, cfg config.Config, id string, workers int) (engine.Result, error) {
	var result engine.Result
	err := comm.RunLocal(ctx, workers, func(ctx context.Context, c *comm.Comm) error {
		local := cfg
		if c.Rank() != comm.Root {
			local = config.Config{}
		}
		local, err := config.Broadcast(ctx, c, local)
		if err != nil {
			return err
		}

		rec, closeRec, err := openRecorder(local, id, c.Rank())
		if err != nil {
			return err
		}
		defer closeRec()

		opts := []engine.Option{engine.WithRunID(id), engine.WithLogger(rankLogger(c.Rank()))}
		if rec != nil {
			opts = append(opts, engine.WithRecorder(rec))
		}
		res, err := engine.Launch(ctx, local, c, opts...)
		if err != nil {
			return err
		}
		if c.Rank() == comm.Root {
			result = res
		}
		return nil
	})
	return result, err
}
