package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cwbudde/ravenroost/internal/config"
	"github.com/cwbudde/ravenroost/internal/engine"
	"github.com/cwbudde/ravenroost/internal/store"
	"github.com/spf13/cobra"
)

// placementEnv optionally tags timing reports with how ranks were placed on
// hosts.
const placementEnv = "PRRO_PLACEMENT"

// loadConfig merges defaults, the config file, the environment and the flags
// of cmd. A zero seed is replaced by one derived from the clock.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	v, err := config.NewViper(configFile)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
		slog.Info("Derived seed from clock", "seed", cfg.Seed)
	}
	return cfg, nil
}

// convergenceDB is the SQLite file shared by every run in an output
// directory.
func convergenceDB(outputDir string) string {
	return filepath.Join(outputDir, "convergence.db")
}

// openRecorder opens the convergence recorder of one rank. It returns a nil
// recorder when recording is off.
func openRecorder(cfg config.Config, runID string, rank int) (engine.Recorder, func() error, error) {
	noop := func() error { return nil }
	if !cfg.Convergence || cfg.Recorder == config.RecorderNone {
		return nil, noop, nil
	}

	switch cfg.Recorder {
	case config.RecorderJSONL:
		tw, err := store.NewTraceWriter(cfg.OutputDir, runID, rank, false)
		if err != nil {
			return nil, noop, err
		}
		return tw, tw.Close, nil
	case config.RecorderSQLite:
		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			return nil, noop, fmt.Errorf("failed to create output directory: %w", err)
		}
		rec, err := store.OpenSQLite(convergenceDB(cfg.OutputDir), runID)
		if err != nil {
			return nil, noop, err
		}
		return rec, rec.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown recorder %q", cfg.Recorder)
	}
}

// saveOutputs persists the result and the timing report of a finished run.
// Only rank 0 calls it.
func saveOutputs(cfg config.Config, runID string, res engine.Result) error {
	st, err := store.NewFSStore(cfg.OutputDir)
	if err != nil {
		return err
	}

	var errs []error
	if err := st.SaveResult(runID, res.RunResult(runID, cfg)); err != nil {
		errs = append(errs, err)
	}

	path, err := store.WriteTimings(cfg.OutputDir, res.Timings(cfg, os.Getenv(placementEnv)))
	if err != nil {
		errs = append(errs, err)
	} else {
		slog.Info("Timings written", "path", path,
			"total_time", res.MaxTotal.Seconds(), "computation_time", res.MaxCompute.Seconds())
	}
	return errors.Join(errs...)
}

func printResult(cmd *cobra.Command, runID string, res engine.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s\n", runID)
	fmt.Fprintf(out, "  Workers:      %d\n", res.WorldSize)
	fmt.Fprintf(out, "  Iterations:   %d", res.Iterations)
	if res.Converged {
		fmt.Fprint(out, " (stagnated)")
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Leader:       #%d on rank %d\n", res.Leader.GlobalIndex, res.Leader.Rank)
	fmt.Fprintf(out, "  Fitness:      %.10g -> %.10g\n", res.Initial.Fitness, res.Leader.Fitness)
	fmt.Fprintf(out, "  Total time:   %.6fs\n", res.MaxTotal.Seconds())
	fmt.Fprintf(out, "  Compute time: %.6fs\n", res.MaxCompute.Seconds())
}
