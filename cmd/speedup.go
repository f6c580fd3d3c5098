package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/ravenroost/internal/store"
	"github.com/spf13/cobra"
)

var speedupDir string

var speedupCmd = &cobra.Command{
	Use:   "speedup",
	Short: "Summarise timing reports as speedup tables",
	Long: `Reads every exec_timings_*.log in --dir and prints, per problem size and
placement, the computation time, speedup and efficiency of each worker count
relative to the single-worker run.`,
	Args: cobra.NoArgs,
	RunE: runSpeedup,
}

func init() {
	speedupCmd.Flags().StringVar(&speedupDir, "dir", "./output", "Directory with timing reports")
	rootCmd.AddCommand(speedupCmd)
}

func runSpeedup(cmd *cobra.Command, args []string) error {
	paths, err := filepath.Glob(filepath.Join(speedupDir, "exec_timings*.log"))
	if err != nil {
		return err
	}

	var reports []store.Timings
	for _, path := range paths {
		t, err := store.ReadTimings(path)
		if err != nil {
			slog.Warn("Skipping timing report", "path", path, "error", err)
			continue
		}
		reports = append(reports, t)
	}

	out := cmd.OutOrStdout()
	groups := store.ComputeSpeedups(reports)
	if len(groups) == 0 {
		fmt.Fprintf(out, "No groups with a single-worker baseline in %s (%d reports).\n", speedupDir, len(reports))
		return nil
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, key := range keys {
		fmt.Fprintf(w, "%s\n", key)
		fmt.Fprintln(w, "WORKERS\tCOMPUTE\tSPEEDUP\tEFFICIENCY")
		for _, s := range groups[key] {
			fmt.Fprintf(w, "%d\t%s\t%.2f\t%.1f%%\n", s.Workers, s.Compute.Round(time.Microsecond), s.Speedup, 100*s.Efficiency)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}
