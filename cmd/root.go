package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	logLevel    string
	logFormat   string
	configFile  string
	allRanksLog bool
	logger      *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ravenroost",
	Short: "Distributed Raven Roost optimization",
	Long: `Raven Roost minimises an objective function with a population of ravens
split across workers. Workers run in one process (run) or as separate
processes connected through NATS (worker).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := parseLevel(logLevel)
		if err != nil {
			return err
		}
		handler, err := newHandler(logFormat, level)
		if err != nil {
			return err
		}
		logger = slog.New(handler)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format (json, text)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVar(&allRanksLog, "all-ranks-log", false, "Log info messages from every rank, not only rank 0")
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func newHandler(format string, level slog.Level) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "json":
		return slog.NewJSONHandler(os.Stderr, opts), nil
	case "text":
		return slog.NewTextHandler(os.Stderr, opts), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// rankLogger tags records with the rank. Ranks other than 0 only report
// warnings unless --all-ranks-log is set.
func rankLogger(rank int) *slog.Logger {
	if rank == 0 || allRanksLog {
		return slog.Default().With("rank", rank)
	}
	level, err := parseLevel(logLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	handler, err := newHandler(logFormat, max(level, slog.LevelWarn))
	if err != nil {
		return slog.Default().With("rank", rank)
	}
	return slog.New(handler).With("rank", rank)
}
