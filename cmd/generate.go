package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"github.com/cwbudde/ravenroost/internal/dataset"
	"github.com/spf13/cobra"
)

var (
	genRows     int
	genFeatures int
	genLower    float64
	genUpper    float64
	genSeed     uint64
	genDir      string
	genStdout   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random initial population file",
	Long: `Writes random-<rows>-<features>.csv with uniformly distributed positions in
fixed-width rows, so each worker can read exactly its own rows.`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().IntVar(&genRows, "rows", 1000, "Number of rows (ravens)")
	generateCmd.Flags().IntVar(&genFeatures, "features", 10, "Number of features per row")
	generateCmd.Flags().Float64Var(&genLower, "lower", -600, "Lower bound of the values")
	generateCmd.Flags().Float64Var(&genUpper, "upper", 600, "Upper bound of the values")
	generateCmd.Flags().Uint64Var(&genSeed, "seed", 1, "Random seed")
	generateCmd.Flags().StringVar(&genDir, "dir", ".", "Output directory")
	generateCmd.Flags().BoolVar(&genStdout, "stdout", false, "Write to standard output instead of a file")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if genRows <= 0 || genFeatures <= 0 {
		return fmt.Errorf("rows and features must be positive")
	}
	if genLower >= genUpper {
		return fmt.Errorf("lower bound %v must be below upper bound %v", genLower, genUpper)
	}

	if genStdout {
		w := bufio.NewWriter(cmd.OutOrStdout())
		if err := dataset.Generate(w, genRows, genFeatures, genLower, genUpper, genSeed); err != nil {
			return err
		}
		return w.Flush()
	}

	path, err := dataset.WriteFile(genDir, genRows, genFeatures, genLower, genUpper, genSeed)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	slog.Info("Dataset written", "path", path, "rows", genRows, "features", genFeatures, "bytes", info.Size())
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
