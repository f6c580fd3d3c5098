package main

import (
	"fmt"

	"github.com/cwbudde/ravenroost/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration as YAML",
	Long: `Prints the configuration a run would use after merging defaults, the
--config file, RAVENROOST_* environment variables and flags. The output can
be saved and passed back with --config.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.NewViper(configFile)
		if err != nil {
			return err
		}
		if err := config.BindFlags(v, cmd.Flags()); err != nil {
			return err
		}
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	config.RegisterFlags(showConfigCmd.Flags())
	configCmd.AddCommand(showConfigCmd)
	rootCmd.AddCommand(configCmd)
}
