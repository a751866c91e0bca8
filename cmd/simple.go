/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jessegalley/diobench/internal/config"
)

// simpleCmd represents the simple command
var simpleCmd = &cobra.Command{
	Use:   "simple <filename>",
	Short: "Fixed 1GiB run at queue depth 1024",
	Long: `Writes 1GiB to filename in 4KiB blocks with 1024 writes in flight, using the
default ring setup and no latency tracking.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.NewMinimalConfig(args[0])
		cfg.LogLevel = logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := setupLogging(cfg.LogLevel); err != nil {
			return err
		}

		return runBenchmark(cfg, false, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(simpleCmd)
}
