/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jessegalley/diobench/internal/config"
)

// program flags that never reach the run config
var (
	configFile string // optional config file read through viper
	logLevel   string // logrus level for stderr diagnostics
	version    bool   // print version and exit
)

// program info const
const progVersion string = "0.1.0"
const progAuthor string = "jesse galley <jesse@jessegalley.net>"

// errVersionShown stops the command chain after -V without failing
var errVersionShown = errors.New("version shown")

// rootCmd runs the full, configurable benchmark
var rootCmd = &cobra.Command{
	Use:   "dio",
	Short: "Measure sequential O_DIRECT write latency through io_uring.",
	Long: `dio preallocates a target file and writes it front to back in fixed size
blocks, keeping up to queue_depth writes in flight on an io_uring ring.
Each completion's latency lands in a 1ms histogram that is reported with
its p50, p90, p99 and p99.9 once every write is done.`,
	Args:          cobra.NoArgs,
	SilenceErrors: true, // Execute prints the single "<op>: <error>" line
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// check if version flag was set
		if version {
			fmt.Fprintf(cmd.OutOrStdout(), "dio v%s\n%s\ngithub.com/jessegalley/diobench\n", progVersion, progAuthor)
			return errVersionShown
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.NewViper(cmd.Flags())
		if err != nil {
			return err
		}

		cfg, err := config.Load(v, config.NewConfig(), configFile)
		if err != nil {
			return err
		}
		if err := setupLogging(cfg.LogLevel); err != nil {
			return err
		}

		return runBenchmark(cfg, true, cmd.OutOrStdout())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// A fatal error is printed to stderr and returned so the caller picks the exit code.
func Execute() error {
	err := rootCmd.Execute()
	if errors.Is(err, errVersionShown) {
		return nil
	}
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), err)
	}
	return err
}

func init() {
	d := config.NewConfig()

	// flags shared with subcommands
	rootCmd.PersistentFlags().StringVar(&logLevel, "log_level", d.LogLevel, "diagnostic log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&version, "version", "V", false, "print version and exit")

	// target geometry
	rootCmd.Flags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.Flags().String("file_name", d.FileName, "file to write")
	rootCmd.Flags().Int64("file_len", d.FileLenMiB, "bytes to write, in MiB")
	rootCmd.Flags().Int("block_size", d.BlockSize, "bytes per write")
	rootCmd.Flags().Int("queue_depth", d.QueueDepth, "writes kept in flight")

	// ring setup
	rootCmd.Flags().String("engine", d.Engine, "ring implementation (uring, pool, or auto)")
	rootCmd.Flags().Bool("sqpoll", d.SQPoll, "submit through a kernel polling thread")
	rootCmd.Flags().Int("sq_cpu", d.SQThreadCPU, "cpu to pin the polling thread to (-1 leaves it unpinned)")
	rootCmd.Flags().Duration("sq_idle", d.SQThreadIdle, "idle time before the polling thread sleeps")
	rootCmd.Flags().Bool("iopoll", d.IOPoll, "busy-poll for completions")
	rootCmd.Flags().Uint32("cq_size", d.CQSize, "completion queue size (0 uses queue_depth)")
	rootCmd.Flags().Int("workers", d.Workers, "writer goroutines for the pool engine (0 uses queue_depth)")

	// file semantics
	rootCmd.Flags().Bool("direct", d.Direct, "open the target with O_DIRECT")
	rootCmd.Flags().Bool("dsync", d.Dsync, "open the target with O_DSYNC")
	rootCmd.Flags().Bool("preflight", d.Preflight, "check free space before preallocating")

	// reporting
	rootCmd.Flags().Bool("timing", d.Timing, "record per-write latency")
	rootCmd.Flags().String("format", d.OutFmt, "output format (table, json, or flat)")
	rootCmd.Flags().String("metrics_file", d.MetricsFile, "write prometheus metrics to this file")
	rootCmd.Flags().Duration("progress", d.Progress, "redraw a progress bar on stderr at this interval (0 disables)")
}
