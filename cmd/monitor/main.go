// Command monitor is the ptLTL protocol runtime monitor: it reads a
// spec file, type-checks it, and evaluates a stream of protocol events
// against the compiled properties. Built on cobra, the teacher's CLI
// framework.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose       bool
	adapterConfig string
	violationLog  string
)

var rootCmd = &cobra.Command{
	Use:   "monitor <spec-path> [protocol_tag]",
	Short: "Runtime monitor for stateful network protocols",
	Long: `monitor consumes a stream of events emitted by a fuzzing harness
and checks whether the observed interleaving of messages satisfies a
collection of past-time Linear Temporal Logic properties describing the
protocol's intended semantics.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runMonitor,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adapterConfig, "adapter-config", "", "path to a JSON adapter config file")
	rootCmd.PersistentFlags().StringVar(&violationLog, "violation-log", "", "path to the violation log (default: stderr)")

	rootCmd.AddCommand(lintCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(bridgeDemoCmd)
}

func newLogger() *slog.Logger {
	verbose = os.Getenv("MONITOR_VERBOSE") == "1"
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}
