// Package cli provides the rtc-triage command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// ExitCode is set by commands to indicate the result.
var ExitCode = 0

// Execute runs the root command and returns the process exit code.
func Execute() int {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	return ExitCode
}

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rtc-triage",
		Short: "Analyze RTC call diagnostic captures",
		Long: `rtc-triage inspects a JSON capture of real-time call diagnostics and
reports connectivity failures, fallbacks, and anomalies.

A capture holds two parallel views of the same calls: per-call log
timelines and point-in-time state snapshots. The rule engine pattern
matches both, the health aggregator scores the whole capture, and the
report builder exports the findings.

Exit codes:
  0 - No error-severity issues detected
  1 - Error-severity issues detected
  2 - Configuration or runtime error`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(NewAnalyzeCommand())
	rootCmd.AddCommand(NewHealthCommand())
	rootCmd.AddCommand(NewReportCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}
