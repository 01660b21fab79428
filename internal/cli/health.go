package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rtcstack/rtc-triage/internal/health"
	"github.com/rtcstack/rtc-triage/internal/store"
)

// HealthOptions holds command-line options for the health command.
type HealthOptions struct {
	commonOptions
	JSON bool
}

// NewHealthCommand creates the health command.
func NewHealthCommand() *cobra.Command {
	opts := &HealthOptions{}

	cmd := &cobra.Command{
		Use:   "health <capture-file>",
		Short: "Compute the aggregate health score for a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(args[0], opts)
		},
	}

	addCommonFlags(cmd, &opts.commonOptions)
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Emit the health report as JSON")

	return cmd
}

func runHealth(capturePath string, opts *HealthOptions) error {
	cfg, logger, _, err := setup(&opts.commonOptions)
	if err != nil {
		return err
	}

	st := store.New(logger)
	if _, err := st.LoadFile(capturePath); err != nil {
		return err
	}
	st.SetSelection(opts.selection())

	agg := health.NewAggregator(logger, cfg.Health.FirstMediaPattern)
	rep := agg.Aggregate(st.Filtered())

	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	fmt.Printf("Health: %d/100 (%s)\n", rep.HealthScore, rep.HealthState)
	fmt.Printf("Timelines: %d (attempted %d, failed %d, timed out %d, recovering %d)\n",
		rep.TimelineCount, rep.AttemptedTimelines, rep.FailedTimelines,
		rep.TimeoutTimelines, rep.RecoveryTimelines)
	fmt.Printf("Snapshots: %d (fallback %d)\n", rep.SnapshotCount, rep.FallbackSnapshots)
	fmt.Printf("Events: %d (errors %d)\n", rep.TotalEvents, rep.ErrorEvents)
	for _, name := range []string{health.TrendSFUConnectMs, health.TrendP2PConnectMs, health.TrendFirstMediaMs} {
		points := rep.Trends[name]
		if len(points) == 0 {
			continue
		}
		sum := 0.0
		for _, p := range points {
			sum += p.Value
		}
		fmt.Printf("%s: %d samples, avg %.0fms\n", name, len(points), sum/float64(len(points)))
	}

	if rep.HealthState == "critical" {
		ExitCode = 1
	}
	return nil
}
