package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rtcstack/rtc-triage/internal/analysis"
	"github.com/rtcstack/rtc-triage/internal/config"
	"github.com/rtcstack/rtc-triage/internal/rules"
	"github.com/rtcstack/rtc-triage/internal/store"
	"github.com/rtcstack/rtc-triage/internal/utils"
	"github.com/rtcstack/rtc-triage/internal/worker"
)

// commonOptions are shared by every capture-consuming command.
type commonOptions struct {
	ConfigPath     string
	ThresholdsPath string
	Timelines      []string
	Snapshots      []string
}

func addCommonFlags(cmd *cobra.Command, opts *commonOptions) {
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "Path to configuration file")
	cmd.Flags().StringVar(&opts.ThresholdsPath, "thresholds", "", "Path to a YAML threshold override pack")
	cmd.Flags().StringSliceVar(&opts.Timelines, "timeline", nil, "Timeline key to include (repeatable; default all)")
	cmd.Flags().StringSliceVar(&opts.Snapshots, "snapshot", nil, "Snapshot key to include (repeatable; default all)")
}

// selection converts the key flags into a Selection; unset flags mean no
// filtering for that section.
func (o *commonOptions) selection() store.Selection {
	return store.Selection{Timelines: o.Timelines, Snapshots: o.Snapshots}
}

// setup loads configuration and builds the shared dependencies.
func setup(opts *commonOptions) (*config.Config, *slog.Logger, []rules.Rule, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)

	th := cfg.Thresholds
	if opts.ThresholdsPath != "" {
		th, err = config.LoadThresholds(opts.ThresholdsPath)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return cfg, logger, rules.DefaultRegistry(th), nil
}

// newCoordinator wires the executor pair. When sync is set no worker is
// started and everything runs in-process.
func newCoordinator(logger *slog.Logger, registry []rules.Rule, sync bool) (*analysis.Coordinator, func()) {
	local := analysis.NewLocalExecutor(logger, registry)
	if sync {
		return analysis.NewCoordinator(logger, nil, local), func() {}
	}
	w := worker.New(logger, registry)
	remote := analysis.NewRemoteExecutor(w)
	return analysis.NewCoordinator(logger, remote, local), w.Close
}
