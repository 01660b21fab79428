package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rtcstack/rtc-triage/internal/report"
	"github.com/rtcstack/rtc-triage/internal/rules"
	"github.com/rtcstack/rtc-triage/internal/store"
)

// ReportOptions holds command-line options for the report command.
type ReportOptions struct {
	commonOptions
	Format string
	OutDir string
}

// NewReportCommand creates the report command.
func NewReportCommand() *cobra.Command {
	opts := &ReportOptions{}

	cmd := &cobra.Command{
		Use:   "report <capture-file>",
		Short: "Export a diagnostic report as JSON or Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, args[0], opts)
		},
	}

	addCommonFlags(cmd, &opts.commonOptions)
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "json", "Report format (json|md)")
	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", ".", "Directory the report file is written to")

	return cmd
}

func runReport(cmd *cobra.Command, capturePath string, opts *ReportOptions) error {
	if opts.Format != "json" && opts.Format != "md" {
		return fmt.Errorf("unknown report format %q (use json or md)", opts.Format)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logger, registry, err := setup(&opts.commonOptions)
	if err != nil {
		return err
	}

	st := store.New(logger)
	doc, err := st.LoadFile(capturePath)
	if err != nil {
		return err
	}
	sel := opts.selection()
	st.SetSelection(sel)

	coord, closeWorker := newCoordinator(logger, registry, cfg.Analysis.Sync)
	defer closeWorker()
	if err := coord.SetDocument(ctx, doc); err != nil {
		return fmt.Errorf("installing document: %w", err)
	}
	coord.Analyze(ctx, sel)
	coord.Wait()

	issues := coord.Issues()
	generatedAt := time.Now().UTC()
	rep := report.Build(report.Input{
		Document:    st.Filtered(),
		Issues:      issues,
		Groups:      rules.GroupIssues(issues),
		Selection:   sel,
		GeneratedAt: generatedAt,
		TopFindings: cfg.Report.TopFindings,
	})

	var payload []byte
	switch opts.Format {
	case "json":
		payload, err = report.Serialize(rep)
		if err != nil {
			return err
		}
	case "md":
		payload = []byte(report.RenderMarkdown(rep))
	}

	path := filepath.Join(opts.OutDir, report.Filename(opts.Format, generatedAt))
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	fmt.Println(path)
	return nil
}
