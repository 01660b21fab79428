package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rtcstack/rtc-triage/internal/models"
	"github.com/rtcstack/rtc-triage/internal/rules"
	"github.com/rtcstack/rtc-triage/internal/store"
)

// AnalyzeOptions holds command-line options for the analyze command.
type AnalyzeOptions struct {
	commonOptions
	JSON bool
	Sync bool
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand() *cobra.Command {
	opts := &AnalyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze <capture-file>",
		Short: "Run the rule engine over a capture and list issues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args[0], opts)
		},
	}

	addCommonFlags(cmd, &opts.commonOptions)
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Emit issues as JSON")
	cmd.Flags().BoolVar(&opts.Sync, "sync", false, "Analyze in-process instead of the worker context")

	return cmd
}

func runAnalyze(cmd *cobra.Command, capturePath string, opts *AnalyzeOptions) error {
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

	coord, closeWorker := newCoordinator(logger, registry, opts.Sync || cfg.Analysis.Sync)
	defer closeWorker()

	if err := coord.SetDocument(ctx, doc); err != nil {
		return fmt.Errorf("installing document: %w", err)
	}
	coord.Analyze(ctx, sel)
	coord.Wait()

	issues := coord.Issues()
	groups := rules.GroupIssues(issues)

	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Issues []models.Issue      `json:"issues"`
			Groups []models.IssueGroup `json:"groups"`
		}{Issues: issues, Groups: groups}); err != nil {
			return fmt.Errorf("encoding issues: %w", err)
		}
	} else {
		printIssues(groups)
	}

	for _, issue := range issues {
		if issue.Type == models.IssueError {
			ExitCode = 1
			break
		}
	}
	return nil
}

func printIssues(groups []models.IssueGroup) {
	if len(groups) == 0 {
		fmt.Println("No issues detected.")
		return
	}
	for _, group := range groups {
		fmt.Printf("[%s] %s (%d)\n", group.Type, group.Title, group.Count)
		if group.Description != "" {
			fmt.Printf("    %s\n", group.Description)
		}
		if group.Recommendation != "" {
			fmt.Printf("    recommendation: %s\n", group.Recommendation)
		}
		for _, instance := range group.Instances {
			where := instance.Evidence.TimelineKey
			if where == "" {
				where = instance.Evidence.SnapshotKey
			}
			if where == "" && instance.SessionID == "" {
				continue
			}
			fmt.Printf("    - %s session=%s\n", where, instance.SessionID)
		}
	}
}
