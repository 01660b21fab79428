package report

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown serializes a report as a short human-readable summary.
func RenderMarkdown(rep Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# RTC Diagnostic Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", rep.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "## Dataset\n\n")
	fmt.Fprintf(&b, "- Timelines: %d\n", rep.Dataset.Timelines)
	fmt.Fprintf(&b, "- Snapshots: %d\n", rep.Dataset.Snapshots)
	fmt.Fprintf(&b, "- Session entries: %d\n\n", rep.Dataset.SessionEntries)

	fmt.Fprintf(&b, "## Findings by severity\n\n")
	if len(rep.SeverityCounts) == 0 {
		fmt.Fprintf(&b, "No issues detected.\n\n")
	} else {
		for _, severity := range []string{"error", "warning", "info"} {
			if count := rep.SeverityCounts[severity]; count > 0 {
				fmt.Fprintf(&b, "- %s: %d\n", severity, count)
			}
		}
		b.WriteString("\n")
	}

	if len(rep.RuleCounts) > 0 {
		fmt.Fprintf(&b, "## Findings by rule\n\n")
		fmt.Fprintf(&b, "| Rule | Count |\n|---|---|\n")
		for _, rc := range rep.RuleCounts {
			fmt.Fprintf(&b, "| %s | %d |\n", rc.RuleID, rc.Count)
		}
		b.WriteString("\n")
	}

	if len(rep.TopFindings) > 0 {
		fmt.Fprintf(&b, "## Top findings\n\n")
		for _, group := range rep.TopFindings {
			fmt.Fprintf(&b, "### %s (%dx %s)\n\n", group.Title, group.Count, group.Type)
			if group.Recommendation != "" {
				fmt.Fprintf(&b, "%s\n\n", group.Recommendation)
			}
		}
	}

	return b.String()
}
