// Package report turns a document, its issues, and the active selection
// into a serializable diagnostic report. Building is a pure transform;
// writing the result anywhere is the caller's concern.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rtcstack/rtc-triage/internal/models"
	"github.com/rtcstack/rtc-triage/internal/store"
)

// DefaultTopFindings bounds the grouped-findings section.
const DefaultTopFindings = 15

// Input collects everything the builder consumes.
type Input struct {
	Document    *models.LogDocument
	Issues      []models.Issue
	Groups      []models.IssueGroup
	Selection   store.Selection
	GeneratedAt time.Time
	TopFindings int
}

// Dataset counts describe the analyzed capture.
type Dataset struct {
	Timelines      int `json:"timelines"`
	Snapshots      int `json:"snapshots"`
	SessionEntries int `json:"sessionEntries"`
}

// RuleCount is one row of the per-rule histogram.
type RuleCount struct {
	RuleID string `json:"ruleId"`
	Count  int    `json:"count"`
}

// GroupSummary is one of the top grouped findings.
type GroupSummary struct {
	Title          string           `json:"title"`
	RuleID         string           `json:"ruleId"`
	Type           models.IssueType `json:"type"`
	Count          int              `json:"count"`
	Recommendation string           `json:"recommendation,omitempty"`
}

// Report is the exportable value object.
type Report struct {
	GeneratedAt    time.Time       `json:"generatedAt"`
	Dataset        Dataset         `json:"dataset"`
	SeverityCounts map[string]int  `json:"severityCounts"`
	RuleCounts     []RuleCount     `json:"ruleCounts"`
	TopFindings    []GroupSummary  `json:"topFindings"`
	Findings       []models.Issue  `json:"findings"`
	Selection      store.Selection `json:"selection"`
}

// Build assembles a report. It never touches I/O.
func Build(in Input) Report {
	topN := in.TopFindings
	if topN <= 0 {
		topN = DefaultTopFindings
	}
	generatedAt := in.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC()
	}

	rep := Report{
		GeneratedAt:    generatedAt,
		SeverityCounts: map[string]int{},
		Findings:       append([]models.Issue{}, in.Issues...),
		Selection:      in.Selection.Clone(),
	}
	if in.Document != nil {
		rep.Dataset = Dataset{
			Timelines:      len(in.Document.Timelines),
			Snapshots:      len(in.Document.Snapshots),
			SessionEntries: in.Document.SessionEntryCount(),
		}
	}

	ruleCounts := map[string]int{}
	for _, issue := range in.Issues {
		rep.SeverityCounts[string(issue.Type)]++
		ruleCounts[issue.RuleID]++
	}
	for ruleID, count := range ruleCounts {
		rep.RuleCounts = append(rep.RuleCounts, RuleCount{RuleID: ruleID, Count: count})
	}
	sort.Slice(rep.RuleCounts, func(i, j int) bool {
		if rep.RuleCounts[i].Count != rep.RuleCounts[j].Count {
			return rep.RuleCounts[i].Count > rep.RuleCounts[j].Count
		}
		return rep.RuleCounts[i].RuleID < rep.RuleCounts[j].RuleID
	})

	groups := in.Groups
	sorted := append([]models.IssueGroup{}, groups...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Count > sorted[j].Count })
	for i, group := range sorted {
		if i >= topN {
			break
		}
		rep.TopFindings = append(rep.TopFindings, GroupSummary{
			Title:          group.Title,
			RuleID:         group.RuleID,
			Type:           group.Type,
			Count:          group.Count,
			Recommendation: group.Recommendation,
		})
	}
	return rep
}

// Serialize encodes a report as indented JSON.
func Serialize(rep Report) ([]byte, error) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize report: %w", err)
	}
	return data, nil
}

// Parse decodes a serialized report.
func Parse(data []byte) (Report, error) {
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return Report{}, fmt.Errorf("parse report: %w", err)
	}
	return rep, nil
}

// Filename derives the export file name for a report generated at the given
// instant. Colons are replaced so the name is valid on every filesystem.
func Filename(ext string, generatedAt time.Time) string {
	stamp := strings.ReplaceAll(generatedAt.UTC().Format(time.RFC3339), ":", "-")
	return fmt.Sprintf("rtc-diagnostic-report-%s.%s", stamp, strings.TrimPrefix(ext, "."))
}
