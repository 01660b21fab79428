package report

import (
	"strings"
	"testing"
	"time"

	"github.com/rtcstack/rtc-triage/internal/models"
	"github.com/rtcstack/rtc-triage/internal/rules"
	"github.com/rtcstack/rtc-triage/internal/store"
)

func sampleInput(t *testing.T) Input {
	t.Helper()
	doc, err := models.ParseDocument([]byte(`{
		"timelines": {
			"t1": {"entriesBySessionId": {"1": {"logs": []}, "2": {"logs": []}}}
		},
		"snapshots": {"s1": {}}
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	issues := []models.Issue{
		{ID: "1", RuleID: "recovery_loop", Type: models.IssueWarning, Title: "Connection recovery loop", Recommendation: "check the network"},
		{ID: "2", RuleID: "recovery_loop", Type: models.IssueWarning, Title: "Connection recovery loop"},
		{ID: "3", RuleID: "fallback_mode", Type: models.IssueWarning, Title: "Call fell back to peer-to-peer"},
		{ID: "4", RuleID: "sfu_connect_timeout", Type: models.IssueError, Title: "SFU connection timed out"},
	}
	return Input{
		Document:    doc,
		Issues:      issues,
		Groups:      rules.GroupIssues(issues),
		Selection:   store.Selection{Timelines: []string{"t1"}},
		GeneratedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBuildDatasetAndHistograms(t *testing.T) {
	rep := Build(sampleInput(t))

	if rep.Dataset.Timelines != 1 || rep.Dataset.Snapshots != 1 || rep.Dataset.SessionEntries != 2 {
		t.Fatalf("dataset counts wrong: %+v", rep.Dataset)
	}
	if rep.SeverityCounts["warning"] != 3 || rep.SeverityCounts["error"] != 1 {
		t.Fatalf("severity histogram wrong: %v", rep.SeverityCounts)
	}

	if len(rep.RuleCounts) != 3 {
		t.Fatalf("rule histogram rows: %d", len(rep.RuleCounts))
	}
	if rep.RuleCounts[0].RuleID != "recovery_loop" || rep.RuleCounts[0].Count != 2 {
		t.Fatalf("histogram not sorted by count: %+v", rep.RuleCounts)
	}
	// Equal counts tie-break alphabetically by rule id.
	if rep.RuleCounts[1].RuleID != "fallback_mode" || rep.RuleCounts[2].RuleID != "sfu_connect_timeout" {
		t.Fatalf("tie-break order wrong: %+v", rep.RuleCounts)
	}
}

func TestBuildTopFindings(t *testing.T) {
	in := sampleInput(t)
	in.TopFindings = 2
	rep := Build(in)

	if len(rep.TopFindings) != 2 {
		t.Fatalf("topN not applied: %d groups", len(rep.TopFindings))
	}
	if rep.TopFindings[0].Title != "Connection recovery loop" || rep.TopFindings[0].Count != 2 {
		t.Fatalf("largest group not first: %+v", rep.TopFindings[0])
	}
	if rep.TopFindings[0].Recommendation != "check the network" {
		t.Fatalf("group recommendation lost: %+v", rep.TopFindings[0])
	}
}

func TestBuildEmptyInput(t *testing.T) {
	rep := Build(Input{})
	if rep.GeneratedAt.IsZero() {
		t.Fatal("zero GeneratedAt must default to now")
	}
	if len(rep.Findings) != 0 || len(rep.TopFindings) != 0 {
		t.Fatalf("empty input produced findings: %+v", rep)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	rep := Build(sampleInput(t))
	data, err := Serialize(rep)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	back, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if back.SeverityCounts["warning"] != 3 || len(back.Findings) != 4 {
		t.Fatalf("round trip lost data: %+v", back)
	}
	if back.Selection.Timelines == nil || back.Selection.Timelines[0] != "t1" {
		t.Fatalf("selection lost: %+v", back.Selection)
	}
}

func TestRenderMarkdown(t *testing.T) {
	md := RenderMarkdown(Build(sampleInput(t)))
	for _, want := range []string{
		"# RTC Diagnostic Report",
		"- error: 1",
		"- warning: 3",
		"| recovery_loop | 2 |",
		"### Connection recovery loop (2x warning)",
		"check the network",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestFilename(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	got := Filename("json", at)
	want := "rtc-diagnostic-report-2024-03-01T12-30-45Z.json"
	if got != want {
		t.Fatalf("filename: got %q want %q", got, want)
	}
	if Filename(".md", at) != "rtc-diagnostic-report-2024-03-01T12-30-45Z.md" {
		t.Fatalf("extension dot not trimmed: %q", Filename(".md", at))
	}
}
