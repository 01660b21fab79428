package rules

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"time"

	"github.com/rtcstack/rtc-triage/internal/models"
	"github.com/rtcstack/rtc-triage/internal/utils"
)

// Finding is the raw output of a rule's Detect before normalization. Only
// the fields a detector actually knows need to be set; the engine fills the
// rest from the rule's static metadata.
type Finding struct {
	ID             string
	TimelineKey    string
	SnapshotKey    string
	SessionID      string
	Timestamp      string
	ErrorCode      int
	Severity       models.IssueType
	Title          string
	Description    string
	Recommendation string
	EventPattern   string
	EventTime      string
	Details        map[string]any
}

// DetectFunc inspects a filtered document and returns raw findings. It must
// be pure over its input.
type DetectFunc func(doc *models.LogDocument) []Finding

// Rule bundles a detector with its static metadata. RecommendFunc, when
// set, derives a recommendation from the normalized issue and takes
// precedence over the static Recommendation.
type Rule struct {
	ID              string
	ErrorCode       int
	Severity        models.IssueType
	Title           string
	Recommendation  string
	RecommendFunc   func(models.Issue) string
	EvidencePattern string
	Detect          DetectFunc
}

// snapshotAttributionCutoff bounds the nearest-snapshot evidence heuristic:
// an event further than this from every snapshot keeps its snapshot pointer
// empty rather than pointing at unrelated data.
const snapshotAttributionCutoff = 5 * time.Minute

// Run executes every rule in the registry against the (already filtered)
// document and returns normalized issues, stably sorted by severity. A rule
// that panics contributes zero findings and never aborts the run.
func Run(logger *slog.Logger, doc *models.LogDocument, registry []Rule) []models.Issue {
	if logger == nil {
		logger = slog.Default()
	}
	issues := make([]models.Issue, 0)
	if doc == nil {
		return issues
	}
	for _, rule := range registry {
		findings := safeDetect(logger, rule, doc)
		for i, finding := range findings {
			issue := normalize(rule, finding, i)
			resolveEvidence(doc, &issue)
			issues = append(issues, issue)
		}
	}
	sort.SliceStable(issues, func(i, j int) bool {
		return models.SeverityRank(issues[i].Type) < models.SeverityRank(issues[j].Type)
	})
	return issues
}

func safeDetect(logger *slog.Logger, rule Rule, doc *models.LogDocument) (findings []Finding) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("rule detector failed",
				slog.String("rule", rule.ID),
				slog.Any("panic", r))
			findings = nil
		}
	}()
	if rule.Detect == nil {
		return nil
	}
	return rule.Detect(doc)
}

func normalize(rule Rule, f Finding, occurrence int) models.Issue {
	issue := models.Issue{
		RuleID:      rule.ID,
		ErrorCode:   rule.ErrorCode,
		Type:        rule.Severity,
		Title:       rule.Title,
		Description: f.Description,
		TimelineKey: f.TimelineKey,
		SessionID:   f.SessionID,
		Timestamp:   f.Timestamp,
		Details:     f.Details,
	}
	if f.ErrorCode != 0 {
		issue.ErrorCode = f.ErrorCode
	}
	if f.Severity != "" {
		issue.Type = f.Severity
	}
	if f.Title != "" {
		issue.Title = f.Title
	}

	issue.Evidence = models.Evidence{
		TimelineKey:  f.TimelineKey,
		SnapshotKey:  f.SnapshotKey,
		SessionID:    f.SessionID,
		EventPattern: f.EventPattern,
		EventTime:    f.EventTime,
	}
	if issue.Evidence.SnapshotKey == "" {
		issue.Evidence.SnapshotKey = f.Timestamp
	}
	if issue.Evidence.EventPattern == "" {
		issue.Evidence.EventPattern = rule.EvidencePattern
	}
	if issue.Evidence.EventTime == "" {
		issue.Evidence.EventTime = detailString(f.Details, "eventTime", "lastEventTime", "lastRecoveryTime")
	}

	issue.ID = f.ID
	if issue.ID == "" {
		issue.ID = fallbackIssueID(rule.ID, issue.Evidence.TimelineKey, issue.Evidence.SnapshotKey, issue.SessionID, occurrence)
	}

	switch {
	case f.Recommendation != "":
		issue.Recommendation = f.Recommendation
	case rule.RecommendFunc != nil:
		issue.Recommendation = rule.RecommendFunc(issue)
	default:
		issue.Recommendation = rule.Recommendation
	}
	return issue
}

// fallbackIssueID derives a stable id so re-running analysis on identical
// input yields identical ids.
func fallbackIssueID(ruleID, timelineKey, snapshotKey, sessionID string, occurrence int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d", ruleID, timelineKey, snapshotKey, sessionID, occurrence)
	return fmt.Sprintf("%s-%x", ruleID, h.Sum64())
}

func detailString(details map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := details[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// resolveEvidence fills missing timeline/snapshot pointers from the event
// time using start/end containment for timelines and closest absolute
// distance (within the attribution cutoff) for snapshots. Best-effort: a
// miss leaves the pointer empty.
func resolveEvidence(doc *models.LogDocument, issue *models.Issue) {
	eventTime := issue.Evidence.EventTime
	if eventTime == "" {
		return
	}
	at, ok := utils.ParseRFC3339(eventTime)
	if !ok {
		return
	}
	if issue.Evidence.TimelineKey == "" {
		for _, key := range doc.TimelineKeys() {
			tl := doc.Timelines[key]
			start, okStart := utils.ParseRFC3339(tl.Start)
			end, okEnd := utils.ParseRFC3339(tl.End)
			if okStart && okEnd && !at.Before(start) && !at.After(end) {
				issue.Evidence.TimelineKey = key
				break
			}
		}
	}
	if issue.Evidence.SnapshotKey == "" {
		best := ""
		bestDist := snapshotAttributionCutoff
		for _, key := range doc.SnapshotKeys() {
			snapAt, ok := utils.ParseRFC3339(key)
			if !ok {
				continue
			}
			dist := at.Sub(snapAt)
			if dist < 0 {
				dist = -dist
			}
			if dist <= bestDist {
				best = key
				bestDist = dist
			}
		}
		issue.Evidence.SnapshotKey = best
	}
}

// GroupIssues collapses issues sharing a title into display groups,
// preserving first-appearance order. The first instance's fields seed the
// group defaults.
func GroupIssues(issues []models.Issue) []models.IssueGroup {
	groups := make([]models.IssueGroup, 0)
	index := make(map[string]int)
	for _, issue := range issues {
		if at, ok := index[issue.Title]; ok {
			groups[at].Count++
			groups[at].Instances = append(groups[at].Instances, issue)
			continue
		}
		index[issue.Title] = len(groups)
		groups = append(groups, models.IssueGroup{
			Issue:     issue,
			Count:     1,
			Instances: []models.Issue{issue},
		})
	}
	return groups
}
