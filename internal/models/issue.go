package models

// IssueType is the severity of a detected issue.
type IssueType string

const (
	IssueError   IssueType = "error"
	IssueWarning IssueType = "warning"
	IssueInfo    IssueType = "info"
)

// SeverityRank orders severities for display: errors first, then warnings,
// then informational findings. Unrecognized severities sort after all three.
func SeverityRank(t IssueType) int {
	switch t {
	case IssueError:
		return 0
	case IssueWarning:
		return 1
	case IssueInfo:
		return 2
	default:
		return 3
	}
}

// Evidence points a consumer from an issue back to its source data. Fields
// are best-effort navigation aids; an unresolved pointer stays empty and
// never blocks analysis or reporting.
type Evidence struct {
	TimelineKey  string `json:"timelineKey,omitempty"`
	SnapshotKey  string `json:"snapshotKey,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	EventPattern string `json:"eventPattern,omitempty"`
	EventTime    string `json:"eventTime,omitempty"`
}

// Issue is a normalized detection result produced by the rule engine.
type Issue struct {
	ID             string         `json:"id"`
	RuleID         string         `json:"ruleId"`
	ErrorCode      int            `json:"errorCode"`
	Type           IssueType      `json:"type"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Recommendation string         `json:"recommendation,omitempty"`
	Evidence       Evidence       `json:"evidence"`
	TimelineKey    string         `json:"timelineKey,omitempty"`
	SessionID      string         `json:"sessionId,omitempty"`
	Timestamp      string         `json:"timestamp,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// IssueGroup aggregates issues sharing a title for display, carrying the
// first instance's fields as defaults.
type IssueGroup struct {
	Issue
	Count     int     `json:"count"`
	Instances []Issue `json:"instances"`
}
