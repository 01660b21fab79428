// Package health computes aggregate call-health metrics across every
// in-scope timeline: connection-setup latencies, first-media delay,
// recovery and error counts, and a single 0-100 health score with
// per-metric trend series.
package health

import (
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/rtcstack/rtc-triage/internal/models"
	"github.com/rtcstack/rtc-triage/internal/utils"
)

// Health score weights. failureRate dominates: a call that never connects
// is worse than any number of recoveries.
const (
	weightFailure  = 55.0
	weightRecovery = 16.0
	weightTimeout  = 14.0
	weightError    = 28.0
	weightFallback = 12.0

	scoreGoodMin    = 85
	scoreWarningMin = 65
)

// Patterns recognized during the per-timeline scan.
const (
	eventSFULoading      = "loading sfu server"
	eventSFUTimeout      = "sfu connection timeout"
	eventConnected       = "connection state change: connected"
	eventConnecting      = "connection state change: connecting"
	eventGathering       = "gathering state change: gathering"
	eventRecoveryAttempt = "attempting to recover connection"
	defaultMediaPattern  = "received track"
)

// TrendPoint is one timeline's sample of a metric, in chronological order.
type TrendPoint struct {
	TimelineKey string  `json:"timelineKey"`
	Value       float64 `json:"value"`
}

// Rates are the normalized inputs to the health score.
type Rates struct {
	Failure  float64 `json:"failure"`
	Recovery float64 `json:"recovery"`
	Timeout  float64 `json:"timeout"`
	Error    float64 `json:"error"`
	Fallback float64 `json:"fallback"`
}

// Report is the aggregator's full output.
type Report struct {
	HealthScore        int                     `json:"healthScore"`
	HealthState        string                  `json:"healthState"`
	TimelineCount      int                     `json:"timelineCount"`
	SnapshotCount      int                     `json:"snapshotCount"`
	AttemptedTimelines int                     `json:"attemptedTimelines"`
	FailedTimelines    int                     `json:"failedTimelines"`
	TimeoutTimelines   int                     `json:"timeoutTimelines"`
	RecoveryTimelines  int                     `json:"recoveryTimelines"`
	FallbackSnapshots  int                     `json:"fallbackSnapshots"`
	ErrorEvents        int                     `json:"errorEvents"`
	TotalEvents        int                     `json:"totalEvents"`
	Rates              Rates                   `json:"rates"`
	Trends             map[string][]TrendPoint `json:"trends"`
}

// Trend series names.
const (
	TrendSFUConnectMs   = "sfuConnectMs"
	TrendP2PConnectMs   = "p2pConnectMs"
	TrendFirstMediaMs   = "firstMediaMs"
	TrendRecoveryEvents = "recoveryEvents"
)

// Aggregator scans every timeline once and derives the health report. It
// runs directly on the filtered document, never through the worker.
type Aggregator struct {
	logger       *slog.Logger
	mediaPattern string
}

// NewAggregator constructs an Aggregator. mediaPattern overrides the
// first-media event text when non-empty.
func NewAggregator(logger *slog.Logger, mediaPattern string) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if mediaPattern == "" {
		mediaPattern = defaultMediaPattern
	}
	return &Aggregator{logger: logger, mediaPattern: mediaPattern}
}

// Aggregate computes the health report for a document. A document with zero
// timelines scores 100/good: no calls means nothing failed.
func (a *Aggregator) Aggregate(doc *models.LogDocument) Report {
	report := Report{
		Trends: map[string][]TrendPoint{},
	}
	if doc == nil {
		report.HealthScore = 100
		report.HealthState = stateFor(100)
		return report
	}

	report.TimelineCount = len(doc.Timelines)
	report.SnapshotCount = len(doc.Snapshots)
	for _, snap := range doc.Snapshots {
		if snap.Fallback {
			report.FallbackSnapshots++
		}
	}

	for _, key := range doc.TimelineKeys() {
		tl := doc.Timelines[key]
		scan := a.scanTimeline(tl)

		if scan.attempted {
			report.AttemptedTimelines++
		}
		if scan.attempted && !scan.connected {
			report.FailedTimelines++
		}
		if scan.timedOut {
			report.TimeoutTimelines++
		}
		if scan.recoveryEvents > 0 {
			report.RecoveryTimelines++
		}
		report.ErrorEvents += scan.errorEvents
		report.TotalEvents += scan.totalEvents

		if scan.sfuConnect >= 0 {
			report.Trends[TrendSFUConnectMs] = append(report.Trends[TrendSFUConnectMs],
				TrendPoint{TimelineKey: key, Value: float64(scan.sfuConnect.Milliseconds())})
		}
		if scan.p2pConnect >= 0 {
			report.Trends[TrendP2PConnectMs] = append(report.Trends[TrendP2PConnectMs],
				TrendPoint{TimelineKey: key, Value: float64(scan.p2pConnect.Milliseconds())})
		}
		if scan.firstMedia >= 0 {
			report.Trends[TrendFirstMediaMs] = append(report.Trends[TrendFirstMediaMs],
				TrendPoint{TimelineKey: key, Value: float64(scan.firstMedia.Milliseconds())})
		}
		report.Trends[TrendRecoveryEvents] = append(report.Trends[TrendRecoveryEvents],
			TrendPoint{TimelineKey: key, Value: float64(scan.recoveryEvents)})
	}

	if report.TimelineCount == 0 {
		report.HealthScore = 100
		report.HealthState = stateFor(100)
		return report
	}

	report.Rates = Rates{
		Failure:  float64(report.FailedTimelines) / math.Max(1, float64(report.AttemptedTimelines)),
		Recovery: float64(report.RecoveryTimelines) / math.Max(1, float64(report.TimelineCount)),
		Timeout:  float64(report.TimeoutTimelines) / math.Max(1, float64(report.TimelineCount)),
		Error:    float64(report.ErrorEvents) / math.Max(1, float64(report.TotalEvents)),
		Fallback: float64(report.FallbackSnapshots) / math.Max(1, float64(report.SnapshotCount)),
	}

	raw := 100 -
		weightFailure*report.Rates.Failure -
		weightRecovery*report.Rates.Recovery -
		weightTimeout*report.Rates.Timeout -
		weightError*report.Rates.Error -
		weightFallback*report.Rates.Fallback
	report.HealthScore = int(math.Round(math.Min(100, math.Max(0, raw))))
	report.HealthState = stateFor(report.HealthScore)
	return report
}

func stateFor(score int) string {
	switch {
	case score >= scoreGoodMin:
		return "good"
	case score >= scoreWarningMin:
		return "warning"
	default:
		return "critical"
	}
}

type timelineScan struct {
	attempted      bool
	connected      bool
	timedOut       bool
	sfuConnect     time.Duration
	p2pConnect     time.Duration
	firstMedia     time.Duration
	recoveryEvents int
	errorEvents    int
	totalEvents    int
}

// scanTimeline walks one timeline's log streams once. SFU and P2P latency
// samples are mutually exclusive: a timeline with an SFU attempt never
// contributes a P2P sample.
func (a *Aggregator) scanTimeline(tl models.Timeline) timelineScan {
	scan := timelineScan{sfuConnect: -1, p2pConnect: -1, firstMedia: -1}
	ref, _ := utils.ParseRFC3339(tl.Start)

	for _, id := range tl.SessionIDs() {
		entry := tl.Entries[id]
		scan.totalEvents += len(entry.Logs)
		for _, ev := range entry.Logs {
			msg := eventText(ev)
			if ev.Level == "error" {
				scan.errorEvents++
			}
			if strings.Contains(msg, eventRecoveryAttempt) {
				scan.recoveryEvents++
			}
		}
	}

	var connectedAt time.Time
	self, hasSelf := tl.SelfEntry()

	sfuAttempted := hasSelf && findIndex(self.Logs, eventSFULoading, 0, false) >= 0
	if sfuAttempted {
		scan.attempted = true
		scan.timedOut = findIndex(self.Logs, eventSFUTimeout, 0, false) >= 0
		loadAt := findIndex(self.Logs, eventSFULoading, 0, false)
		// The SFU signaling stream logs unleveled; a peer-level connected
		// event carries a level and must not terminate the pairing.
		connAt := findIndex(self.Logs, eventConnected, loadAt+1, true)
		if connAt >= 0 {
			scan.connected = true
			start, okStart := utils.ParseEventTimestamp(eventStamp(self.Logs[loadAt]), ref)
			end, okEnd := utils.ParseEventTimestamp(eventStamp(self.Logs[connAt]), ref)
			if okStart && okEnd && !end.Before(start) {
				scan.sfuConnect = end.Sub(start)
				connectedAt = end
			}
		}
	} else {
		for _, id := range tl.SessionIDs() {
			entry := tl.Entries[id]
			if entry.Step != "p2p" && !entry.HasLeveledLog() {
				continue
			}
			startAt := findIndex(entry.Logs, eventGathering, 0, false)
			if startAt < 0 {
				startAt = findIndex(entry.Logs, eventConnecting, 0, false)
			}
			if startAt < 0 {
				continue
			}
			scan.attempted = true
			connAt := findIndex(entry.Logs, eventConnected, startAt+1, false)
			if connAt < 0 {
				continue
			}
			scan.connected = true
			start, okStart := utils.ParseEventTimestamp(eventStamp(entry.Logs[startAt]), ref)
			end, okEnd := utils.ParseEventTimestamp(eventStamp(entry.Logs[connAt]), ref)
			if okStart && okEnd && !end.Before(start) {
				scan.p2pConnect = end.Sub(start)
				connectedAt = end
			}
			break
		}
	}

	if scan.connected && !connectedAt.IsZero() {
		if mediaAt, ok := a.firstMediaAfter(tl, connectedAt, ref); ok {
			scan.firstMedia = mediaAt.Sub(connectedAt)
		}
	}
	return scan
}

// firstMediaAfter finds the earliest media-received event following the
// connect instant across all of the timeline's sessions.
func (a *Aggregator) firstMediaAfter(tl models.Timeline, after, ref time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	for _, id := range tl.SessionIDs() {
		for _, ev := range tl.Entries[id].Logs {
			if !strings.Contains(eventText(ev), a.mediaPattern) {
				continue
			}
			at, ok := utils.ParseEventTimestamp(eventStamp(ev), ref)
			if !ok || at.Before(after) {
				continue
			}
			if !found || at.Before(best) {
				best = at
				found = true
			}
		}
	}
	return best, found
}

func eventText(ev models.LogEvent) string {
	_, msg := utils.SplitEventTimestamp(ev.Event)
	return strings.ToLower(msg)
}

func eventStamp(ev models.LogEvent) string {
	ts, _ := utils.SplitEventTimestamp(ev.Event)
	return ts
}

func findIndex(logs []models.LogEvent, pattern string, from int, unleveledOnly bool) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(logs); i++ {
		if unleveledOnly && logs[i].Level != "" {
			continue
		}
		if strings.Contains(eventText(logs[i]), pattern) {
			return i
		}
	}
	return -1
}
