package rules

import (
	"strings"

	"github.com/rtcstack/rtc-triage/internal/models"
	"github.com/rtcstack/rtc-triage/internal/utils"
)

// Log text patterns asserted to correlate with known RTC failure modes. The
// engine recognizes text, it does not interpret protocol semantics.
const (
	patternRecoveryAttempt   = "attempting to recover connection"
	patternRecoveryCandidate = "connection recovery candidate"
	patternSFULoadFailed     = "failed to load sfu server"
	patternSFUTimeout        = "sfu connection timeout"
	patternSFULoading        = "loading sfu server"
	patternConnected         = "connection state change: connected"
	patternClosed            = "connection state change: closed"
	patternGathering         = "gathering state change: gathering"
	patternConnecting        = "connection state change: connecting"
)

// eventMessage strips the leading timestamp token and lowercases the
// free-text message for pattern matching.
func eventMessage(ev models.LogEvent) string {
	_, msg := utils.SplitEventTimestamp(ev.Event)
	return strings.ToLower(msg)
}

// eventTimestamp returns the raw timestamp token of a log event, or "".
func eventTimestamp(ev models.LogEvent) string {
	ts, _ := utils.SplitEventTimestamp(ev.Event)
	return ts
}

func eventMatches(ev models.LogEvent, pattern string) bool {
	return strings.Contains(eventMessage(ev), pattern)
}

// matchCount counts logs whose message contains the pattern.
func matchCount(logs []models.LogEvent, pattern string) int {
	count := 0
	for _, ev := range logs {
		if eventMatches(ev, pattern) {
			count++
		}
	}
	return count
}

// indexOfMatch returns the index of the first log at or after from whose
// message contains the pattern, or -1.
func indexOfMatch(logs []models.LogEvent, pattern string, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(logs); i++ {
		if eventMatches(logs[i], pattern) {
			return i
		}
	}
	return -1
}

// indexOfUnleveledMatch is indexOfMatch restricted to logs with no level
// field. The SFU signaling stream logs its state changes unleveled; an RTC
// peer-level state change carries a level and must not match.
func indexOfUnleveledMatch(logs []models.LogEvent, pattern string, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(logs); i++ {
		if logs[i].Level == "" && eventMatches(logs[i], pattern) {
			return i
		}
	}
	return -1
}

// lastMatchTimestamp returns the timestamp token of the last log containing
// the pattern, or "".
func lastMatchTimestamp(logs []models.LogEvent, pattern string) string {
	ts := ""
	for _, ev := range logs {
		if eventMatches(ev, pattern) {
			if t := eventTimestamp(ev); t != "" {
				ts = t
			}
		}
	}
	return ts
}
