package rules

import (
	"testing"
	"time"

	"github.com/rtcstack/rtc-triage/internal/models"
)

func mustParse(t *testing.T, payload string) *models.LogDocument {
	t.Helper()
	doc, err := models.ParseDocument([]byte(payload))
	if err != nil {
		t.Fatalf("parse capture: %v", err)
	}
	return doc
}

func runRule(t *testing.T, doc *models.LogDocument, ruleID string) []models.Issue {
	t.Helper()
	for _, rule := range DefaultRegistry(DefaultThresholds()) {
		if rule.ID == ruleID {
			return Run(nil, doc, []Rule{rule})
		}
	}
	t.Fatalf("rule %s not registered", ruleID)
	return nil
}

func TestDetectFallbackMode(t *testing.T) {
	doc := mustParse(t, `{
		"snapshots": {
			"2024-03-01T09:05:00Z": {"fallback": true},
			"2024-03-01T09:10:00Z": {"fallback": false}
		}
	}`)
	issues := runRule(t, doc, "fallback_mode")
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(issues))
	}
	if issues[0].Evidence.SnapshotKey != "2024-03-01T09:05:00Z" {
		t.Fatalf("wrong snapshot attributed: %q", issues[0].Evidence.SnapshotKey)
	}
	if issues[0].ErrorCode != 1101 || issues[0].Type != models.IssueWarning {
		t.Fatalf("unexpected metadata: %+v", issues[0])
	}
}

func TestDetectRecoveryLoop(t *testing.T) {
	recoveries := func(n int) string {
		logs := ""
		for i := 0; i < n; i++ {
			if i > 0 {
				logs += ","
			}
			logs += `{"event": "09:00:0` + string(rune('1'+i)) + `.000: Attempting to recover connection"}`
		}
		return logs
	}
	under := mustParse(t, `{"timelines": {"a": {"entriesBySessionId": {"1": {"logs": [`+recoveries(2)+`]}}}}}`)
	if issues := runRule(t, under, "recovery_loop"); len(issues) != 0 {
		t.Fatalf("threshold not honored: %d issues", len(issues))
	}

	over := mustParse(t, `{"timelines": {"a": {"entriesBySessionId": {"1": {"logs": [`+recoveries(3)+`]}}}}}`)
	issues := runRule(t, over, "recovery_loop")
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(issues))
	}
	if got := issues[0].Details["recoveryAttempts"]; got != 3 {
		t.Fatalf("recoveryAttempts detail: %v", got)
	}
	if issues[0].Evidence.EventTime != "09:00:03.000" {
		t.Fatalf("last recovery time not surfaced: %q", issues[0].Evidence.EventTime)
	}
}

func TestDetectSFUConnectSlow(t *testing.T) {
	doc := mustParse(t, `{
		"timelines": {
			"a": {
				"selfSessionId": 1,
				"start": "2024-03-01T09:00:00Z",
				"entriesBySessionId": {
					"1": {"logs": [
						{"event": "09:00:00.000: loading sfu server"},
						{"event": "09:00:09.000: connection state change: connected"}
					]}
				}
			}
		}
	}`)
	issues := runRule(t, doc, "sfu_connect_slow")
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(issues))
	}
	if got := issues[0].Details["elapsedMs"]; got != int64(9000) {
		t.Fatalf("elapsedMs detail: %v", got)
	}
}

func TestDetectSFUConnectSlowIgnoresPeerLevelConnected(t *testing.T) {
	// The leveled connected event belongs to the RTC peer stream, not the
	// SFU signaling stream, so the attempt counts as stalled instead.
	doc := mustParse(t, `{
		"timelines": {
			"a": {
				"selfSessionId": 1,
				"start": "2024-03-01T09:00:00Z",
				"entriesBySessionId": {
					"1": {"logs": [
						{"event": "09:00:00.000: loading sfu server"},
						{"event": "09:00:02.000: connection state change: connected", "level": "info"}
					]}
				}
			}
		}
	}`)
	if issues := runRule(t, doc, "sfu_connect_slow"); len(issues) != 0 {
		t.Fatal("leveled connected event must not end the SFU window")
	}
	stalled := runRule(t, doc, "sfu_connect_stalled")
	if len(stalled) != 1 {
		t.Fatalf("expected stalled finding, got %d", len(stalled))
	}
}

func TestDetectSFUTimeout(t *testing.T) {
	doc := mustParse(t, `{
		"timelines": {
			"a": {
				"selfSessionId": 1,
				"entriesBySessionId": {
					"1": {"logs": [
						{"event": "09:00:00.000: loading sfu server"},
						{"event": "09:00:10.000: SFU connection timeout"}
					]}
				}
			}
		}
	}`)
	issues := runRule(t, doc, "sfu_connect_timeout")
	if len(issues) != 1 || issues[0].Type != models.IssueError {
		t.Fatalf("unexpected issues: %+v", issues)
	}
	if issues[0].Evidence.EventTime != "09:00:10.000" {
		t.Fatalf("event time: %q", issues[0].Evidence.EventTime)
	}
	// A resolved attempt is not also stalled.
	if stalled := runRule(t, doc, "sfu_connect_stalled"); len(stalled) != 0 {
		t.Fatal("timeout attempt also reported as stalled")
	}
}

func TestDetectMissingPeerICE(t *testing.T) {
	logs := ""
	for i := 0; i < 5; i++ {
		if i > 0 {
			logs += ","
		}
		logs += `{"event": "09:00:01.000: received ICE-candidate for missing peer 42"}`
	}
	doc := mustParse(t, `{
		"timelines": {"a": {"entriesBySessionId": {"1": {"logs": [`+logs+`]}}}}
	}`)
	issues := runRule(t, doc, "missing_peer_ice")
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(issues))
	}
	if got := issues[0].Details["peerId"]; got != "42" {
		t.Fatalf("peerId detail: %v", got)
	}
	if got := issues[0].Details["candidates"]; got != 5 {
		t.Fatalf("candidates detail: %v", got)
	}
}

func TestDetectFailedConnection(t *testing.T) {
	doc := mustParse(t, `{
		"timelines": {
			"a": {
				"selfSessionId": 1,
				"entriesBySessionId": {
					"1": {"logs": [{"event": "09:00:00.000: loading sfu server"}]},
					"2": {"logs": [{"event": "09:00:01.000: gathering state change: gathering"}]},
					"3": {"logs": [{"event": "09:00:02.000: connection state change: connected"}]},
					"4": {"logs": []}
				}
			}
		}
	}`)
	issues := runRule(t, doc, "failed_connection")
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(issues))
	}
	// Session 1 is self, 3 connected, 4 logged nothing; only 2 failed.
	if issues[0].SessionID != "2" {
		t.Fatalf("wrong session flagged: %q", issues[0].SessionID)
	}
}

func TestDetectSessionStuck(t *testing.T) {
	doc := mustParse(t, `{
		"snapshots": {
			"2024-03-01T09:05:00Z": {
				"sessions": [
					{"id": 1, "state": "searching for network", "peer": {"state": "new"}},
					{"id": 2, "state": "connected", "peer": {"state": "connected"}}
				]
			}
		}
	}`)
	issues := runRule(t, doc, "session_stuck")
	if len(issues) != 1 || issues[0].SessionID != "1" {
		t.Fatalf("unexpected issues: %+v", issues)
	}
}

func TestDetectAudioStalled(t *testing.T) {
	doc := mustParse(t, `{
		"snapshots": {
			"2024-03-01T09:05:00Z": {
				"sessions": [
					{"id": 1, "state": "connected", "audio": {"state": 1, "networkState": 2}},
					{"id": 2, "state": "connected", "audio": {"state": 4, "networkState": 2}},
					{"id": 3, "state": "connected", "audio": {"state": 4, "networkState": 3}},
					{"id": 4, "state": "new", "audio": {"state": 0}}
				]
			}
		}
	}`)
	issues := runRule(t, doc, "audio_stalled")
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(issues))
	}
	// Low readyState and no-source networkState both flag; healthy playback
	// and non-connected sessions do not.
	if issues[0].SessionID != "1" || issues[1].SessionID != "3" {
		t.Fatalf("wrong sessions flagged: %q %q", issues[0].SessionID, issues[1].SessionID)
	}
}

func TestDetectTURNRules(t *testing.T) {
	doc := mustParse(t, `{
		"timelines": {
			"a": {"entriesBySessionId": {"hasTurn": false, "1": {"logs": []}}},
			"b": {"hasTurn": true, "entriesBySessionId": {"1": {"logs": []}}}
		},
		"snapshots": {
			"2024-03-01T09:05:00Z": {
				"sessions": [
					{"id": 1, "peer": {"remoteCandidateType": "relay"}},
					{"id": 2, "peer": {"remoteCandidateType": "srflx"}}
				]
			}
		}
	}`)
	noTurn := runRule(t, doc, "no_turn_configured")
	if len(noTurn) != 1 || noTurn[0].TimelineKey != "a" {
		t.Fatalf("no_turn_configured: %+v", noTurn)
	}
	relay := runRule(t, doc, "turn_relay_in_use")
	if len(relay) != 1 || relay[0].SessionID != "1" {
		t.Fatalf("turn_relay_in_use: %+v", relay)
	}
}

func TestDetectSFUServerError(t *testing.T) {
	doc := mustParse(t, `{
		"snapshots": {
			"2024-03-01T09:05:00Z": {
				"server": {"state": "error", "errors": ["Channel full", "socket hang up"]}
			}
		}
	}`)
	issues := runRule(t, doc, "sfu_server_error")
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(issues))
	}
	// Errors sort first, so the known capacity failure leads.
	if issues[0].Type != models.IssueError || issues[0].Details["known"] != true {
		t.Fatalf("known error not classified: %+v", issues[0])
	}
	if issues[0].Recommendation == issues[1].Recommendation {
		t.Fatal("known and unknown errors should recommend differently")
	}
	if issues[1].Type != models.IssueWarning {
		t.Fatalf("unknown error severity: %v", issues[1].Type)
	}
}

func TestThresholdOverride(t *testing.T) {
	th := Thresholds{RecoveryLoop: 1}.withDefaults()
	if th.RecoveryLoop != 1 {
		t.Fatalf("explicit override lost: %d", th.RecoveryLoop)
	}
	if th.SFUConnectSlow != 5*time.Second {
		t.Fatalf("zero field not defaulted: %v", th.SFUConnectSlow)
	}
}
