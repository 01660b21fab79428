package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rtcstack/rtc-triage/internal/models"
	"github.com/rtcstack/rtc-triage/internal/utils"
)

var missingPeerRe = regexp.MustCompile(`received ice-candidate for missing peer (\d+)`)

// knownServerError is the one SFU server error string the engine classifies
// as a recognized capacity failure; anything else reports as unclassified.
const knownServerError = "Channel full"

// DefaultRegistry builds the stock detector set with the provided
// thresholds. The registry is plain data; tests and embedders may pass any
// slice of rules to Run.
func DefaultRegistry(th Thresholds) []Rule {
	th = th.withDefaults()
	return []Rule{
		{
			ID:              "fallback_mode",
			ErrorCode:       1101,
			Severity:        models.IssueWarning,
			Title:           "Call fell back to peer-to-peer",
			Recommendation:  "Check SFU server availability and capacity; fallback mode degrades large calls.",
			EvidencePattern: "fallback",
			Detect:          detectFallbackMode,
		},
		{
			ID:              "recovery_loop",
			ErrorCode:       1201,
			Severity:        models.IssueWarning,
			Title:           "Connection recovery loop",
			Recommendation:  "Repeated recovery attempts point at an unstable network path; inspect ICE connectivity and packet loss.",
			EvidencePattern: patternRecoveryAttempt,
			Detect:          detectRecoveryLoop(th.RecoveryLoop),
		},
		{
			ID:              "recovery_candidate_storm",
			ErrorCode:       1202,
			Severity:        models.IssueWarning,
			Title:           "Recovery candidate storm",
			Recommendation:  "A storm of recovery candidates usually means the peer is flapping; verify NAT timeouts and TURN reachability.",
			EvidencePattern: patternRecoveryCandidate,
			Detect:          detectRecoveryCandidateStorm(th.RecoveryCandidateStorm),
		},
		{
			ID:              "sfu_asset_load_failure",
			ErrorCode:       1301,
			Severity:        models.IssueError,
			Title:           "SFU client bundle failed to load",
			Recommendation:  "The SFU client asset could not be fetched; check the SFU URL and any content blockers or proxies.",
			EvidencePattern: patternSFULoadFailed,
			Detect:          detectSelfSessionEvent(patternSFULoadFailed),
		},
		{
			ID:              "sfu_connect_timeout",
			ErrorCode:       1302,
			Severity:        models.IssueError,
			Title:           "SFU connection timed out",
			Recommendation:  "The SFU never answered within the timeout; verify the server is up and reachable from the client network.",
			EvidencePattern: patternSFUTimeout,
			Detect:          detectSelfSessionEvent(patternSFUTimeout),
		},
		{
			ID:              "sfu_connect_stalled",
			ErrorCode:       1303,
			Severity:        models.IssueWarning,
			Title:           "SFU connection stalled",
			Recommendation:  "The SFU load started but neither connected, failed, nor timed out before the call ended; the client likely left while still connecting.",
			EvidencePattern: patternSFULoading,
			Detect:          detectSFUConnectStalled,
		},
		{
			ID:              "sfu_connect_slow",
			ErrorCode:       1304,
			Severity:        models.IssueWarning,
			Title:           "Slow SFU connection setup",
			Recommendation:  "Connection setup exceeded the acceptable window; check server load and client network latency.",
			EvidencePattern: patternConnected,
			Detect:          detectSFUConnectSlow(th.SFUConnectSlow),
		},
		{
			ID:              "sfu_connection_closed",
			ErrorCode:       1305,
			Severity:        models.IssueWarning,
			Title:           "SFU connection closed",
			Recommendation:  "The SFU closed the connection after signaling began; inspect server logs around the close time.",
			EvidencePattern: patternClosed,
			Detect:          detectSFUConnectionClosed,
		},
		{
			ID:              "missing_peer_ice",
			ErrorCode:       1306,
			Severity:        models.IssueWarning,
			Title:           "ICE candidates for missing peer",
			Recommendation:  "Candidates kept arriving for a peer this client does not know; the peers likely disagree on call membership.",
			Detect:          detectMissingPeerICE(th.MissingPeerICE),
		},
		{
			ID:             "session_stuck",
			ErrorCode:      1401,
			Severity:       models.IssueError,
			Title:          "Session stuck during setup",
			Recommendation: "The session never progressed past discovery; check ICE server configuration and firewall rules.",
			Detect:         detectSessionStuck,
		},
		{
			ID:             "audio_stalled",
			ErrorCode:      1402,
			Severity:       models.IssueWarning,
			Title:          "Audio playback stalled",
			Recommendation: "The session is connected but its audio element has no playable data; check autoplay policies and track routing.",
			Detect:         detectAudioStalled(th.AudioReadyStateMax, th.AudioNetworkNoSource),
		},
		{
			ID:              "failed_connection",
			ErrorCode:       1203,
			Severity:        models.IssueError,
			Title:           "Peer never connected",
			Recommendation:  "A remote participant never reached the connected state; correlate with that peer's own diagnostics.",
			EvidencePattern: patternConnected,
			Detect:          detectFailedConnection,
		},
		{
			ID:             "no_turn_configured",
			ErrorCode:      1501,
			Severity:       models.IssueInfo,
			Title:          "No TURN server configured",
			Recommendation: "Without TURN, clients behind symmetric NAT cannot connect; configure a relay for reliability.",
			Detect:         detectNoTURN,
		},
		{
			ID:             "turn_relay_in_use",
			ErrorCode:      1502,
			Severity:       models.IssueInfo,
			Title:          "Media relayed through TURN",
			Recommendation: "Traffic is flowing through the TURN relay; direct connectivity failed, which adds latency but is expected behavior.",
			Detect:         detectTURNRelay,
		},
		{
			ID:        "sfu_server_error",
			ErrorCode: 1601,
			Severity:  models.IssueError,
			Title:     "SFU server reported errors",
			RecommendFunc: func(issue models.Issue) string {
				if known, _ := issue.Details["known"].(bool); known {
					return "The SFU refused the join because the channel is at capacity; raise the channel limit or shard the call."
				}
				return "The SFU reported an unclassified error; inspect the server logs for the raw message."
			},
			Detect: detectSFUServerError,
		},
	}
}

func detectFallbackMode(doc *models.LogDocument) []Finding {
	var findings []Finding
	for _, key := range doc.SnapshotKeys() {
		if doc.Snapshots[key].Fallback {
			findings = append(findings, Finding{
				SnapshotKey: key,
				Description: "The snapshot records the call running in peer-to-peer fallback instead of through the SFU.",
			})
		}
	}
	return findings
}

func detectRecoveryLoop(threshold int) DetectFunc {
	return func(doc *models.LogDocument) []Finding {
		var findings []Finding
		eachSessionEntry(doc, func(timelineKey, sessionID string, entry models.SessionEntry) {
			count := matchCount(entry.Logs, patternRecoveryAttempt)
			if count < threshold {
				return
			}
			findings = append(findings, Finding{
				TimelineKey: timelineKey,
				SessionID:   sessionID,
				Description: fmt.Sprintf("Session attempted connection recovery %d times.", count),
				Details: map[string]any{
					"recoveryAttempts": count,
					"lastRecoveryTime": lastMatchTimestamp(entry.Logs, patternRecoveryAttempt),
				},
			})
		})
		return findings
	}
}

func detectRecoveryCandidateStorm(threshold int) DetectFunc {
	return func(doc *models.LogDocument) []Finding {
		var findings []Finding
		eachSessionEntry(doc, func(timelineKey, sessionID string, entry models.SessionEntry) {
			count := matchCount(entry.Logs, patternRecoveryCandidate)
			if count < threshold {
				return
			}
			findings = append(findings, Finding{
				TimelineKey: timelineKey,
				SessionID:   sessionID,
				Description: fmt.Sprintf("Session produced %d recovery candidate events.", count),
				Details: map[string]any{
					"candidateEvents": count,
					"lastEventTime":   lastMatchTimestamp(entry.Logs, patternRecoveryCandidate),
					"stormThreshold":  threshold,
				},
			})
		})
		return findings
	}
}

// detectSelfSessionEvent flags the presence of a single pattern in the self
// session's log stream, once per timeline.
func detectSelfSessionEvent(pattern string) DetectFunc {
	return func(doc *models.LogDocument) []Finding {
		var findings []Finding
		for _, key := range doc.TimelineKeys() {
			tl := doc.Timelines[key]
			self, ok := tl.SelfEntry()
			if !ok {
				continue
			}
			at := indexOfMatch(self.Logs, pattern, 0)
			if at < 0 {
				continue
			}
			findings = append(findings, Finding{
				TimelineKey: key,
				SessionID:   tl.SelfSessionID.String(),
				EventTime:   eventTimestamp(self.Logs[at]),
			})
		}
		return findings
	}
}

func detectSFUConnectStalled(doc *models.LogDocument) []Finding {
	var findings []Finding
	for _, key := range doc.TimelineKeys() {
		tl := doc.Timelines[key]
		self, ok := tl.SelfEntry()
		if !ok {
			continue
		}
		loading := indexOfMatch(self.Logs, patternSFULoading, 0)
		if loading < 0 {
			continue
		}
		// A terminal event after the load start resolves the attempt.
		if indexOfMatch(self.Logs, patternSFUTimeout, loading+1) >= 0 {
			continue
		}
		if indexOfMatch(self.Logs, patternSFULoadFailed, loading+1) >= 0 {
			continue
		}
		if indexOfUnleveledMatch(self.Logs, patternConnected, loading+1) >= 0 {
			continue
		}
		findings = append(findings, Finding{
			TimelineKey: key,
			SessionID:   tl.SelfSessionID.String(),
			EventTime:   eventTimestamp(self.Logs[loading]),
			Description: "SFU load started but no connected, failed, or timeout event followed before the timeline ended.",
		})
	}
	return findings
}

func detectSFUConnectSlow(limit time.Duration) DetectFunc {
	return func(doc *models.LogDocument) []Finding {
		var findings []Finding
		for _, key := range doc.TimelineKeys() {
			tl := doc.Timelines[key]
			self, ok := tl.SelfEntry()
			if !ok {
				continue
			}
			loading := indexOfMatch(self.Logs, patternSFULoading, 0)
			if loading < 0 {
				continue
			}
			connected := indexOfUnleveledMatch(self.Logs, patternConnected, loading+1)
			if connected < 0 {
				continue
			}
			ref, _ := utils.ParseRFC3339(tl.Start)
			startAt, okStart := utils.ParseEventTimestamp(eventTimestamp(self.Logs[loading]), ref)
			endAt, okEnd := utils.ParseEventTimestamp(eventTimestamp(self.Logs[connected]), ref)
			if !okStart || !okEnd {
				continue
			}
			elapsed := endAt.Sub(startAt)
			if elapsed <= limit {
				continue
			}
			findings = append(findings, Finding{
				TimelineKey: key,
				SessionID:   tl.SelfSessionID.String(),
				EventTime:   eventTimestamp(self.Logs[connected]),
				Description: fmt.Sprintf("SFU connection took %v to reach connected.", elapsed),
				Details: map[string]any{
					"elapsedMs": elapsed.Milliseconds(),
				},
			})
		}
		return findings
	}
}

func detectSFUConnectionClosed(doc *models.LogDocument) []Finding {
	var findings []Finding
	for _, key := range doc.TimelineKeys() {
		tl := doc.Timelines[key]
		self, ok := tl.SelfEntry()
		if !ok {
			continue
		}
		firstSFU := -1
		for i, ev := range self.Logs {
			if strings.Contains(eventMessage(ev), "sfu") {
				firstSFU = i
				break
			}
		}
		if firstSFU < 0 {
			continue
		}
		closed := indexOfMatch(self.Logs, patternClosed, firstSFU+1)
		if closed < 0 {
			continue
		}
		findings = append(findings, Finding{
			TimelineKey: key,
			SessionID:   tl.SelfSessionID.String(),
			EventTime:   eventTimestamp(self.Logs[closed]),
			Description: "The connection closed after SFU signaling had begun.",
		})
	}
	return findings
}

func detectMissingPeerICE(threshold int) DetectFunc {
	return func(doc *models.LogDocument) []Finding {
		var findings []Finding
		for _, key := range doc.TimelineKeys() {
			tl := doc.Timelines[key]
			counts := map[string]int{}
			lastSeen := map[string]string{}
			for _, id := range tl.SessionIDs() {
				for _, ev := range tl.Entries[id].Logs {
					m := missingPeerRe.FindStringSubmatch(eventMessage(ev))
					if m == nil {
						continue
					}
					counts[m[1]]++
					if ts := eventTimestamp(ev); ts != "" {
						lastSeen[m[1]] = ts
					}
				}
			}
			peers := make([]string, 0, len(counts))
			for peer := range counts {
				peers = append(peers, peer)
			}
			sort.Strings(peers)
			for _, peer := range peers {
				if counts[peer] < threshold {
					continue
				}
				findings = append(findings, Finding{
					TimelineKey: key,
					Description: fmt.Sprintf("Received %d ICE candidates for unknown peer %s.", counts[peer], peer),
					Details: map[string]any{
						"peerId":        peer,
						"candidates":    counts[peer],
						"lastEventTime": lastSeen[peer],
					},
				})
			}
		}
		return findings
	}
}

func detectSessionStuck(doc *models.LogDocument) []Finding {
	var findings []Finding
	eachSnapshotSession(doc, func(snapshotKey string, session models.Session) {
		if session.State != "new" && session.State != "searching for network" {
			return
		}
		if session.Peer == nil || session.Peer.State != "new" {
			return
		}
		findings = append(findings, Finding{
			SnapshotKey: snapshotKey,
			SessionID:   session.ID.String(),
			Description: fmt.Sprintf("Session is stuck in state %q with a brand-new peer connection.", session.State),
		})
	})
	return findings
}

func detectAudioStalled(readyStateMax, noSourceCode int) DetectFunc {
	return func(doc *models.LogDocument) []Finding {
		var findings []Finding
		eachSnapshotSession(doc, func(snapshotKey string, session models.Session) {
			if session.Audio == nil || session.State != "connected" {
				return
			}
			if session.Audio.State > readyStateMax && session.Audio.NetworkState != noSourceCode {
				return
			}
			findings = append(findings, Finding{
				SnapshotKey: snapshotKey,
				SessionID:   session.ID.String(),
				Description: fmt.Sprintf("Connected session has audio readyState %d and networkState %d.",
					session.Audio.State, session.Audio.NetworkState),
				Details: map[string]any{
					"readyState":   session.Audio.State,
					"networkState": session.Audio.NetworkState,
				},
			})
		})
		return findings
	}
}

func detectFailedConnection(doc *models.LogDocument) []Finding {
	var findings []Finding
	for _, key := range doc.TimelineKeys() {
		tl := doc.Timelines[key]
		for _, id := range tl.SessionIDs() {
			if id == tl.SelfSessionID.String() {
				continue
			}
			entry := tl.Entries[id]
			if len(entry.Logs) == 0 {
				continue
			}
			if matchCount(entry.Logs, patternConnected) > 0 {
				continue
			}
			findings = append(findings, Finding{
				TimelineKey: key,
				SessionID:   id,
				Description: "Remote session logged activity but never reached the connected state.",
			})
		}
	}
	return findings
}

func detectNoTURN(doc *models.LogDocument) []Finding {
	var findings []Finding
	for _, key := range doc.TimelineKeys() {
		if doc.Timelines[key].HasTurn {
			continue
		}
		findings = append(findings, Finding{
			TimelineKey: key,
			Description: "The call ran without any TURN server configured.",
		})
	}
	return findings
}

func detectTURNRelay(doc *models.LogDocument) []Finding {
	var findings []Finding
	eachSnapshotSession(doc, func(snapshotKey string, session models.Session) {
		if session.Peer == nil || session.Peer.RemoteCandidateType != "relay" {
			return
		}
		findings = append(findings, Finding{
			SnapshotKey: snapshotKey,
			SessionID:   session.ID.String(),
			Description: "Remote media for this session travels through a TURN relay.",
		})
	})
	return findings
}

func detectSFUServerError(doc *models.LogDocument) []Finding {
	var findings []Finding
	for _, key := range doc.SnapshotKeys() {
		snap := doc.Snapshots[key]
		if snap.Server == nil {
			continue
		}
		for _, msg := range snap.Server.Errors {
			known := msg == knownServerError
			severity := models.IssueWarning
			if known {
				severity = models.IssueError
			}
			findings = append(findings, Finding{
				SnapshotKey: key,
				Severity:    severity,
				Description: fmt.Sprintf("SFU server error: %s", msg),
				Details: map[string]any{
					"serverError": msg,
					"known":       known,
				},
			})
		}
	}
	return findings
}

func eachSessionEntry(doc *models.LogDocument, fn func(timelineKey, sessionID string, entry models.SessionEntry)) {
	for _, key := range doc.TimelineKeys() {
		tl := doc.Timelines[key]
		for _, id := range tl.SessionIDs() {
			fn(key, id, tl.Entries[id])
		}
	}
}

func eachSnapshotSession(doc *models.LogDocument, fn func(snapshotKey string, session models.Session)) {
	for _, key := range doc.SnapshotKeys() {
		for _, session := range doc.Snapshots[key].Sessions {
			fn(key, session)
		}
	}
}
