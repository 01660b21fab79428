package models

import (
	"encoding/json"
	"sort"
)

// Timeline is the chronological log stream for one call attempt, holding one
// SessionEntry per participant. SelfSessionID names the local participant's
// key within Entries.
type Timeline struct {
	ChannelID     int64                   `json:"channelId,omitempty"`
	SelfSessionID SessionID               `json:"selfSessionId,omitempty"`
	Start         string                  `json:"start,omitempty"`
	End           string                  `json:"end,omitempty"`
	HasTurn       bool                    `json:"hasTurn,omitempty"`
	Entries       map[string]SessionEntry `json:"entriesBySessionId"`
}

// SessionID appears as either a JSON number or string depending on the
// capture producer; both decode to the string form.
type SessionID string

// UnmarshalJSON accepts numeric and string session ids.
func (s *SessionID) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = SessionID(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = SessionID(num.String())
	return nil
}

func (s SessionID) String() string { return string(s) }

// UnmarshalJSON handles the structural quirk of the capture format: some
// producers colocate a boolean "hasTurn" flag inside entriesBySessionId
// alongside the numeric session keys. Non-numeric keys are never session
// entries and must not leak into Entries.
func (t *Timeline) UnmarshalJSON(data []byte) error {
	type alias struct {
		ChannelID     int64                      `json:"channelId"`
		SelfSessionID SessionID                  `json:"selfSessionId"`
		Start         string                     `json:"start"`
		End           string                     `json:"end"`
		HasTurn       bool                       `json:"hasTurn"`
		Entries       map[string]json.RawMessage `json:"entriesBySessionId"`
	}
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.ChannelID = raw.ChannelID
	t.SelfSessionID = raw.SelfSessionID
	t.Start = raw.Start
	t.End = raw.End
	t.HasTurn = raw.HasTurn
	t.Entries = make(map[string]SessionEntry, len(raw.Entries))
	for key, value := range raw.Entries {
		if key == "hasTurn" {
			var flag bool
			if err := json.Unmarshal(value, &flag); err == nil {
				t.HasTurn = flag
			}
			continue
		}
		if !isNumericKey(key) {
			continue
		}
		var entry SessionEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return err
		}
		t.Entries[key] = entry
	}
	return nil
}

func isNumericKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SessionIDs returns the numeric session keys in sorted order.
func (t Timeline) SessionIDs() []string {
	ids := make([]string, 0, len(t.Entries))
	for id := range t.Entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SelfEntry returns the local participant's entry, if present.
func (t Timeline) SelfEntry() (SessionEntry, bool) {
	entry, ok := t.Entries[t.SelfSessionID.String()]
	return entry, ok
}

// SessionEntry is one participant's log stream within a timeline. Logs are
// chronologically ordered by the producer but not guaranteed monotonic;
// consumers must treat them as "mostly ordered".
type SessionEntry struct {
	Step  string     `json:"step,omitempty"`
	State string     `json:"state,omitempty"`
	Logs  []LogEvent `json:"logs"`
}

// HasLeveledLog reports whether any log carries an explicit level, which
// marks the entry as an RTC peer (P2P) stream rather than an SFU one.
func (e SessionEntry) HasLeveledLog() bool {
	for _, log := range e.Logs {
		if log.Level != "" {
			return true
		}
	}
	return false
}

// LogEvent is a single diagnostic log line. Event encodes a leading
// timestamp token (either "ISO8601:" or bare "HH:MM:SS.mmm:") followed by
// free-text message.
type LogEvent struct {
	Event string `json:"event"`
	Level string `json:"level,omitempty"`
}
