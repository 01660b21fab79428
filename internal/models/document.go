package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// LogDocument is a single loaded RTC diagnostic capture: a map of call
// timelines and a map of point-in-time state snapshots, both keyed by
// ISO-8601 timestamp strings. Lexicographic key order equals chronological
// order. A document is never mutated after load; a new load replaces it
// wholesale.
type LogDocument struct {
	OdooInfo  map[string]any      `json:"odooInfo,omitempty"`
	Timelines map[string]Timeline `json:"timelines"`
	Snapshots map[string]Snapshot `json:"snapshots"`
}

// ParseDocument decodes a raw capture. The payload must be a JSON object;
// anything else is rejected so a previously loaded document is never
// clobbered by a bad upload.
func ParseDocument(data []byte) (*LogDocument, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("capture payload is not a JSON object")
	}
	var doc LogDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse capture: %w", err)
	}
	if doc.Timelines == nil {
		doc.Timelines = map[string]Timeline{}
	}
	if doc.Snapshots == nil {
		doc.Snapshots = map[string]Snapshot{}
	}
	return &doc, nil
}

// TimelineKeys returns all timeline keys in chronological order.
func (d *LogDocument) TimelineKeys() []string {
	keys := make([]string, 0, len(d.Timelines))
	for key := range d.Timelines {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// SnapshotKeys returns all snapshot keys in chronological order.
func (d *LogDocument) SnapshotKeys() []string {
	keys := make([]string, 0, len(d.Snapshots))
	for key := range d.Snapshots {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// SessionEntryCount totals session entries across all timelines.
func (d *LogDocument) SessionEntryCount() int {
	total := 0
	for _, tl := range d.Timelines {
		total += len(tl.Entries)
	}
	return total
}

// Clone returns a structural copy sharing no mutable state with the
// receiver. Used when handing a document to the analysis worker, which must
// not alias caller memory.
func (d *LogDocument) Clone() (*LogDocument, error) {
	if d == nil {
		return nil, fmt.Errorf("nil document")
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("copy document: %w", err)
	}
	return ParseDocument(data)
}
