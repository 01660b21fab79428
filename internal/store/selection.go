package store

import "github.com/rtcstack/rtc-triage/internal/models"

// Selection names the timeline and snapshot keys in scope for analysis. A
// nil slice means "no filtering" (every key included); an empty non-nil
// slice means "nothing selected".
type Selection struct {
	Timelines []string `json:"selectedTimelines"`
	Snapshots []string `json:"selectedSnapshots"`
}

// Clone returns a selection sharing no slices with the receiver.
func (s Selection) Clone() Selection {
	out := Selection{}
	if s.Timelines != nil {
		out.Timelines = append([]string{}, s.Timelines...)
	}
	if s.Snapshots != nil {
		out.Snapshots = append([]string{}, s.Snapshots...)
	}
	return out
}

// Filter narrows a document to the selected keys. The output is a new
// document whose maps are fresh but whose Timeline/Snapshot values are
// shared with the input; all other top-level fields pass through unchanged.
func Filter(doc *models.LogDocument, sel Selection) *models.LogDocument {
	if doc == nil {
		return nil
	}
	out := &models.LogDocument{
		OdooInfo:  doc.OdooInfo,
		Timelines: pickTimelines(doc.Timelines, sel.Timelines),
		Snapshots: pickSnapshots(doc.Snapshots, sel.Snapshots),
	}
	return out
}

func pickTimelines(all map[string]models.Timeline, keys []string) map[string]models.Timeline {
	if keys == nil {
		out := make(map[string]models.Timeline, len(all))
		for key, tl := range all {
			out[key] = tl
		}
		return out
	}
	out := make(map[string]models.Timeline, len(keys))
	for _, key := range keys {
		if tl, ok := all[key]; ok {
			out[key] = tl
		}
	}
	return out
}

func pickSnapshots(all map[string]models.Snapshot, keys []string) map[string]models.Snapshot {
	if keys == nil {
		out := make(map[string]models.Snapshot, len(all))
		for key, snap := range all {
			out[key] = snap
		}
		return out
	}
	out := make(map[string]models.Snapshot, len(keys))
	for _, key := range keys {
		if snap, ok := all[key]; ok {
			out[key] = snap
		}
	}
	return out
}
