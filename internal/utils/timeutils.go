package utils

import (
	"regexp"
	"time"
)

// Capture log lines prefix their message with a timestamp token, either a
// full ISO-8601 instant or a bare wall-clock time with millisecond
// precision.
var (
	isoPrefix   = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?):\s*`)
	clockPrefix = regexp.MustCompile(`^(\d{2}:\d{2}:\d{2}\.\d{3}):\s*`)
)

// SplitEventTimestamp separates the leading timestamp token of a log event
// from its free-text message. When no token is present the timestamp is
// empty and the message is the full input.
func SplitEventTimestamp(event string) (timestamp, message string) {
	if m := isoPrefix.FindStringSubmatch(event); m != nil {
		return m[1], event[len(m[0]):]
	}
	if m := clockPrefix.FindStringSubmatch(event); m != nil {
		return m[1], event[len(m[0]):]
	}
	return "", event
}

// ParseEventTimestamp resolves a timestamp token to an instant. Bare
// wall-clock tokens carry no date, so ref supplies it; tokens on the far
// side of midnight relative to ref are resolved to the nearest day.
func ParseEventTimestamp(token string, ref time.Time) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000"} {
		if t, err := time.Parse(layout, token); err == nil {
			return t, true
		}
	}
	clock, err := time.Parse("15:04:05.000", token)
	if err != nil {
		return time.Time{}, false
	}
	if ref.IsZero() {
		return clock, true
	}
	year, month, day := ref.Date()
	t := time.Date(year, month, day, clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), ref.Location())
	if diff := t.Sub(ref); diff > 12*time.Hour {
		t = t.AddDate(0, 0, -1)
	} else if diff < -12*time.Hour {
		t = t.AddDate(0, 0, 1)
	}
	return t, true
}

// ParseRFC3339 returns a time from the provided string, tolerating the
// fractional-second variants produced by capture tooling.
func ParseRFC3339(value string) (time.Time, bool) {
	return ParseEventTimestamp(value, time.Time{})
}
