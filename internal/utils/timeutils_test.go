package utils

import (
	"testing"
	"time"
)

func TestSplitEventTimestamp(t *testing.T) {
	cases := []struct {
		event   string
		wantTS  string
		wantMsg string
	}{
		{"2024-03-01T09:00:00.500Z: loading sfu server", "2024-03-01T09:00:00.500Z", "loading sfu server"},
		{"09:00:01.250: connection state change: connected", "09:00:01.250", "connection state change: connected"},
		{"no timestamp here", "", "no timestamp here"},
		{"", "", ""},
	}
	for _, tc := range cases {
		ts, msg := SplitEventTimestamp(tc.event)
		if ts != tc.wantTS || msg != tc.wantMsg {
			t.Fatalf("SplitEventTimestamp(%q) = (%q, %q), want (%q, %q)",
				tc.event, ts, msg, tc.wantTS, tc.wantMsg)
		}
	}
}

func TestParseEventTimestampISO(t *testing.T) {
	at, ok := ParseEventTimestamp("2024-03-01T09:00:00Z", time.Time{})
	if !ok || at.Hour() != 9 || at.Year() != 2024 {
		t.Fatalf("ISO token not parsed: %v %v", at, ok)
	}
}

func TestParseEventTimestampClockUsesRefDate(t *testing.T) {
	ref := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	at, ok := ParseEventTimestamp("09:30:00.000", ref)
	if !ok {
		t.Fatal("clock token not parsed")
	}
	want := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Fatalf("got %v want %v", at, want)
	}
}

func TestParseEventTimestampMidnightCrossing(t *testing.T) {
	// A reference just before midnight with a token just after it must land
	// on the next day, not 24 hours earlier.
	ref := time.Date(2024, 3, 1, 23, 58, 0, 0, time.UTC)
	at, ok := ParseEventTimestamp("00:02:00.000", ref)
	if !ok {
		t.Fatal("clock token not parsed")
	}
	want := time.Date(2024, 3, 2, 0, 2, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Fatalf("forward crossing: got %v want %v", at, want)
	}

	// And the mirror case resolves to the previous day.
	ref = time.Date(2024, 3, 2, 0, 2, 0, 0, time.UTC)
	at, ok = ParseEventTimestamp("23:58:00.000", ref)
	if !ok {
		t.Fatal("clock token not parsed")
	}
	want = time.Date(2024, 3, 1, 23, 58, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Fatalf("backward crossing: got %v want %v", at, want)
	}
}

func TestParseEventTimestampInvalid(t *testing.T) {
	if _, ok := ParseEventTimestamp("", time.Now()); ok {
		t.Fatal("empty token must not parse")
	}
	if _, ok := ParseEventTimestamp("not a time", time.Now()); ok {
		t.Fatal("garbage token must not parse")
	}
}

func TestParseRFC3339(t *testing.T) {
	if _, ok := ParseRFC3339("2024-03-01T09:00:00+01:00"); !ok {
		t.Fatal("offset timestamp must parse")
	}
	if _, ok := ParseRFC3339("2024-03-01T09:00:00.123"); !ok {
		t.Fatal("zone-less timestamp must parse")
	}
}
