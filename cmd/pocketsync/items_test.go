package main

import (
	"testing"
	"time"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("2024-01-31", now)
	if err != nil {
		t.Fatalf("parseSince date: %v", err)
	}
	if want := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("date: got %v, want %v", got, want)
	}

	got, err = parseSince("2024-03-01T10:00:00Z", now)
	if err != nil {
		t.Fatalf("parseSince rfc3339: %v", err)
	}
	if got.Unix() != time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).Unix() {
		t.Errorf("rfc3339: got %v", got)
	}

	got, err = parseSince("3 days ago", now)
	if err != nil {
		t.Fatalf("parseSince relative: %v", err)
	}
	if !got.Before(now) || got.Before(now.Add(-4*24*time.Hour)) {
		t.Errorf("relative: got %v, want about 3 days before %v", got, now)
	}

	if _, err := parseSince("xyzzy", now); err == nil {
		t.Error("expected error for unrecognized input")
	}
}
