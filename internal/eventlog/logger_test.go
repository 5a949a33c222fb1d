package eventlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := NewLogger(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	t.Cleanup(func() {
		if err := l.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return l
}

func TestLogAndReadBack(t *testing.T) {
	l := newTestLogger(t)

	if err := l.LogSession(SessionStarted, SessionDetails{TargetMs: 30000}); err != nil {
		t.Fatalf("LogSession: %v", err)
	}
	if err := l.LogCalibration(94, -2.5); err != nil {
		t.Fatalf("LogCalibration: %v", err)
	}
	if err := l.LogAlert(AlertStart, 92, 85, 0); err != nil {
		t.Fatalf("LogAlert: %v", err)
	}

	events, hasMore, err := ReadLast(l.Path(), 10, 0)
	if err != nil {
		t.Fatalf("ReadLast: %v", err)
	}
	if hasMore {
		t.Error("hasMore should be false with all events returned")
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	// Newest first.
	if events[0].Type != AlertStart || events[2].Type != SessionStarted {
		t.Errorf("unexpected order: %s ... %s", events[0].Type, events[2].Type)
	}
	for _, e := range events {
		if e.Timestamp.IsZero() {
			t.Error("event written without timestamp")
		}
	}
}

func TestReadLastPagination(t *testing.T) {
	l := newTestLogger(t)
	for range 5 {
		if err := l.LogSession(SessionFinalized, SessionDetails{ReadingCount: 10}); err != nil {
			t.Fatalf("LogSession: %v", err)
		}
	}

	events, hasMore, err := ReadLast(l.Path(), 2, 0)
	if err != nil {
		t.Fatalf("ReadLast: %v", err)
	}
	if len(events) != 2 || !hasMore {
		t.Errorf("page 1: got %d events hasMore=%v, want 2 events with more", len(events), hasMore)
	}

	events, hasMore, err = ReadLast(l.Path(), 2, 4)
	if err != nil {
		t.Fatalf("ReadLast: %v", err)
	}
	if len(events) != 1 || hasMore {
		t.Errorf("last page: got %d events hasMore=%v, want 1 event and no more", len(events), hasMore)
	}
}

func TestReadLastMissingFile(t *testing.T) {
	events, hasMore, err := ReadLast(filepath.Join(t.TempDir(), "absent.jsonl"), 10, 0)
	if err != nil {
		t.Fatalf("ReadLast on missing file: %v", err)
	}
	if len(events) != 0 || hasMore {
		t.Errorf("missing file: got %d events hasMore=%v, want none", len(events), hasMore)
	}
}

func TestReadLastSkipsMalformedLines(t *testing.T) {
	l := newTestLogger(t)
	if err := l.LogSession(SessionStarted, SessionDetails{}); err != nil {
		t.Fatalf("LogSession: %v", err)
	}

	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString("{not json\n"); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	events, _, err := ReadLast(l.Path(), 10, 0)
	if err != nil {
		t.Fatalf("ReadLast: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("got %d events, want malformed line skipped", len(events))
	}
}

func TestEventDetailsSerialization(t *testing.T) {
	l := newTestLogger(t)
	if err := l.LogCalibration(94, -2.5); err != nil {
		t.Fatalf("LogCalibration: %v", err)
	}

	events, _, err := ReadLast(l.Path(), 1, 0)
	if err != nil {
		t.Fatalf("ReadLast: %v", err)
	}
	raw, err := json.Marshal(events[0].Details)
	if err != nil {
		t.Fatalf("marshal details: %v", err)
	}
	var details CalibrationDetails
	if err := json.Unmarshal(raw, &details); err != nil {
		t.Fatalf("unmarshal details: %v", err)
	}
	if details.ReferenceDB != 94 || details.OffsetDB != -2.5 {
		t.Errorf("details = %+v, want reference 94 offset -2.5", details)
	}
}
