// Package eventlog provides unified event logging for the meter.
// It captures session lifecycle, calibration and alert events in a
// single JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/soundwatch/noisemeter/internal/util"
)

// EventType represents the type of event.
type EventType string

// Session event types.
const (
	SessionStarted   EventType = "session_started"
	SessionFinalized EventType = "session_finalized"
	SessionFailed    EventType = "session_failed"
)

// Calibration and alert event types.
const (
	CalibrationSet EventType = "calibration_set"
	AlertStart     EventType = "alert_start"
	AlertEnd       EventType = "alert_end"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// SessionDetails contains session-specific event details.
type SessionDetails struct {
	TargetMs         int64   `json:"target_ms,omitempty"`
	ReadingCount     int     `json:"reading_count,omitempty"`
	TWADb            float64 `json:"twa_db,omitempty"`
	DoseFraction     float64 `json:"dose_fraction,omitempty"`
	InsufficientData bool    `json:"insufficient_data,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// CalibrationDetails contains calibration event details.
type CalibrationDetails struct {
	ReferenceDB float64 `json:"reference_db"`
	OffsetDB    float64 `json:"offset_db"`
}

// AlertDetails contains loudness alert event details.
type AlertDetails struct {
	LevelDB     float64 `json:"level_db"`
	ThresholdDB float64 `json:"threshold_db"`
	DurationMs  int64   `json:"duration_ms,omitempty"`
}

// Logger writes events to a JSON lines file. It is safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// NewLogger creates an event logger appending to the given path.
func NewLogger(filePath string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, util.WrapError("create log directory", err)
	}
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, util.WrapError("open log file", err)
	}
	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return l.encoder.Encode(event)
}

// LogSession logs a session lifecycle event.
func (l *Logger) LogSession(eventType EventType, details SessionDetails) error {
	return l.Log(&Event{Type: eventType, Details: &details})
}

// LogCalibration logs a calibration change.
func (l *Logger) LogCalibration(referenceDB, offsetDB float64) error {
	return l.Log(&Event{
		Type:    CalibrationSet,
		Details: &CalibrationDetails{ReferenceDB: referenceDB, OffsetDB: offsetDB},
	})
}

// LogAlert logs a loudness alert transition.
func (l *Logger) LogAlert(eventType EventType, levelDB, thresholdDB float64, durationMs int64) error {
	return l.Log(&Event{
		Type:    eventType,
		Details: &AlertDetails{LevelDB: levelDB, ThresholdDB: thresholdDB, DurationMs: durationMs},
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// MaxReadLimit caps how many events one read may return.
const MaxReadLimit = 500

// ReadLast reads up to n events from the log file starting at offset,
// newest first. Malformed lines are skipped. The second return reports
// whether more events remain beyond the requested page.
func ReadLast(filePath string, n, offset int) ([]Event, bool, error) {
	if n > MaxReadLimit {
		n = MaxReadLimit
	}
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer util.SafeClose(file, "event log")

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	hasMore := false
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) >= n {
			hasMore = true
			break
		}
		events = append(events, event)
	}
	return events, hasMore, nil
}
