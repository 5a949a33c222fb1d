// Package types provides shared type definitions used across the meter.
package types

import "time"

// SessionState represents the lifecycle state of a measurement session.
type SessionState string

const (
	// StateIdle indicates no session is active.
	StateIdle SessionState = "idle"
	// StateAcquiring indicates the audio input is being acquired.
	StateAcquiring SessionState = "acquiring"
	// StateRunning indicates readings are being collected.
	StateRunning SessionState = "running"
	// StateFinalizing indicates the session is producing its summary.
	StateFinalizing SessionState = "finalizing"
)

const (
	// InitialRetryDelay is the starting delay between capture restart attempts.
	InitialRetryDelay = 3000 * time.Millisecond
	// MaxRetryDelay is the maximum delay between capture restart attempts.
	MaxRetryDelay = 60000 * time.Millisecond
)

// Reading is one instantaneous calibrated measurement.
type Reading struct {
	// ValueDB is the calibrated sound level in dB.
	ValueDB float64 `json:"value_db"`
	// TimestampMs is the measurement time in Unix milliseconds.
	TimestampMs int64 `json:"timestamp_ms"`
}

// Timestamp returns the reading time as a time.Time.
func (r Reading) Timestamp() time.Time {
	return time.UnixMilli(r.TimestampMs)
}

// SessionStatus contains runtime status for the active session.
type SessionStatus struct {
	State         SessionState `json:"state"`
	ElapsedMs     int64        `json:"elapsed_ms"`
	TargetMs      int64        `json:"target_ms"`
	ReadingCount  int          `json:"reading_count"`
	DegradedCount int          `json:"degraded_count,omitzero"`
	LastError     string       `json:"last_error,omitzero"`
}
