// Package notify tracks sustained dangerous sound levels and delivers
// alert notifications.
package notify

import (
	"sync"
	"time"
)

// AlarmConfig holds the configurable thresholds for loudness alerts.
type AlarmConfig struct {
	ThresholdDB float64 // dB level at or above which audio counts as dangerous
	TriggerMs   int64   // milliseconds above threshold before triggering
	RecoveryMs  int64   // milliseconds below threshold before recovery
}

// AlarmEvent represents the result of a loudness alarm update.
type AlarmEvent struct {
	// Active reports whether the alarm is in confirmed alert state.
	Active bool
	// DurationMs is the current alert duration in ms (0 if not alerting).
	DurationMs int64
	// LevelDB is the level that produced this update.
	LevelDB float64

	// JustTriggered is true on the update when the alert is first confirmed.
	JustTriggered bool
	// JustRecovered is true on the update when recovery completes.
	JustRecovered bool
	// TotalDurationMs is the full alert duration (set when JustRecovered).
	TotalDurationMs int64
}

// Alarm tracks sustained loudness above a threshold with hysteresis so a
// single loud tick does not fire a notification. It is safe for
// concurrent use.
type Alarm struct {
	mu            sync.Mutex
	loudStart     time.Time // when the current loud period started
	recoveryStart time.Time // when levels dropped after an alert
	active        bool
	alertDuration int64
}

// NewAlarm creates a loudness alarm.
func NewAlarm() *Alarm {
	return &Alarm{}
}

// Update feeds a new level and returns the current alarm state.
func (a *Alarm) Update(levelDB float64, cfg AlarmConfig, now time.Time) AlarmEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	event := AlarmEvent{LevelDB: levelDB}
	loud := levelDB >= cfg.ThresholdDB

	if loud {
		a.recoveryStart = time.Time{}
		if a.loudStart.IsZero() {
			a.loudStart = now
		}
		durationMs := now.Sub(a.loudStart).Milliseconds()
		a.alertDuration = durationMs

		if a.active {
			event.Active = true
			event.DurationMs = durationMs
		} else if durationMs >= cfg.TriggerMs {
			a.active = true
			event.Active = true
			event.DurationMs = durationMs
			event.JustTriggered = true
		}
		return event
	}

	if !a.active {
		a.loudStart = time.Time{}
		return event
	}

	// Alert is active but the level dropped; wait out the recovery window
	// before clearing so brief dips do not end the alert.
	if a.recoveryStart.IsZero() {
		a.recoveryStart = now
	}
	if now.Sub(a.recoveryStart).Milliseconds() >= cfg.RecoveryMs {
		event.JustRecovered = true
		event.TotalDurationMs = a.alertDuration
		a.active = false
		a.alertDuration = 0
		a.loudStart = time.Time{}
		a.recoveryStart = time.Time{}
	} else {
		event.Active = true
	}
	return event
}

// Reset clears the alarm state.
func (a *Alarm) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loudStart = time.Time{}
	a.recoveryStart = time.Time{}
	a.active = false
	a.alertDuration = 0
}
