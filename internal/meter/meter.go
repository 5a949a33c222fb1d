package meter

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/soundwatch/noisemeter/internal/audio"
)

// Defaults for the level meter. The SPL reference is a tunable
// approximation constant, not a calibrated value.
const (
	DefaultSPLReference = 94.0
	DefaultFloorDB      = 20.0
	DefaultCeilingDB    = 140.0
	// DefaultMinInterval is the minimum time between recomputations,
	// bounding the meter at ~60 readings per second.
	DefaultMinInterval = time.Second / 60
)

// ErrNotMeasuring is returned when an operation requires an active
// measurement but none is running.
var ErrNotMeasuring = errors.New("no active measurement")

// Options configures a LevelMeter. Zero values select the defaults.
type Options struct {
	SPLReference   float64
	FloorDB        float64
	CeilingDB      float64
	MinInterval    time.Duration
	BaselineOffset float64 // persisted calibration offset loaded at startup
}

// LevelMeter produces calibrated dB readings from an audio source at a
// bounded rate. It is safe for concurrent use.
type LevelMeter struct {
	source audio.Source

	splReference float64
	floor        float64
	ceiling      float64
	minInterval  time.Duration

	mu          sync.Mutex
	baseline    float64 // persisted calibration offset
	sessionDiff float64 // calibration delta from Calibrate, replaced per call
	measuring   bool
	initialized bool
	lastValue   float64
	lastUpdate  time.Time
	degraded    int
}

// New returns a LevelMeter reading from the given source.
func New(source audio.Source, opts Options) *LevelMeter {
	if opts.SPLReference == 0 {
		opts.SPLReference = DefaultSPLReference
	}
	if opts.FloorDB == 0 {
		opts.FloorDB = DefaultFloorDB
	}
	if opts.CeilingDB == 0 {
		opts.CeilingDB = DefaultCeilingDB
	}
	if opts.MinInterval == 0 {
		opts.MinInterval = DefaultMinInterval
	}
	return &LevelMeter{
		source:       source,
		splReference: opts.SPLReference,
		floor:        opts.FloorDB,
		ceiling:      opts.CeilingDB,
		minInterval:  opts.MinInterval,
		baseline:     opts.BaselineOffset,
	}
}

// Initialize acquires the audio input resource. Permission denial and
// missing devices surface as the audio package's distinct sentinel errors.
func (m *LevelMeter) Initialize(ctx context.Context) error {
	if err := m.source.Start(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

// StartMeasuring begins servicing reads. Starting while already measuring
// restarts the measurement rather than failing.
func (m *LevelMeter) StartMeasuring() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.measuring {
		// Idempotent restart: drop the gate state and session delta.
		m.sessionDiff = 0
	}
	m.measuring = true
	m.lastValue = m.floor
	m.lastUpdate = time.Time{}
	m.degraded = 0
}

// StopMeasuring stops servicing reads. Safe to call repeatedly.
func (m *LevelMeter) StopMeasuring() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.measuring = false
}

// IsMeasuring reports whether reads are being serviced.
func (m *LevelMeter) IsMeasuring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.measuring
}

// CurrentLevel returns the calibrated dB level. Calls arriving before the
// minimum update interval has elapsed return the cached value; only after
// the gate elapses is a fresh frame sampled and recomputed. A bad frame
// never propagates an error: it degrades to the floor and is counted.
func (m *LevelMeter) CurrentLevel() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.measuring {
		return m.floor
	}
	if !m.lastUpdate.IsZero() && time.Since(m.lastUpdate) < m.minInterval {
		return m.lastValue
	}

	m.lastValue = m.computeLocked(true)
	m.lastUpdate = time.Now()
	return m.lastValue
}

// computeLocked samples one frame and converts it to a calibrated dB value.
// Callers must hold mu.
func (m *LevelMeter) computeLocked(applyOffset bool) float64 {
	db, ok := m.rawLevelLocked()
	if !ok {
		return m.floor
	}
	if applyOffset {
		db += m.baseline + m.sessionDiff
	}
	if math.IsNaN(db) || math.IsInf(db, 1) {
		m.degraded++
		return m.floor
	}
	// -Inf (all-zero frame) clamps to the floor, by definition of clamp.
	return clamp(db, m.floor, m.ceiling)
}

// rawLevelLocked returns the unclamped, uncalibrated dB value for the
// current frame. Callers must hold mu.
func (m *LevelMeter) rawLevelLocked() (float64, bool) {
	frame, ok := m.source.Frame()
	if !ok {
		return 0, false
	}
	return amplitudeToDB(RMS(frame), m.splReference), true
}

// Calibrate adjusts the calibration so the next reading of the currently
// playing reference signal equals referenceDB. The computed delta replaces
// any prior session delta and composes with the persisted baseline. It
// returns the combined offset for the caller to persist.
func (m *LevelMeter) Calibrate(referenceDB float64) (offset float64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.measuring {
		return 0, ErrNotMeasuring
	}

	raw, ok := m.rawLevelLocked()
	if !ok || math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, errors.New("no usable signal for calibration")
	}
	m.sessionDiff = referenceDB - (raw + m.baseline)
	// Invalidate the gate so the next read reflects the new offset.
	m.lastUpdate = time.Time{}
	return m.baseline + m.sessionDiff, nil
}

// Offset returns the combined calibration offset currently applied.
func (m *LevelMeter) Offset() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseline + m.sessionDiff
}

// DegradedCount returns how many readings were degraded to the floor
// because of per-frame numeric failures since measurement started.
func (m *LevelMeter) DegradedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

// Floor returns the configured minimum displayable level.
func (m *LevelMeter) Floor() float64 {
	return m.floor
}

// Teardown releases the audio resource. Safe to call multiple times and
// on a never-initialized meter.
func (m *LevelMeter) Teardown() error {
	m.mu.Lock()
	m.measuring = false
	initialized := m.initialized
	m.initialized = false
	m.mu.Unlock()

	if !initialized {
		return nil
	}
	return m.source.Stop()
}
