package meter

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/soundwatch/noisemeter/internal/audio"
)

// sineDB is the expected level for a sine of the given peak amplitude
// before calibration: RMS of a sine is amplitude/sqrt(2).
func sineDB(amplitude, splReference float64) float64 {
	return 20*math.Log10(amplitude/math.Sqrt2) + splReference
}

func startedMeter(t *testing.T, source audio.Source, opts Options) *LevelMeter {
	t.Helper()
	m := New(source, opts)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	m.StartMeasuring()
	t.Cleanup(func() {
		if err := m.Teardown(); err != nil {
			t.Errorf("Teardown: %v", err)
		}
	})
	return m
}

func TestCurrentLevelKnownSignal(t *testing.T) {
	source := audio.NewSyntheticSource(0.5, 440)
	m := startedMeter(t, source, Options{})

	want := sineDB(0.5, DefaultSPLReference)
	got := m.CurrentLevel()
	// The frame holds a non-integral number of cycles, so allow a small
	// windowing error.
	if math.Abs(got-want) > 0.5 {
		t.Errorf("CurrentLevel = %v, want about %v", got, want)
	}
}

func TestCurrentLevelSilenceClampsToFloor(t *testing.T) {
	source := audio.NewSyntheticSource(0, 440)
	m := startedMeter(t, source, Options{})

	if got := m.CurrentLevel(); got != DefaultFloorDB {
		t.Errorf("silent input: CurrentLevel = %v, want floor %v", got, DefaultFloorDB)
	}
}

func TestCurrentLevelNotMeasuring(t *testing.T) {
	m := New(audio.NewSyntheticSource(0.5, 440), Options{})
	if got := m.CurrentLevel(); got != DefaultFloorDB {
		t.Errorf("idle meter: CurrentLevel = %v, want floor %v", got, DefaultFloorDB)
	}
}

func TestCurrentLevelRateGate(t *testing.T) {
	source := audio.NewSyntheticSource(0.5, 440)
	// A huge interval makes the gate observable without sleeping.
	m := startedMeter(t, source, Options{MinInterval: time.Hour})

	first := m.CurrentLevel()
	source.SetAmplitude(0.01)
	second := m.CurrentLevel()
	if first != second {
		t.Errorf("gated read recomputed: %v != %v", first, second)
	}
}

func TestCalibrate(t *testing.T) {
	source := audio.NewSyntheticSource(0.5, 440)
	m := startedMeter(t, source, Options{MinInterval: time.Nanosecond})

	offset, err := m.Calibrate(94.0)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if got := m.Offset(); got != offset {
		t.Errorf("Offset = %v, want %v", got, offset)
	}

	// The next reading of the same signal should land on the reference.
	time.Sleep(time.Millisecond)
	if got := m.CurrentLevel(); math.Abs(got-94.0) > 0.5 {
		t.Errorf("calibrated level = %v, want about 94", got)
	}
}

func TestCalibrateReplacesSessionDelta(t *testing.T) {
	source := audio.NewSyntheticSource(0.5, 440)
	m := startedMeter(t, source, Options{})

	first, err := m.Calibrate(100)
	if err != nil {
		t.Fatalf("first Calibrate: %v", err)
	}
	second, err := m.Calibrate(90)
	if err != nil {
		t.Fatalf("second Calibrate: %v", err)
	}
	// Offsets replace rather than accumulate: calibrating the same
	// signal to a target 10 dB lower moves the offset by 10, give or
	// take the per-frame windowing error.
	if math.Abs((first-second)-10) > 0.2 {
		t.Errorf("offset delta = %v, want 10", first-second)
	}
}

func TestCalibrateComposesWithBaseline(t *testing.T) {
	source := audio.NewSyntheticSource(0.5, 440)
	m := startedMeter(t, source, Options{BaselineOffset: 5})

	if got := m.Offset(); got != 5 {
		t.Errorf("initial Offset = %v, want baseline 5", got)
	}

	offset, err := m.Calibrate(94)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	raw := sineDB(0.5, DefaultSPLReference)
	if math.Abs(offset-(94-raw)) > 0.5 {
		t.Errorf("combined offset = %v, want about %v", offset, 94-raw)
	}
}

func TestCalibrateRequiresMeasurement(t *testing.T) {
	m := New(audio.NewSyntheticSource(0.5, 440), Options{})
	if _, err := m.Calibrate(94); err != ErrNotMeasuring {
		t.Errorf("Calibrate on idle meter: err = %v, want ErrNotMeasuring", err)
	}
}

func TestCalibrateRejectsSilence(t *testing.T) {
	source := audio.NewSyntheticSource(0, 440)
	m := startedMeter(t, source, Options{})
	if _, err := m.Calibrate(94); err == nil {
		t.Error("Calibrate on silence should fail; -Inf yields no usable offset")
	}
}

func TestQuietInputClampsToFloor(t *testing.T) {
	// An amplitude this small converts far below the floor.
	source := audio.NewSyntheticSource(1e-6, 440)
	m := startedMeter(t, source, Options{})
	if got := m.CurrentLevel(); got != DefaultFloorDB {
		t.Errorf("CurrentLevel = %v, want floor %v", got, DefaultFloorDB)
	}
}

func TestLoudInputClampsToCeiling(t *testing.T) {
	source := audio.NewSyntheticSource(0.5, 440)
	m := startedMeter(t, source, Options{CeilingDB: 60})
	if got := m.CurrentLevel(); got != 60 {
		t.Errorf("CurrentLevel = %v, want ceiling 60", got)
	}
}

func TestStartMeasuringRestartDropsSessionDelta(t *testing.T) {
	source := audio.NewSyntheticSource(0.5, 440)
	m := startedMeter(t, source, Options{BaselineOffset: 3})

	if _, err := m.Calibrate(100); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	m.StartMeasuring()
	if got := m.Offset(); got != 3 {
		t.Errorf("Offset after restart = %v, want baseline 3", got)
	}
}

func TestTeardownIdempotent(t *testing.T) {
	m := New(audio.NewSyntheticSource(0.5, 440), Options{})
	if err := m.Teardown(); err != nil {
		t.Errorf("Teardown on fresh meter: %v", err)
	}

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	m.StartMeasuring()
	if err := m.Teardown(); err != nil {
		t.Errorf("Teardown: %v", err)
	}
	if m.IsMeasuring() {
		t.Error("meter still measuring after Teardown")
	}
	if err := m.Teardown(); err != nil {
		t.Errorf("second Teardown: %v", err)
	}
}

func TestPeakHold(t *testing.T) {
	p := NewPeakHold(20)
	now := time.Now()

	if got := p.Update(70, now); got != 70 {
		t.Errorf("peak = %v, want 70", got)
	}
	// A quieter reading inside the hold window keeps the peak.
	if got := p.Update(50, now.Add(time.Second)); got != 70 {
		t.Errorf("peak = %v, want held 70", got)
	}
	// A louder reading always takes over.
	if got := p.Update(80, now.Add(2*time.Second)); got != 80 {
		t.Errorf("peak = %v, want 80", got)
	}
	// After the hold duration the peak decays to the current level.
	if got := p.Update(40, now.Add(2*time.Second+DefaultPeakHoldDuration+time.Millisecond)); got != 40 {
		t.Errorf("peak = %v, want decayed 40", got)
	}

	p.Reset()
	if got := p.Update(10, now.Add(10*time.Second)); got != 10 {
		t.Errorf("peak after reset = %v, want 10", got)
	}
}
