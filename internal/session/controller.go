// Package session drives bounded-duration measurement sessions from the
// level meter through the exposure aggregator.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/soundwatch/noisemeter/internal/exposure"
	"github.com/soundwatch/noisemeter/internal/meter"
	"github.com/soundwatch/noisemeter/internal/types"
)

// DefaultCadence is the target sampling cadence (~60Hz).
const DefaultCadence = time.Second / 60

// maxReadingSlack bounds the reading buffer beyond the nominal target so
// timer jitter cannot grow it without limit.
const maxReadingSlack = 256

// Sink receives the per-tick stream and the terminal summary. Consumers
// (render sinks, history storage, publishers) are pure downstream readers.
type Sink interface {
	// OnReading is called once per tick while the session runs.
	OnReading(r types.Reading, c exposure.Classification, heldPeakDB float64)
	// OnSummary is called exactly once when the session finalizes. The
	// readings slice is handed over; the controller no longer touches it.
	OnSummary(s exposure.Summary, readings []types.Reading)
}

// Controller runs one measurement session at a time against a LevelMeter.
// It is safe for concurrent use.
type Controller struct {
	meter   *meter.LevelMeter
	policy  DurationPolicy
	sink    Sink
	cadence time.Duration

	// startMu serializes the stop-acquire-run transition so concurrent
	// Start calls cannot each spawn a run loop.
	startMu sync.Mutex

	mu        sync.Mutex
	state     types.SessionState
	readings  []types.Reading
	startedAt time.Time
	target    time.Duration
	stopChan  chan struct{}
	doneChan  chan struct{}
	lastError string
	peakHold  *meter.PeakHold
}

// New returns an idle Controller. A zero cadence selects DefaultCadence.
func New(m *meter.LevelMeter, policy DurationPolicy, sink Sink, cadence time.Duration) *Controller {
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	return &Controller{
		meter:    m,
		policy:   policy,
		sink:     sink,
		cadence:  cadence,
		state:    types.StateIdle,
		peakHold: meter.NewPeakHold(m.Floor()),
	}
}

// Start begins a new measurement session. If a session is already running
// it is stopped first; the restart is documented behavior, not an error.
// Concurrent Start calls are serialized, so at most one run loop exists.
// Acquisition failures leave the controller idle and surface the audio
// package's distinct error kinds.
func (c *Controller) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.Stop()

	c.mu.Lock()
	c.state = types.StateAcquiring
	c.lastError = ""
	c.mu.Unlock()

	if err := c.meter.Initialize(ctx); err != nil {
		c.mu.Lock()
		c.state = types.StateIdle
		c.lastError = err.Error()
		c.mu.Unlock()
		return err
	}

	c.meter.StartMeasuring()

	target := DefaultDuration
	if c.policy != nil && c.policy.AllowExtendedDuration() {
		target = ExtendedDuration
	}

	capacity := int(target/c.cadence) + maxReadingSlack

	c.mu.Lock()
	c.state = types.StateRunning
	c.startedAt = time.Now()
	c.target = target
	c.readings = make([]types.Reading, 0, capacity)
	c.stopChan = make(chan struct{})
	c.doneChan = make(chan struct{})
	c.peakHold.Reset()
	stopChan, doneChan := c.stopChan, c.doneChan
	c.mu.Unlock()

	slog.Info("session started", "target", target, "cadence", c.cadence)
	go c.runLoop(ctx, stopChan, doneChan)
	return nil
}

// runLoop samples the meter on the configured cadence until the duration
// elapses or a stop is requested, then finalizes.
func (c *Controller) runLoop(ctx context.Context, stopChan <-chan struct{}, doneChan chan<- struct{}) {
	defer close(doneChan)

	ticker := time.NewTicker(c.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			c.finalize()
			return
		case <-ctx.Done():
			c.finalize()
			return
		case now := <-ticker.C:
			if c.tick(now) {
				c.finalize()
				return
			}
		}
	}
}

// tick takes one reading and reports whether the session duration elapsed.
func (c *Controller) tick(now time.Time) (elapsed bool) {
	level := c.meter.CurrentLevel()
	reading := types.Reading{ValueDB: level, TimestampMs: now.UnixMilli()}

	c.mu.Lock()
	// Single producer keeps timestamps monotonically non-decreasing.
	if len(c.readings) < cap(c.readings) {
		c.readings = append(c.readings, reading)
	}
	elapsed = now.Sub(c.startedAt) >= c.target
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.OnReading(reading, exposure.Classify(level), c.peakHold.Update(level, now))
	}
	return elapsed
}

// finalize stops the meter, aggregates the collected readings and hands
// the summary to the sink. The meter is always released, even if the
// sink panics partway through finalization.
func (c *Controller) finalize() {
	c.mu.Lock()
	c.state = types.StateFinalizing
	readings := c.readings
	c.readings = nil
	c.mu.Unlock()

	c.meter.StopMeasuring()

	// The microphone is released unconditionally: a panicking sink or a
	// failed aggregation must not leak audio access.
	defer func() {
		if err := c.meter.Teardown(); err != nil {
			slog.Warn("failed to release audio input", "error", err)
		}
		c.mu.Lock()
		c.state = types.StateIdle
		c.mu.Unlock()
	}()

	// Partial data still produces a summary; short sessions come back
	// flagged as insufficient data rather than being discarded.
	summary := exposure.Summarize(readings)

	slog.Info("session finalized",
		"readings", len(readings),
		"twa_db", summary.TWADb,
		"insufficient_data", summary.InsufficientData)

	if c.sink != nil {
		c.sink.OnSummary(summary, readings)
	}
}

// Stop requests the running session to finalize and waits for it. It
// reports whether a running session was actually stopped; calling Stop
// twice, or on an idle controller, is a no-op returning false.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	if c.state != types.StateRunning || c.stopChan == nil {
		c.mu.Unlock()
		return false
	}
	stopChan, doneChan := c.stopChan, c.doneChan
	c.stopChan = nil
	c.mu.Unlock()

	close(stopChan)
	<-doneChan
	return true
}

// Status returns a snapshot of the session state.
func (c *Controller) Status() types.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := types.SessionStatus{
		State:         c.state,
		TargetMs:      c.target.Milliseconds(),
		ReadingCount:  len(c.readings),
		DegradedCount: c.meter.DegradedCount(),
		LastError:     c.lastError,
	}
	if c.state == types.StateRunning {
		status.ElapsedMs = time.Since(c.startedAt).Milliseconds()
	}
	return status
}

// Close stops any running session and releases the audio resource. It
// takes the start lock so an in-flight Start cannot spawn a run loop
// after shutdown began.
func (c *Controller) Close() error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.Stop()
	return c.meter.Teardown()
}
