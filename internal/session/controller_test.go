package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soundwatch/noisemeter/internal/audio"
	"github.com/soundwatch/noisemeter/internal/exposure"
	"github.com/soundwatch/noisemeter/internal/meter"
	"github.com/soundwatch/noisemeter/internal/types"
)

// recordingSink captures everything the controller delivers.
type recordingSink struct {
	mu        sync.Mutex
	readings  []types.Reading
	summaries []exposure.Summary
	handed    [][]types.Reading
}

func (s *recordingSink) OnReading(r types.Reading, _ exposure.Classification, _ float64) {
	s.mu.Lock()
	s.readings = append(s.readings, r)
	s.mu.Unlock()
}

func (s *recordingSink) OnSummary(sum exposure.Summary, readings []types.Reading) {
	s.mu.Lock()
	s.summaries = append(s.summaries, sum)
	s.handed = append(s.handed, readings)
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() (int, []exposure.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings), append([]exposure.Summary(nil), s.summaries...)
}

// failingSource refuses to start, standing in for a denied microphone.
type failingSource struct{ err error }

func (f failingSource) Start(context.Context) error { return f.err }
func (f failingSource) Frame() ([]float64, bool)    { return nil, false }
func (f failingSource) Stop() error                 { return nil }

// gatedSource blocks acquisition until the gate opens, so tests can
// hold several callers inside the acquiring phase at once.
type gatedSource struct {
	inner *audio.SyntheticSource
	gate  chan struct{}
}

func (g *gatedSource) Start(ctx context.Context) error {
	<-g.gate
	return g.inner.Start(ctx)
}
func (g *gatedSource) Frame() ([]float64, bool) { return g.inner.Frame() }
func (g *gatedSource) Stop() error              { return g.inner.Stop() }

func newTestController(sink Sink, policy DurationPolicy) (*Controller, *meter.LevelMeter) {
	m := meter.New(audio.NewSyntheticSource(0.1, 440), meter.Options{MinInterval: time.Nanosecond})
	return New(m, policy, sink, time.Millisecond), m
}

func TestSessionLifecycle(t *testing.T) {
	sink := &recordingSink{}
	ctrl, m := newTestController(sink, StaticPolicy{})

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := ctrl.Status()
	if status.State != types.StateRunning {
		t.Fatalf("state = %s, want running", status.State)
	}
	if status.TargetMs != DefaultDuration.Milliseconds() {
		t.Errorf("target = %d ms, want %d", status.TargetMs, DefaultDuration.Milliseconds())
	}

	// Let a few ticks land, then finalize.
	time.Sleep(20 * time.Millisecond)
	ctrl.Stop()

	readings, summaries := sink.snapshot()
	if readings == 0 {
		t.Error("sink received no readings")
	}
	if len(summaries) != 1 {
		t.Fatalf("sink received %d summaries, want exactly 1", len(summaries))
	}
	if len(sink.handed) != 1 || len(sink.handed[0]) == 0 {
		t.Error("finalize did not hand the collected readings to the sink")
	}
	if ctrl.Status().State != types.StateIdle {
		t.Errorf("state after Stop = %s, want idle", ctrl.Status().State)
	}
	if m.IsMeasuring() {
		t.Error("meter still measuring after Stop")
	}
}

func TestSummaryBoundedByObservedLevels(t *testing.T) {
	sink := &recordingSink{}
	ctrl, _ := newTestController(sink, StaticPolicy{})

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	ctrl.Stop()

	_, summaries := sink.snapshot()
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(summaries))
	}
	s := summaries[0]
	if s.InsufficientData {
		return // timing was too tight for two spaced readings; nothing more to assert
	}
	if s.TWADb < s.MinDb-0.001 || s.TWADb > s.PeakDb+0.001 {
		t.Errorf("TWA %v outside observed range [%v, %v]", s.TWADb, s.MinDb, s.PeakDb)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	ctrl, _ := newTestController(sink, StaticPolicy{})

	ctrl.Stop() // idle stop is a no-op

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	ctrl.Stop()
	ctrl.Stop()

	_, summaries := sink.snapshot()
	if len(summaries) != 1 {
		t.Errorf("double Stop produced %d summaries, want 1", len(summaries))
	}
}

func TestStartWhileRunningRestarts(t *testing.T) {
	sink := &recordingSink{}
	ctrl, _ := newTestController(sink, StaticPolicy{})

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if ctrl.Status().State != types.StateRunning {
		t.Errorf("state = %s, want running after restart", ctrl.Status().State)
	}
	ctrl.Stop()

	_, summaries := sink.snapshot()
	// One summary from the implicit stop, one from the explicit.
	if len(summaries) != 2 {
		t.Errorf("got %d summaries, want 2", len(summaries))
	}
}

func TestConcurrentStartsLeaveSingleRunLoop(t *testing.T) {
	sink := &recordingSink{}
	source := &gatedSource{inner: audio.NewSyntheticSource(0.1, 440), gate: make(chan struct{})}
	m := meter.New(source, meter.Options{MinInterval: time.Nanosecond})
	ctrl := New(m, StaticPolicy{}, sink, time.Millisecond)

	// Hold both Start calls inside acquisition, then release them together.
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ctrl.Start(context.Background()); err != nil {
				t.Errorf("Start: %v", err)
			}
		}()
	}
	time.Sleep(5 * time.Millisecond)
	close(source.gate)
	wg.Wait()

	time.Sleep(10 * time.Millisecond)
	ctrl.Stop()
	if got := ctrl.Status().State; got != types.StateIdle {
		t.Fatalf("state after Stop = %s, want idle", got)
	}

	// With a single surviving run loop, no readings arrive once the
	// session is idle. An orphaned loop from the losing Start would
	// keep feeding the sink here.
	before, _ := sink.snapshot()
	time.Sleep(50 * time.Millisecond)
	after, _ := sink.snapshot()
	if after != before {
		t.Errorf("sink received %d readings after Stop returned idle", after-before)
	}
}

func TestStopReportsWhetherSessionStopped(t *testing.T) {
	sink := &recordingSink{}
	ctrl, _ := newTestController(sink, StaticPolicy{})

	if ctrl.Stop() {
		t.Error("Stop on idle controller reported a stopped session")
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if !ctrl.Stop() {
		t.Error("Stop on running controller reported nothing stopped")
	}
	if ctrl.Stop() {
		t.Error("second Stop reported a stopped session")
	}
}

func TestExtendedPolicySelectsLongTarget(t *testing.T) {
	sink := &recordingSink{}
	ctrl, _ := newTestController(sink, StaticPolicy{Extended: true})

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctrl.Stop()

	if got := ctrl.Status().TargetMs; got != ExtendedDuration.Milliseconds() {
		t.Errorf("target = %d ms, want %d", got, ExtendedDuration.Milliseconds())
	}
}

func TestAcquisitionFailureLeavesIdle(t *testing.T) {
	sink := &recordingSink{}
	m := meter.New(failingSource{err: audio.ErrPermissionDenied}, meter.Options{})
	ctrl := New(m, StaticPolicy{}, sink, time.Millisecond)

	err := ctrl.Start(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Start err = %v, want ErrPermissionDenied", err)
	}

	status := ctrl.Status()
	if status.State != types.StateIdle {
		t.Errorf("state = %s, want idle", status.State)
	}
	if status.LastError == "" {
		t.Error("LastError not recorded")
	}

	_, summaries := sink.snapshot()
	if len(summaries) != 0 {
		t.Errorf("failed acquisition produced %d summaries, want 0", len(summaries))
	}
}

func TestContextCancellationFinalizes(t *testing.T) {
	sink := &recordingSink{}
	ctrl, m := newTestController(sink, StaticPolicy{})

	ctx, cancel := context.WithCancel(context.Background())
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	cancel()

	// The run loop notices the cancellation on its next tick.
	deadline := time.Now().Add(time.Second)
	for ctrl.Status().State != types.StateIdle {
		if time.Now().After(deadline) {
			t.Fatal("controller did not return to idle after cancellation")
		}
		time.Sleep(time.Millisecond)
	}

	if m.IsMeasuring() {
		t.Error("meter still measuring after cancellation")
	}
	_, summaries := sink.snapshot()
	if len(summaries) != 1 {
		t.Errorf("got %d summaries, want 1", len(summaries))
	}
}

func TestCloseReleasesMeter(t *testing.T) {
	sink := &recordingSink{}
	ctrl, m := newTestController(sink, StaticPolicy{})

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ctrl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if m.IsMeasuring() {
		t.Error("meter still measuring after Close")
	}
}
