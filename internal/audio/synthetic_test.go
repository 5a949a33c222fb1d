package audio

import (
	"context"
	"math"
	"testing"
)

func TestSyntheticSourceLifecycle(t *testing.T) {
	s := NewSyntheticSource(0.5, 440)

	if _, ok := s.Frame(); ok {
		t.Error("Frame before Start should report no data")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	frame, ok := s.Frame()
	if !ok {
		t.Fatal("Frame after Start should produce data")
	}
	if len(frame) != FrameSize {
		t.Fatalf("frame length = %d, want %d", len(frame), FrameSize)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := s.Frame(); ok {
		t.Error("Frame after Stop should report no data")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestSyntheticSourceAmplitude(t *testing.T) {
	s := NewSyntheticSource(0.5, 440)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = s.Stop() }()

	frame, _ := s.Frame()
	var peak float64
	for _, v := range frame {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak > 0.5+1e-9 {
		t.Errorf("peak %v exceeds configured amplitude 0.5", peak)
	}
	if peak < 0.45 {
		t.Errorf("peak %v too low for a 0.5 amplitude sine", peak)
	}

	s.SetAmplitude(0)
	frame, _ = s.Frame()
	for _, v := range frame {
		if v != 0 {
			t.Fatal("zero amplitude should produce digital silence")
		}
	}
}

func TestSyntheticSourcePhaseContinuity(t *testing.T) {
	s := NewSyntheticSource(1.0, 440)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = s.Stop() }()

	first, _ := s.Frame()
	second, _ := s.Frame()

	// The second frame must continue where the first left off: the jump
	// across the frame boundary stays within one sample step.
	step := 2 * math.Pi * 440 / SampleRate
	maxJump := math.Sin(step) + 1e-9
	jump := math.Abs(second[0] - first[len(first)-1])
	if jump > maxJump {
		t.Errorf("discontinuity %v across frames, want at most %v", jump, maxJump)
	}
}
