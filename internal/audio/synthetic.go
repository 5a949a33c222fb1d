package audio

import (
	"context"
	"math"
	"sync"
)

// SyntheticSource generates sine frames without touching audio hardware.
// Used by demo mode and tests. It is safe for concurrent use.
type SyntheticSource struct {
	mu        sync.Mutex
	amplitude float64
	frequency float64
	phase     float64
	started   bool
}

// NewSyntheticSource returns a source producing a sine wave with the given
// peak amplitude in [0,1]. Amplitude 0 produces digital silence.
func NewSyntheticSource(amplitude, frequency float64) *SyntheticSource {
	return &SyntheticSource{amplitude: amplitude, frequency: frequency}
}

// SetAmplitude changes the generated peak amplitude.
func (s *SyntheticSource) SetAmplitude(a float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.amplitude = a
}

// Start marks the source as acquired. Never fails.
func (s *SyntheticSource) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

// Frame generates the next sine frame, continuing the phase across calls.
func (s *SyntheticSource) Frame() ([]float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil, false
	}

	frame := make([]float64, FrameSize)
	step := 2 * math.Pi * s.frequency / SampleRate
	for i := range frame {
		frame[i] = s.amplitude * math.Sin(s.phase)
		s.phase += step
	}
	s.phase = math.Mod(s.phase, 2*math.Pi)
	return frame, true
}

// Stop marks the source as released. Safe to call repeatedly.
func (s *SyntheticSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}
