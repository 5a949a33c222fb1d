// Package audio provides microphone capture and sample frame access.
package audio

import (
	"context"
	"errors"
)

const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 48000
	// FrameSize is the number of samples in one analysis frame.
	// Fixed at construction, analogous to an FFT window.
	FrameSize = 2048
)

// Sentinel errors for audio input acquisition. Both are resource
// failures, kept distinct so callers can show actionable guidance.
var (
	// ErrPermissionDenied is returned when the platform denies microphone access.
	ErrPermissionDenied = errors.New("microphone access denied")
	// ErrNoDevice is returned when no compatible audio input device exists.
	ErrNoDevice = errors.New("no audio input device found")
)

// Source supplies fixed-size amplitude frames on demand.
//
// Frame is a synchronous, non-blocking poll of the most recent buffer
// state. It never waits for new audio to arrive.
type Source interface {
	// Start acquires the audio input resource.
	Start(ctx context.Context) error
	// Frame returns a copy of the latest frame with samples normalized
	// to [-1,1], and whether a frame has been captured yet.
	Frame() ([]float64, bool)
	// Stop releases the audio input resource. Safe to call repeatedly
	// and on a never-started source.
	Stop() error
}

// Device represents an available audio input device.
type Device struct {
	// ID is the device identifier passed to the capture command.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
}
