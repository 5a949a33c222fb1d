// Package meter converts sample frames into calibrated, rate-bounded
// decibel readings.
package meter

import "math"

// RMS computes the root-mean-square amplitude of a frame.
// An empty or all-zero frame yields 0.
func RMS(frame []float64) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range frame {
		sumSquares += s * s
	}
	return math.Sqrt(sumSquares / float64(len(frame)))
}

// amplitudeToDB converts an RMS amplitude to an SPL approximation.
// The reference constant is empirical, not a traceable microphone
// sensitivity model. Zero amplitude yields -Inf, which callers clamp.
func amplitudeToDB(rms, splReference float64) float64 {
	return 20*math.Log10(rms) + splReference
}

// clamp bounds a dB value to the meter's displayable range.
// Non-finite negatives (silence) land on the floor.
func clamp(db, floor, ceiling float64) float64 {
	if math.IsNaN(db) {
		return floor
	}
	return math.Min(math.Max(db, floor), ceiling)
}
