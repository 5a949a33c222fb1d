package meter

import (
	"sync"
	"time"
)

// DefaultPeakHoldDuration is how long a peak is held before it decays.
const DefaultPeakHoldDuration = 3000 * time.Millisecond

// PeakHold tracks the held peak level for gauge display.
// It is safe for concurrent use.
type PeakHold struct {
	mu           sync.Mutex
	held         float64
	heldAt       time.Time
	floor        float64
	holdDuration time.Duration
}

// NewPeakHold returns a PeakHold initialized to the given floor level.
func NewPeakHold(floor float64) *PeakHold {
	return &PeakHold{
		held:         floor,
		floor:        floor,
		holdDuration: DefaultPeakHoldDuration,
	}
}

// Update feeds a new level and returns the currently held peak.
func (p *PeakHold) Update(level float64, now time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if level >= p.held || now.Sub(p.heldAt) > p.holdDuration {
		p.held = level
		p.heldAt = now
	}
	return p.held
}

// Reset clears the held peak back to the floor.
func (p *PeakHold) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = p.floor
	p.heldAt = time.Time{}
}
