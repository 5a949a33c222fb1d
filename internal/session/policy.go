package session

import "time"

// Session duration targets.
const (
	// DefaultDuration is the measurement length for standard sessions.
	DefaultDuration = 30 * time.Second
	// ExtendedDuration is the measurement length when the policy allows it.
	ExtendedDuration = 300 * time.Second
)

// DurationPolicy decides whether extended sessions are available. The
// measurement core consults it as an injected capability so it stays
// testable without simulating any entitlement infrastructure.
type DurationPolicy interface {
	AllowExtendedDuration() bool
}

// StaticPolicy is a DurationPolicy with a fixed answer.
type StaticPolicy struct {
	Extended bool
}

// AllowExtendedDuration implements DurationPolicy.
func (p StaticPolicy) AllowExtendedDuration() bool {
	return p.Extended
}
