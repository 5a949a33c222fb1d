// Package exposure classifies sound levels against health thresholds and
// aggregates readings into time-weighted exposure summaries.
package exposure

import (
	"fmt"
	"math"
)

// Zone is one of the fixed classification bands a dB value falls into.
type Zone string

// The six zones, ordered from quietest to loudest.
const (
	ZoneQuiet       Zone = "quiet"
	ZoneComfortable Zone = "comfortable"
	ZoneModerate    Zone = "moderate"
	ZoneLoud        Zone = "loud"
	ZoneDangerous   Zone = "dangerous"
	ZoneEmergency   Zone = "emergency"
)

// RiskLevel grades the health risk of a zone.
type RiskLevel string

// Risk levels, ordered by severity.
const (
	RiskMinimal  RiskLevel = "minimal"
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Classification is the deterministic health classification of a dB value.
type Classification struct {
	Zone               Zone      `json:"zone"`
	Category           string    `json:"category"`
	RiskLevel          RiskLevel `json:"risk_level"`
	Recommendation     string    `json:"recommendation"`
	ProtectionRequired bool      `json:"protection_required"`
}

// zoneBand is one half-open [Min,Max) interval of the zone table.
type zoneBand struct {
	Zone           Zone
	Min            float64
	Max            float64
	Category       string
	Risk           RiskLevel
	Recommendation string
	Protection     bool
}

// zoneTable is the closed set of zone definitions. The bands must
// partition [0,+Inf) with no gaps or overlaps; validated at startup.
var zoneTable = []zoneBand{
	{ZoneQuiet, 0, 40, "Quiet", RiskMinimal,
		"No action needed. Suitable for rest and concentration.", false},
	{ZoneComfortable, 40, 55, "Comfortable", RiskMinimal,
		"No action needed. Typical indoor environment.", false},
	{ZoneModerate, 55, 70, "Moderate", RiskLow,
		"Fine for daily activities. May disturb sleep or focused work.", false},
	{ZoneLoud, 70, 85, "Loud", RiskModerate,
		"Limit prolonged exposure. Hearing protection recommended for extended periods.", false},
	{ZoneDangerous, 85, 100, "Dangerous", RiskHigh,
		"Hearing protection required. Limit exposure time per occupational guidelines.", true},
	{ZoneEmergency, 100, math.Inf(1), "Emergency", RiskCritical,
		"Leave the area or use maximum hearing protection immediately.", true},
}

func init() {
	if err := validateZoneTable(zoneTable); err != nil {
		panic(fmt.Sprintf("exposure: malformed zone table: %v", err))
	}
}

// validateZoneTable checks the band list for contiguity and full coverage.
func validateZoneTable(bands []zoneBand) error {
	if len(bands) == 0 {
		return fmt.Errorf("empty table")
	}
	if bands[0].Min != 0 {
		return fmt.Errorf("first band starts at %v, want 0", bands[0].Min)
	}
	for i := range len(bands) - 1 {
		if bands[i].Max != bands[i+1].Min {
			return fmt.Errorf("gap between %s and %s: %v != %v",
				bands[i].Zone, bands[i+1].Zone, bands[i].Max, bands[i+1].Min)
		}
		if bands[i].Min >= bands[i].Max {
			return fmt.Errorf("band %s is empty or inverted", bands[i].Zone)
		}
	}
	if !math.IsInf(bands[len(bands)-1].Max, 1) {
		return fmt.Errorf("last band must be unbounded above")
	}
	return nil
}

// Zones returns the zone table bounds for consumers that render scales.
func Zones() []ZoneInfo {
	out := make([]ZoneInfo, len(zoneTable))
	for i, b := range zoneTable {
		out[i] = ZoneInfo{Zone: b.Zone, MinDB: b.Min, MaxDB: b.Max, Category: b.Category, RiskLevel: b.Risk}
	}
	return out
}

// ZoneInfo describes one zone band for external consumers.
type ZoneInfo struct {
	Zone      Zone      `json:"zone"`
	MinDB     float64   `json:"min_db"`
	MaxDB     float64   `json:"max_db"`
	Category  string    `json:"category"`
	RiskLevel RiskLevel `json:"risk_level"`
}
