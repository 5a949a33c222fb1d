package exposure

import "math"

// Classify maps a dB value to its health classification. The function is
// total: every finite value and +Inf yield exactly one classification.
// Values below the table clamp to the quiet zone, values at or above the
// top boundary clamp to the emergency zone. NaN is treated as silence
// and clamps to quiet.
func Classify(valueDB float64) Classification {
	if math.IsNaN(valueDB) || valueDB < zoneTable[0].Min {
		return classificationOf(zoneTable[0])
	}
	for _, band := range zoneTable {
		if valueDB >= band.Min && valueDB < band.Max {
			return classificationOf(band)
		}
	}
	return classificationOf(zoneTable[len(zoneTable)-1])
}

func classificationOf(band zoneBand) Classification {
	return Classification{
		Zone:               band.Zone,
		Category:           band.Category,
		RiskLevel:          band.Risk,
		Recommendation:     band.Recommendation,
		ProtectionRequired: band.Protection,
	}
}
