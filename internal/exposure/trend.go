package exposure

import "math"

// Trend describes the direction of recent readings relative to older ones.
type Trend string

// Trend values. TrendInsufficientData is a first-class result, not an
// error: it is the expected state early in a session.
const (
	TrendIncreasing       Trend = "increasing"
	TrendDecreasing       Trend = "decreasing"
	TrendStable           Trend = "stable"
	TrendInsufficientData Trend = "insufficient_data"
)

const (
	// trendMinWindow is the minimum samples per comparison window.
	trendMinWindow = 5
	// trendDeadbandPct is the percent change below which the trend
	// reads as stable, so noise is not flagged as a trend.
	trendDeadbandPct = 5.0
)

// AnalyzeTrend splits values into an older and a recent half and compares
// their means. Non-finite values are ignored. Fewer than two windows of
// trendMinWindow samples each yields TrendInsufficientData.
func AnalyzeTrend(values []float64) Trend {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) < 2*trendMinWindow {
		return TrendInsufficientData
	}

	mid := len(finite) / 2
	older := mean(finite[:mid])
	recent := mean(finite[mid:])
	if older == 0 {
		return TrendInsufficientData
	}

	changePct := (recent - older) / math.Abs(older) * 100
	switch {
	case math.Abs(changePct) < trendDeadbandPct:
		return TrendStable
	case changePct > 0:
		return TrendIncreasing
	default:
		return TrendDecreasing
	}
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
