package exposure

import (
	"math"
	"slices"

	"github.com/soundwatch/noisemeter/internal/types"
)

// Observation is one sound level held for a known duration.
type Observation struct {
	ValueDB    float64 `json:"value_db"`
	DurationMs int64   `json:"duration_ms"`
}

// Compliance holds the three independent guideline checks. OSHA and NIOSH
// compare against the energy-weighted TWA, WHO against the arithmetic
// average. The asymmetry is intentional: occupational standards are
// energy-based, the WHO residential guideline is not.
type Compliance struct {
	OSHA  bool `json:"osha"`
	NIOSH bool `json:"niosh"`
	WHO   bool `json:"who"`
}

// Guideline thresholds in dB.
const (
	OSHALimitDB  = 90.0
	NIOSHLimitDB = 85.0
	WHOLimitDB   = 55.0
)

// Percentiles holds the order-statistic levels of a reading set.
type Percentiles struct {
	P10 float64 `json:"p10"`
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
}

// Summary aggregates a closed set of readings. Immutable after creation.
//
// When InsufficientData is set the TWA and dose fields are not meaningful
// measurements and consumers should render a "collecting data" state
// instead of the numbers.
type Summary struct {
	TWADb            float64     `json:"twa_db"`
	AverageDb        float64     `json:"average_db"`
	DoseFraction     float64     `json:"dose_fraction"`
	Percentiles      Percentiles `json:"percentiles"`
	PeakDb           float64     `json:"peak_db"`
	MinDb            float64     `json:"min_db"`
	Compliance       Compliance  `json:"compliance"`
	RiskTier         RiskLevel   `json:"risk_tier"`
	DurationMs       int64       `json:"duration_ms"`
	SampleCount      int         `json:"sample_count"`
	ExcludedCount    int         `json:"excluded_count,omitzero"`
	InsufficientData bool        `json:"insufficient_data,omitzero"`
}

// safeExposureBand maps a TWA upper bound to the safe exposure budget.
// OSHA-style halving rule. Above the hard ceiling there is no safe
// exposure at all.
type safeExposureBand struct {
	MaxDB float64
	Hours float64
}

var safeExposureTable = []safeExposureBand{
	{85, 8},
	{90, 4},
	{95, 2},
	{97, 1},
	{100, 0.25},
	{105, 1.0 / 60.0},
}

// SafeExposureHours returns the safe exposure budget in hours for a given
// TWA. Zero means no safe exposure (above the hard ceiling).
func SafeExposureHours(twaDB float64) float64 {
	for _, band := range safeExposureTable {
		if twaDB <= band.MaxDB {
			return band.Hours
		}
	}
	return 0
}

// Summarize aggregates timestamped readings. Each reading's value is
// weighted by the gap to the next reading; the final reading contributes
// to the level statistics but carries no duration.
func Summarize(readings []types.Reading) Summary {
	obs := make([]Observation, 0, len(readings))
	for i, r := range readings {
		var dt int64
		if i+1 < len(readings) {
			dt = readings[i+1].TimestampMs - r.TimestampMs
		}
		obs = append(obs, Observation{ValueDB: r.ValueDB, DurationMs: dt})
	}
	return SummarizeObservations(obs)
}

// SummarizeObservations aggregates (value, duration) observations into an
// exposure summary. Non-finite values are excluded from every statistic
// but counted in ExcludedCount. Fewer than two usable observations, or a
// zero total duration, yield an insufficient-data summary rather than a
// spurious zero.
func SummarizeObservations(obs []Observation) Summary {
	var (
		values  []float64
		energy  float64 // linear power x time
		timeMs  int64
		sum     float64
		peak    = math.Inf(-1)
		minimum = math.Inf(1)
		summary Summary
	)

	for _, o := range obs {
		if math.IsNaN(o.ValueDB) || math.IsInf(o.ValueDB, 0) {
			summary.ExcludedCount++
			continue
		}
		values = append(values, o.ValueDB)
		sum += o.ValueDB
		peak = math.Max(peak, o.ValueDB)
		minimum = math.Min(minimum, o.ValueDB)
		if o.DurationMs > 0 {
			energy += math.Pow(10, o.ValueDB/10) * float64(o.DurationMs)
			timeMs += o.DurationMs
		}
	}

	summary.SampleCount = len(values)
	summary.DurationMs = timeMs

	if len(values) == 0 {
		summary.InsufficientData = true
		return summary
	}

	summary.AverageDb = sum / float64(len(values))
	summary.PeakDb = peak
	summary.MinDb = minimum
	summary.Percentiles = Percentiles{
		P10: Percentile(values, 10),
		P50: Percentile(values, 50),
		P90: Percentile(values, 90),
		P95: Percentile(values, 95),
	}
	summary.Compliance.WHO = summary.AverageDb <= WHOLimitDB

	if len(values) < 2 || timeMs == 0 {
		// TWA is undefined; report insufficient data, never 0 or NaN.
		summary.InsufficientData = true
		summary.RiskTier = Classify(summary.AverageDb).RiskLevel
		return summary
	}

	summary.TWADb = 10 * math.Log10(energy/float64(timeMs))
	summary.Compliance.OSHA = summary.TWADb <= OSHALimitDB
	summary.Compliance.NIOSH = summary.TWADb <= NIOSHLimitDB
	summary.RiskTier = Classify(summary.TWADb).RiskLevel
	summary.DoseFraction = doseFraction(summary.TWADb, timeMs)

	return summary
}

// doseFraction returns the share of the safe exposure budget consumed by
// exposure at twaDB for the given duration. Above the hard ceiling the
// budget is zero and the dose reports as fully consumed instead of
// dividing by zero.
func doseFraction(twaDB float64, durationMs int64) float64 {
	safeHours := SafeExposureHours(twaDB)
	if safeHours == 0 {
		return 1.0
	}
	durationHours := float64(durationMs) / (1000 * 60 * 60)
	return durationHours / safeHours
}

// Percentile computes the pth percentile of values using linear
// interpolation between order statistics. A single value is every
// percentile of itself.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	idx := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper {
		return sorted[lower]
	}
	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
