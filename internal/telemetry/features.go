package telemetry

import "math"

// DerivedFeatures are the kinematic summary statistics computed from a raw
// speed series. They are recomputed on every attempt and never persisted on
// their own; the audit record carries a copy.
type DerivedFeatures struct {
	AvgSpeed            float64 `json:"avgSpeed"`
	StdSpeed            float64 `json:"stdSpeed"`
	AccelerationChanges int     `json:"accelerationChanges"`
	DecelerationRate    float64 `json:"decelerationRate"`
	SpeedVariance       float64 `json:"speedVariance"`
}

// decelWindow is how many trailing samples feed the deceleration estimate.
const decelWindow = 5

// Extract derives features from an ordered speed series. It is pure and
// deterministic: degenerate input (empty or single-sample series) yields
// zeroed features, never an error.
func Extract(samples []float64, lastSpeed float64) DerivedFeatures {
	var f DerivedFeatures
	if len(samples) == 0 {
		return f
	}

	f.AvgSpeed = mean(samples)

	if len(samples) >= 2 {
		var ss float64
		for _, s := range samples {
			d := s - f.AvgSpeed
			ss += d * d
		}
		f.SpeedVariance = ss / float64(len(samples))
		f.StdSpeed = math.Sqrt(f.SpeedVariance)
		f.AccelerationChanges = countLocalExtrema(samples)
		f.DecelerationRate = decelerationRate(samples, lastSpeed)
	}
	return f
}

// countLocalExtrema counts strict local maxima and minima, excluding the
// endpoints of the series. The sample right after a counted extremum is
// skipped: a reversal consumes both its turning points, so a zig-zag
// counts direction changes, not every interior sample.
func countLocalExtrema(samples []float64) int {
	n := 0
	for i := 1; i < len(samples)-1; i++ {
		prev, cur, next := samples[i-1], samples[i], samples[i+1]
		if (cur > prev && cur > next) || (cur < prev && cur < next) {
			n++
			i++
		}
	}
	return n
}

// decelerationRate measures how sharply the client slowed into the final
// click: (mean of trailing window - lastSpeed) / mean of trailing window.
// A zero window mean yields 0.
func decelerationRate(samples []float64, lastSpeed float64) float64 {
	start := len(samples) - decelWindow
	if start < 0 {
		start = 0
	}
	m := mean(samples[start:])
	if m == 0 {
		return 0
	}
	return (m - lastSpeed) / m
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}
