package telemetry

// Heuristic rule thresholds. These are fixed, domain-specific values tuned
// against recorded traffic, not a configurable rule engine.
const (
	minHumanMovementTime = 300 // ms
	minSpeedStability    = 0.1
	// Deceleration in this narrow band is "too smooth" to be a human
	// braking into a click; >= 0.12 is treated as normal braking.
	smoothDecelLow  = 0.05
	smoothDecelHigh = 0.12
	minSpeedRange   = 0.5
)

// Suspicion counts how many independent heuristic rules an attempt trips.
// Each rule contributes exactly one point; the maximum is 4.
func Suspicion(s Sample, d DerivedFeatures) int {
	n := 0
	if s.MovementTime < minHumanMovementTime {
		n++
	}
	if s.SpeedStability < minSpeedStability {
		n++
	}
	if d.DecelerationRate > smoothDecelLow && d.DecelerationRate < smoothDecelHigh {
		n++
	}
	if len(s.SpeedSeries) > 0 {
		max, min := s.SpeedSeries[0], s.SpeedSeries[0]
		for _, v := range s.SpeedSeries[1:] {
			if v > max {
				max = v
			}
			if v < min {
				min = v
			}
		}
		if max-min < minSpeedRange {
			n++
		}
	}
	return n
}
