// Package oracle defines the boundary to the learned behavior scorer. The
// model itself is external; the engine only depends on the narrow Scorer
// contract and a fixed-order feature vector.
package oracle

import (
	"context"

	"github.com/Norman-Deen/CaptchaSysBackSmart/internal/telemetry"
)

// VectorLen is the fixed width of the feature vector. The column order is
// part of the contract with the deployed model; never reorder.
const VectorLen = 13

// FeatureVector is the fixed-order numeric input to the scorer. Fields
// unused for a given input kind are zero-filled, never missing.
type FeatureVector [VectorLen]float64

// Vector positions.
const (
	idxInputKind = iota
	idxVerticalScore
	idxVerticalCount
	idxTotalVerticalMovement
	idxAvgSpeed
	idxStdSpeed
	idxAccelerationChanges
	idxMaxSpeed
	idxLastSpeed
	idxSpeedStability
	idxMovementTime
	idxDecelerationRate
	idxSpeedVariance
)

// BuildVector assembles the scorer input from a raw sample and its derived
// features. Mouse attempts zero-fill the vertical columns; touch attempts
// carry them through.
func BuildVector(s telemetry.Sample, d telemetry.DerivedFeatures) FeatureVector {
	var v FeatureVector
	if s.Kind == telemetry.InputTouch {
		v[idxInputKind] = 1
		if s.VerticalScore != nil {
			v[idxVerticalScore] = *s.VerticalScore
		}
		v[idxVerticalCount] = float64(s.VerticalCount)
		v[idxTotalVerticalMovement] = s.TotalVerticalMovement
	}
	v[idxAvgSpeed] = d.AvgSpeed
	v[idxStdSpeed] = d.StdSpeed
	v[idxAccelerationChanges] = float64(d.AccelerationChanges)
	v[idxMaxSpeed] = s.MaxSpeed
	v[idxLastSpeed] = s.LastSpeed
	v[idxSpeedStability] = s.SpeedStability
	v[idxMovementTime] = float64(s.MovementTime)
	v[idxDecelerationRate] = d.DecelerationRate
	v[idxSpeedVariance] = d.SpeedVariance
	return v
}

// Scorer produces a scalar score for one feature vector. The score is
// assumed monotonic in "humanness" within the deployment's calibration.
// Exactly one synchronous attempt per request; no batching, no retry.
// Callers bound the call with the context deadline.
type Scorer interface {
	Score(ctx context.Context, v FeatureVector) (float64, error)
}

// Static is a Scorer returning a constant. Useful as a stub in tests and
// as the default when no remote scorer is configured.
type Static struct {
	Value float64
}

func (s Static) Score(ctx context.Context, v FeatureVector) (float64, error) {
	return s.Value, nil
}
