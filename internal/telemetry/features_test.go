package telemetry

import (
	"math"
	"testing"
)

func TestExtract(t *testing.T) {
	t.Run("empty series yields zeroed features", func(t *testing.T) {
		f := Extract(nil, 3.0)
		if f != (DerivedFeatures{}) {
			t.Errorf("expected zero features, got %+v", f)
		}
	})

	t.Run("single sample has zero spread", func(t *testing.T) {
		f := Extract([]float64{2.5}, 1.0)
		if f.AvgSpeed != 2.5 {
			t.Errorf("expected avg 2.5, got %v", f.AvgSpeed)
		}
		if f.StdSpeed != 0 || f.SpeedVariance != 0 {
			t.Errorf("expected zero std/variance for single sample, got %v/%v", f.StdSpeed, f.SpeedVariance)
		}
		if f.AccelerationChanges != 0 || f.DecelerationRate != 0 {
			t.Errorf("expected zero extrema/deceleration for single sample, got %+v", f)
		}
	})

	t.Run("population statistics", func(t *testing.T) {
		f := Extract([]float64{1, 2, 3, 4}, 0)
		if f.AvgSpeed != 2.5 {
			t.Errorf("expected avg 2.5, got %v", f.AvgSpeed)
		}
		if f.SpeedVariance != 1.25 {
			t.Errorf("expected variance 1.25, got %v", f.SpeedVariance)
		}
		want := math.Sqrt(1.25)
		if f.StdSpeed != want {
			t.Errorf("expected std %v, got %v", want, f.StdSpeed)
		}
	})

	t.Run("counts strict local extrema", func(t *testing.T) {
		f := Extract([]float64{1, 3, 2, 4, 1}, 0)
		if f.AccelerationChanges != 2 {
			t.Errorf("expected 2 extrema, got %d", f.AccelerationChanges)
		}
	})

	t.Run("adjacent reversals count once per turn", func(t *testing.T) {
		// Every interior sample of a zig-zag is a strict extremum, but
		// each counted turn consumes the sample after it.
		f := Extract([]float64{1, 3, 1, 3, 1}, 0)
		if f.AccelerationChanges != 2 {
			t.Errorf("expected 2 extrema, got %d", f.AccelerationChanges)
		}
	})

	t.Run("plateau is not an extremum", func(t *testing.T) {
		f := Extract([]float64{1, 2, 2, 1}, 0)
		if f.AccelerationChanges != 0 {
			t.Errorf("expected 0 extrema on plateau, got %d", f.AccelerationChanges)
		}
	})

	t.Run("deceleration rate from trailing window", func(t *testing.T) {
		// trailing 5 of [9,1,2,3,4,5] average to 3; (3-1.5)/3 = 0.5
		f := Extract([]float64{9, 1, 2, 3, 4, 5}, 1.5)
		if f.DecelerationRate != 0.5 {
			t.Errorf("expected deceleration 0.5, got %v", f.DecelerationRate)
		}
	})

	t.Run("zero trailing mean yields zero deceleration", func(t *testing.T) {
		f := Extract([]float64{0, 0, 0}, 2.0)
		if f.DecelerationRate != 0 {
			t.Errorf("expected 0 deceleration, got %v", f.DecelerationRate)
		}
	})

	t.Run("deterministic and idempotent", func(t *testing.T) {
		in := []float64{0.4, 1.7, 0.9, 2.2, 1.1}
		a := Extract(in, 0.8)
		b := Extract(in, 0.8)
		if a != b {
			t.Errorf("repeated extraction differed: %+v vs %+v", a, b)
		}
	})
}

func TestSuspicion(t *testing.T) {
	tests := []struct {
		name    string
		sample  Sample
		derived DerivedFeatures
		want    int
	}{
		{
			name: "all four rules fire",
			sample: Sample{
				MovementTime:   100,
				SpeedStability: 0.05,
				SpeedSeries:    []float64{1.0, 1.1},
			},
			derived: DerivedFeatures{DecelerationRate: 0.08},
			want:    4,
		},
		{
			name: "clean human attempt",
			sample: Sample{
				MovementTime:   900,
				SpeedStability: 0.6,
				SpeedSeries:    []float64{0.5, 3.2, 1.1},
			},
			derived: DerivedFeatures{DecelerationRate: 0.4},
			want:    0,
		},
		{
			name: "strong braking is normal",
			sample: Sample{
				MovementTime:   900,
				SpeedStability: 0.6,
				SpeedSeries:    []float64{0.5, 3.2, 1.1},
			},
			derived: DerivedFeatures{DecelerationRate: 0.12},
			want:    0,
		},
		{
			name: "band edges are exclusive",
			sample: Sample{
				MovementTime:   900,
				SpeedStability: 0.6,
			},
			derived: DerivedFeatures{DecelerationRate: 0.05},
			want:    0,
		},
		{
			name: "empty series never trips the range rule",
			sample: Sample{
				MovementTime:   100,
				SpeedStability: 0.6,
			},
			derived: DerivedFeatures{},
			want:    1,
		},
		{
			name: "flat but slow movement",
			sample: Sample{
				MovementTime:   500,
				SpeedStability: 0.5,
				SpeedSeries:    []float64{2.0, 2.1, 2.3},
			},
			derived: DerivedFeatures{},
			want:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Suspicion(tt.sample, tt.derived); got != tt.want {
				t.Errorf("expected suspicion %d, got %d", tt.want, got)
			}
		})
	}
}
