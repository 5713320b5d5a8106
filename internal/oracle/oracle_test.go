package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Norman-Deen/CaptchaSysBackSmart/internal/telemetry"
)

func TestBuildVector(t *testing.T) {
	t.Run("mouse zero-fills vertical columns", func(t *testing.T) {
		s := telemetry.Sample{
			Kind:           telemetry.InputMouse,
			MaxSpeed:       5.5,
			LastSpeed:      1.2,
			SpeedStability: 0.8,
			MovementTime:   640,
			VerticalCount:  7, // must be ignored for mouse
		}
		d := telemetry.DerivedFeatures{
			AvgSpeed:            2.0,
			StdSpeed:            0.5,
			AccelerationChanges: 3,
			DecelerationRate:    0.3,
			SpeedVariance:       0.25,
		}

		v := BuildVector(s, d)
		want := FeatureVector{0, 0, 0, 0, 2.0, 0.5, 3, 5.5, 1.2, 0.8, 640, 0.3, 0.25}
		if v != want {
			t.Errorf("vector mismatch:\n got %v\nwant %v", v, want)
		}
	})

	t.Run("touch carries vertical columns", func(t *testing.T) {
		vs := 0.9
		s := telemetry.Sample{
			Kind:                  telemetry.InputTouch,
			VerticalScore:         &vs,
			VerticalCount:         4,
			TotalVerticalMovement: 120.5,
			MovementTime:          800,
		}

		v := BuildVector(s, telemetry.DerivedFeatures{})
		if v[0] != 1 || v[1] != 0.9 || v[2] != 4 || v[3] != 120.5 {
			t.Errorf("touch columns wrong: %v", v)
		}
	})

	t.Run("nil vertical score is zero not missing", func(t *testing.T) {
		v := BuildVector(telemetry.Sample{Kind: telemetry.InputTouch}, telemetry.DerivedFeatures{})
		if v[1] != 0 {
			t.Errorf("expected zero-filled vertical score, got %v", v[1])
		}
	})
}

func TestHTTPScorer(t *testing.T) {
	t.Run("returns score from endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"score":0.87}`))
		}))
		defer srv.Close()

		s := NewHTTPScorer(srv.URL, time.Second)
		got, err := s.Score(context.Background(), FeatureVector{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != 0.87 {
			t.Errorf("expected 0.87, got %v", got)
		}
	})

	t.Run("non-200 is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model unavailable", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		s := NewHTTPScorer(srv.URL, time.Second)
		if _, err := s.Score(context.Background(), FeatureVector{}); err == nil {
			t.Error("expected error for 503 response")
		}
	})

	t.Run("context deadline bounds the call", func(t *testing.T) {
		blocked := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-blocked
		}))
		defer srv.Close()
		defer close(blocked)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		s := NewHTTPScorer(srv.URL, time.Second)
		start := time.Now()
		_, err := s.Score(ctx, FeatureVector{})
		if err == nil {
			t.Fatal("expected timeout error")
		}
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Errorf("call was not bounded by context deadline, took %s", elapsed)
		}
	})
}

func TestStatic(t *testing.T) {
	got, err := Static{Value: 0.42}.Score(context.Background(), FeatureVector{})
	if err != nil || got != 0.42 {
		t.Errorf("expected 0.42/nil, got %v/%v", got, err)
	}
}
