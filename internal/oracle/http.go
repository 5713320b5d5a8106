package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPScorer calls an external model-serving endpoint. One POST per
// attempt; the request context carries the deadline so a slow oracle can
// never stall the classification path.
type HTTPScorer struct {
	url    string
	client *http.Client
}

// NewHTTPScorer creates a scorer against the given URL. The timeout is a
// hard ceiling in addition to any per-request context deadline.
func NewHTTPScorer(url string, timeout time.Duration) *HTTPScorer {
	return &HTTPScorer{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type scoreRequest struct {
	Features []float64 `json:"features"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

func (s *HTTPScorer) Score(ctx context.Context, v FeatureVector) (float64, error) {
	body, err := json.Marshal(scoreRequest{Features: v[:]})
	if err != nil {
		return 0, fmt.Errorf("oracle: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("oracle: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("oracle: unexpected status %d", resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return 0, fmt.Errorf("oracle: decode response: %w", err)
	}
	return out.Score, nil
}
