// Package prediction talks to the external flood-prediction function. The response is
// treated as opaque JSON; no model logic lives here.
package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/i474232898/environmental-fusion/internal/fusion"
)

// ErrNotConfigured is returned when no endpoint URL is set.
var ErrNotConfigured = errors.New("prediction endpoint not configured")

// Features is the request body sent to the prediction function.
type Features struct {
	Lat           float64 `json:"lat"`
	Lng           float64 `json:"lng"`
	RainfallMMH   float64 `json:"rainfall_mm_h"`
	RainNext6hMM  float64 `json:"rain_next_6h_mm"`
	RainNext12hMM float64 `json:"rain_next_12h_mm"`
	RainNext24hMM float64 `json:"rain_next_24h_mm"`
	IsDegraded    bool    `json:"is_degraded"`
}

// FeaturesFromSnapshot extracts prediction inputs from a fused snapshot.
func FeaturesFromSnapshot(obs fusion.Observation) Features {
	return Features{
		Lat:           obs.Coordinates.Lat,
		Lng:           obs.Coordinates.Lng,
		RainfallMMH:   obs.Metrics[fusion.MetricRainfallMMH],
		RainNext6hMM:  obs.Metrics[fusion.MetricRainNext6hMM],
		RainNext12hMM: obs.Metrics[fusion.MetricRainNext12hMM],
		RainNext24hMM: obs.Metrics[fusion.MetricRainNext24hMM],
		IsDegraded:    obs.IsDegraded,
	}
}

// FloodPrediction is the finished record persisted for each prediction run.
type FloodPrediction struct {
	Coordinates fusion.Coordinates `json:"coordinates"`
	Snapshot    fusion.Observation `json:"snapshot"`
	Prediction  json.RawMessage    `json:"prediction"`
	IsDegraded  bool               `json:"isDegraded"`
	PredictedAt time.Time          `json:"predictedAt"`
}

// Client posts features to the prediction endpoint.
type Client struct {
	url    string
	client *http.Client
}

func NewClient(url string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{url: url, client: client}
}

// Predict returns the endpoint's JSON response verbatim.
func (c *Client) Predict(ctx context.Context, f Features) (json.RawMessage, error) {
	if c.url == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal features: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prediction request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read prediction response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("prediction endpoint returned %d", resp.StatusCode)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("prediction endpoint returned invalid JSON")
	}
	return json.RawMessage(raw), nil
}
