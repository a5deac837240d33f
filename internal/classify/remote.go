package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultRemoteTimeout bounds one prediction call so an external outage
// cannot stall an ingestion batch.
const DefaultRemoteTimeout = 3 * time.Second

// Remote delegates classification to an external prediction service.
type Remote struct {
	httpClient *http.Client
	baseURL    string
}

// RemoteConfig holds the configuration for the Remote classifier.
type RemoteConfig struct {
	// BaseURL is the prediction service endpoint, e.g. "http://predictor:8500".
	BaseURL string
	// Timeout bounds one prediction call (defaults to DefaultRemoteTimeout).
	Timeout time.Duration
}

type predictRequest struct {
	TDS         float64 `json:"tds"`
	PH          float64 `json:"ph"`
	Humidity    float64 `json:"humidity"`
	Temperature float64 `json:"temperature"`
}

type predictResponse struct {
	Status string `json:"status"`
}

// NewRemote creates a classifier that calls the external prediction service.
func NewRemote(cfg *RemoteConfig) (*Remote, error) {
	if cfg == nil {
		return nil, errors.New("remote classifier config cannot be nil")
	}

	if cfg.BaseURL == "" {
		return nil, errors.New("prediction endpoint cannot be empty")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}

	return &Remote{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Classify POSTs the measurement to the prediction service and parses the
// returned label. Any transport error, non-2xx response or out-of-domain
// label is returned as an error for the fallback chain to absorb.
func (r *Remote) Classify(ctx context.Context, m Measurement) (Status, error) {
	body, err := json.Marshal(predictRequest{
		TDS:         m.TDS,
		PH:          m.PH,
		Humidity:    m.Humidity,
		Temperature: m.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode prediction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("prediction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("prediction service returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("failed to read prediction response: %w", err)
	}

	var parsed predictResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("malformed prediction response: %w", err)
	}

	return ParseStatus(parsed.Status)
}
