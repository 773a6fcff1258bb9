package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// AnomalyFeatures is what the external model scores.
type AnomalyFeatures struct {
	Action          string  `json:"action"`
	UserID          string  `json:"userId,omitempty"`
	Amount          float64 `json:"amount"`
	ZScore          float64 `json:"zScore"`
	MaxDeltaPercent float64 `json:"maxDeltaPercent"`
}

// AnomalyModel is an optional external detector.
type AnomalyModel interface {
	Score(ctx context.Context, f AnomalyFeatures) (AnomalySignal, error)
}

// HTTPAnomalyModel calls a scoring service that answers
// {"anomaly": bool, "score": number}.
type HTTPAnomalyModel struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPAnomalyModel creates a client for the scoring endpoint. A zero
// timeout defaults to two seconds.
func NewHTTPAnomalyModel(endpoint string, timeout time.Duration) *HTTPAnomalyModel {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPAnomalyModel{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (m *HTTPAnomalyModel) Score(ctx context.Context, f AnomalyFeatures) (AnomalySignal, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return AnomalySignal{}, fmt.Errorf("encode anomaly features: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return AnomalySignal{}, fmt.Errorf("create anomaly request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return AnomalySignal{}, fmt.Errorf("anomaly model unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return AnomalySignal{}, fmt.Errorf("anomaly model returned %d", resp.StatusCode)
	}

	var sig AnomalySignal
	if err := json.NewDecoder(resp.Body).Decode(&sig); err != nil {
		return AnomalySignal{}, fmt.Errorf("decode anomaly response: %w", err)
	}
	return sig, nil
}
