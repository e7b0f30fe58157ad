package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPSource reads verified curtailment measurements from a metering API.
type HTTPSource struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPSource creates a measurement source against the given endpoint.
func NewHTTPSource(endpoint, apiKey string) (*HTTPSource, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("measurement endpoint cannot be empty")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid measurement endpoint: %w", err)
	}

	return &HTTPSource{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// EnergySaved fetches the measured savings for one participant in one
// event, in kWh.
func (s *HTTPSource) EnergySaved(ctx context.Context, eventID, participantID string) (float64, error) {
	reqURL := fmt.Sprintf("%s/events/%s/participants/%s/savings",
		s.endpoint, url.PathEscape(eventID), url.PathEscape(participantID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build measurement request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("measurement request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("measurement API returned status %d", resp.StatusCode)
	}

	var body struct {
		EnergySavedKwh float64 `json:"energy_saved_kwh"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode measurement response: %w", err)
	}

	if body.EnergySavedKwh < 0 {
		return 0, fmt.Errorf("measurement API returned negative savings %f", body.EnergySavedKwh)
	}
	return body.EnergySavedKwh, nil
}
