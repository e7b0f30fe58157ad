package signing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voltmesh/curtaild/bridge/xrpl"
)

// Options controls how the provider presents a signing request.
type Options struct {
	// Expiry window after which the provider marks the request expired.
	Expire time.Duration
	// Submit instructs the provider to submit the signed blob itself.
	Submit bool
}

// SigningRequest identifies one outstanding request at the provider.
type SigningRequest struct {
	CorrelationID string
	QRURL         string
	DeepLink      string
}

// SigningStatus is the provider's answer to "is this request resolved".
type SigningStatus struct {
	Resolved bool
	Signed   bool
	Expired  bool
	TxHash   string
}

// Provider is the mobile wallet signing capability: create a signing
// request for an unsigned transaction and later report its resolution.
type Provider interface {
	CreateRequest(ctx context.Context, tx *xrpl.Transaction, opts Options) (*SigningRequest, error)
	Status(ctx context.Context, correlationID string) (*SigningStatus, error)
}

// ProviderConfig defines configuration for the HTTP signing provider.
type ProviderConfig struct {
	// Provider API base URL
	Endpoint string
	// API credentials
	APIKey    string
	APISecret string
	// HTTP client timeout
	Timeout time.Duration
}

// DefaultProviderConfig returns a default provider configuration.
func DefaultProviderConfig(endpoint string) *ProviderConfig {
	return &ProviderConfig{
		Endpoint: endpoint,
		Timeout:  30 * time.Second,
	}
}

// HTTPProvider talks to the wallet signing provider over its REST API.
type HTTPProvider struct {
	config *ProviderConfig
	http   *http.Client
}

// NewHTTPProvider creates a provider client.
func NewHTTPProvider(config *ProviderConfig) (*HTTPProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("provider config cannot be nil")
	}
	if config.Endpoint == "" {
		return nil, fmt.Errorf("provider endpoint cannot be empty")
	}

	return &HTTPProvider{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}, nil
}

// CreateRequest registers a signing request for an unsigned transaction and
// returns the provider's correlation id plus the QR/deep-link handles the
// human signer uses.
func (p *HTTPProvider) CreateRequest(ctx context.Context, tx *xrpl.Transaction, opts Options) (*SigningRequest, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction cannot be nil")
	}

	payload := map[string]any{
		"txjson": tx,
		"options": map[string]any{
			"submit": opts.Submit,
			"expire": int(opts.Expire.Minutes()),
		},
	}

	var resp struct {
		UUID string `json:"uuid"`
		Refs struct {
			QRPNG string `json:"qr_png"`
		} `json:"refs"`
		Next struct {
			Always string `json:"always"`
		} `json:"next"`
	}
	if err := p.do(ctx, http.MethodPost, "/payload", payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to create signing request: %w", err)
	}
	if resp.UUID == "" {
		return nil, fmt.Errorf("provider returned no correlation id")
	}

	return &SigningRequest{
		CorrelationID: resp.UUID,
		QRURL:         resp.Refs.QRPNG,
		DeepLink:      resp.Next.Always,
	}, nil
}

// Status fetches the resolution state of a signing request.
func (p *HTTPProvider) Status(ctx context.Context, correlationID string) (*SigningStatus, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("correlation id cannot be empty")
	}

	var resp struct {
		Meta struct {
			Resolved bool `json:"resolved"`
			Signed   bool `json:"signed"`
			Expired  bool `json:"expired"`
		} `json:"meta"`
		Response struct {
			TxID string `json:"txid"`
		} `json:"response"`
	}
	if err := p.do(ctx, http.MethodGet, "/payload/"+correlationID, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch signing status for %s: %w", correlationID, err)
	}

	return &SigningStatus{
		Resolved: resp.Meta.Resolved,
		Signed:   resp.Meta.Signed,
		Expired:  resp.Meta.Expired,
		TxHash:   resp.Response.TxID,
	}, nil
}

// do performs one authenticated HTTP round trip against the provider.
func (p *HTTPProvider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.config.Endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", p.config.APIKey)
	req.Header.Set("X-API-Secret", p.config.APISecret)

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}
