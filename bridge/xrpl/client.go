package xrpl

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

// ErrTxNotFound is returned by Transaction when the ledger has no record of
// the requested hash. The transaction may simply not have propagated yet.
var ErrTxNotFound = errors.New("transaction not found")

// Client is the ledger capability the settlement engine consumes: account
// sequence lookup, current ledger index, signed-blob submission and
// transaction retrieval by hash.
type Client interface {
	AccountSequence(ctx context.Context, address string) (uint32, error)
	CurrentLedgerIndex(ctx context.Context) (uint32, error)
	SubmitBlob(ctx context.Context, signedBlob string) (*SubmitInfo, error)
	Transaction(ctx context.Context, hash string) (*TxInfo, error)
}

// SubmitInfo is the ledger's provisional answer to a submission.
type SubmitInfo struct {
	EngineResult string
	TxHash       string
}

// TxInfo describes a transaction as recorded by the ledger.
type TxInfo struct {
	Hash         string
	EngineResult string
	Validated    bool
	Sequence     uint32
}

// ClientConfig defines configuration for the JSON-RPC ledger client.
type ClientConfig struct {
	// JSON-RPC endpoint URL
	Endpoint string
	// HTTP client timeout
	Timeout time.Duration
	// Maximum retries for transient failures
	MaxRetries int
	// Delay between retries
	RetryDelay time.Duration
}

// DefaultClientConfig returns a default client configuration.
func DefaultClientConfig(endpoint string) *ClientConfig {
	return &ClientConfig{
		Endpoint:   endpoint,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// RPCClient talks to a ledger node over HTTP JSON-RPC.
type RPCClient struct {
	endpoint string
	http     *http.Client
	config   *ClientConfig
}

// NewRPCClient creates a new ledger JSON-RPC client.
func NewRPCClient(config *ClientConfig) (*RPCClient, error) {
	if config == nil {
		return nil, fmt.Errorf("client config cannot be nil")
	}
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	return &RPCClient{
		endpoint: config.Endpoint,
		http:     &http.Client{Timeout: config.Timeout},
		config:   config,
	}, nil
}

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// AccountSequence fetches the current sequence number of an account.
func (c *RPCClient) AccountSequence(ctx context.Context, address string) (uint32, error) {
	if address == "" {
		return 0, fmt.Errorf("address cannot be empty")
	}

	var resp struct {
		Result struct {
			AccountData struct {
				Sequence uint32 `json:"Sequence"`
			} `json:"account_data"`
			Error string `json:"error"`
		} `json:"result"`
	}

	err := c.call(ctx, &rpcRequest{
		Method: "account_info",
		Params: []any{map[string]any{"account": address, "ledger_index": "current"}},
	}, &resp)
	if err != nil {
		return 0, fmt.Errorf("account_info failed: %w", err)
	}
	if resp.Result.Error != "" {
		return 0, fmt.Errorf("account_info error for %s: %s", address, resp.Result.Error)
	}

	return resp.Result.AccountData.Sequence, nil
}

// CurrentLedgerIndex fetches the index of the in-progress ledger.
func (c *RPCClient) CurrentLedgerIndex(ctx context.Context) (uint32, error) {
	var resp struct {
		Result struct {
			LedgerCurrentIndex uint32 `json:"ledger_current_index"`
			Error              string `json:"error"`
		} `json:"result"`
	}

	err := c.call(ctx, &rpcRequest{Method: "ledger_current", Params: []any{map[string]any{}}}, &resp)
	if err != nil {
		return 0, fmt.Errorf("ledger_current failed: %w", err)
	}
	if resp.Result.Error != "" {
		return 0, fmt.Errorf("ledger_current error: %s", resp.Result.Error)
	}

	return resp.Result.LedgerCurrentIndex, nil
}

// SubmitBlob submits a signed transaction blob and returns the engine's
// provisional result.
func (c *RPCClient) SubmitBlob(ctx context.Context, signedBlob string) (*SubmitInfo, error) {
	if signedBlob == "" {
		return nil, fmt.Errorf("signed blob cannot be empty")
	}

	var resp struct {
		Result struct {
			EngineResult string `json:"engine_result"`
			TxJSON       struct {
				Hash string `json:"hash"`
			} `json:"tx_json"`
			Error string `json:"error"`
		} `json:"result"`
	}

	err := c.call(ctx, &rpcRequest{
		Method: "submit",
		Params: []any{map[string]any{"tx_blob": signedBlob}},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("submit failed: %w", err)
	}
	if resp.Result.Error != "" {
		return nil, fmt.Errorf("submit error: %s", resp.Result.Error)
	}

	return &SubmitInfo{
		EngineResult: resp.Result.EngineResult,
		TxHash:       resp.Result.TxJSON.Hash,
	}, nil
}

// Transaction retrieves a transaction by hash. Returns ErrTxNotFound when
// the ledger does not know the hash.
func (c *RPCClient) Transaction(ctx context.Context, hash string) (*TxInfo, error) {
	if hash == "" {
		return nil, fmt.Errorf("transaction hash cannot be empty")
	}

	var resp struct {
		Result struct {
			Hash      string `json:"hash"`
			Validated bool   `json:"validated"`
			Sequence  uint32 `json:"Sequence"`
			Meta      struct {
				TransactionResult string `json:"TransactionResult"`
			} `json:"meta"`
			Error string `json:"error"`
		} `json:"result"`
	}

	err := c.call(ctx, &rpcRequest{
		Method: "tx",
		Params: []any{map[string]any{"transaction": hash, "binary": false}},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("tx lookup failed: %w", err)
	}
	if resp.Result.Error == "txnNotFound" {
		return nil, ErrTxNotFound
	}
	if resp.Result.Error != "" {
		return nil, fmt.Errorf("tx lookup error for %s: %s", hash, resp.Result.Error)
	}

	return &TxInfo{
		Hash:         resp.Result.Hash,
		EngineResult: resp.Result.Meta.TransactionResult,
		Validated:    resp.Result.Validated,
		Sequence:     resp.Result.Sequence,
	}, nil
}

// call executes a JSON-RPC request with retry on transient failures.
func (c *RPCClient) call(ctx context.Context, req *rpcRequest, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.config.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = c.doOnce(ctx, body, out)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return lastErr
}

// doOnce performs a single HTTP round trip.
func (c *RPCClient) doOnce(ctx context.Context, body []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", httpResp.StatusCode, string(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
