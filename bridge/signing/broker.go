package signing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voltmesh/curtaild/bridge/xrpl"
	"github.com/voltmesh/curtaild/internal/metrics"
)

// DefaultExpiry is the signing window granted to the human signer when the
// caller does not specify one. Real signing latency runs seconds to hours.
const DefaultExpiry = 24 * time.Hour

// Broker wraps the out-of-process wallet signing provider. Failures are
// reported, never swallowed; the broker never fabricates a resolution.
type Broker struct {
	provider Provider
	expiry   time.Duration
	logger   *zap.Logger
}

// NewBroker creates a signing request broker over the given provider.
func NewBroker(provider Provider, logger *zap.Logger) (*Broker, error) {
	if provider == nil {
		return nil, fmt.Errorf("signing provider cannot be nil")
	}
	return &Broker{
		provider: provider,
		expiry:   DefaultExpiry,
		logger:   logger.Named("signing-broker"),
	}, nil
}

// SetDefaultExpiry overrides the expiry granted to signing requests that do
// not specify one. Non-positive values are ignored.
func (b *Broker) SetDefaultExpiry(d time.Duration) {
	if d > 0 {
		b.expiry = d
	}
}

// CreateRequest issues a signing request for an unsigned transaction and
// returns the correlation id used to match the eventual webhook.
func (b *Broker) CreateRequest(ctx context.Context, tx *xrpl.Transaction, opts Options) (*SigningRequest, error) {
	if opts.Expire <= 0 {
		opts.Expire = b.expiry
	}

	req, err := b.provider.CreateRequest(ctx, tx, opts)
	if err != nil {
		metrics.IncrementSigningFailed()
		return nil, fmt.Errorf("signing provider rejected request: %w", err)
	}

	metrics.IncrementSigningRequested()
	b.logger.Info("signing request created",
		zap.String("correlation_id", req.CorrelationID),
		zap.String("tx_type", string(tx.TransactionType)))

	return req, nil
}

// CheckStatus answers whether a signing request is resolved and with what
// result.
func (b *Broker) CheckStatus(ctx context.Context, correlationID string) (*SigningStatus, error) {
	status, err := b.provider.Status(ctx, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to check signing request %s: %w", correlationID, err)
	}
	return status, nil
}
