package signing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voltmesh/curtaild/bridge/xrpl"
)

// fakeProvider captures the options the broker forwards.
type fakeProvider struct {
	lastOpts Options
	err      error
}

func (f *fakeProvider) CreateRequest(ctx context.Context, tx *xrpl.Transaction, opts Options) (*SigningRequest, error) {
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &SigningRequest{CorrelationID: "corr-1", QRURL: "https://sign.example/qr.png"}, nil
}

func (f *fakeProvider) Status(ctx context.Context, correlationID string) (*SigningStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &SigningStatus{Resolved: true, Signed: true, TxHash: "TXHASH1"}, nil
}

func testTx() *xrpl.Transaction {
	tx, _ := xrpl.Build(&xrpl.Request{
		Kind:               xrpl.TxPayment,
		SourceAddress:      "rSource",
		DestinationAddress: "rDest",
		Amount:             1,
	}, 1, 100)
	return tx
}

func TestCreateRequestAppliesDefaultExpiry(t *testing.T) {
	provider := &fakeProvider{}
	broker, err := NewBroker(provider, zap.NewNop())
	require.NoError(t, err)

	req, err := broker.CreateRequest(context.Background(), testTx(), Options{Submit: true})
	require.NoError(t, err)
	require.Equal(t, "corr-1", req.CorrelationID)
	require.Equal(t, DefaultExpiry, provider.lastOpts.Expire)
	require.True(t, provider.lastOpts.Submit)
}

func TestSetDefaultExpiryOverridesDefault(t *testing.T) {
	provider := &fakeProvider{}
	broker, err := NewBroker(provider, zap.NewNop())
	require.NoError(t, err)
	broker.SetDefaultExpiry(6 * time.Hour)
	broker.SetDefaultExpiry(0) // ignored

	_, err = broker.CreateRequest(context.Background(), testTx(), Options{})
	require.NoError(t, err)
	require.Equal(t, 6*time.Hour, provider.lastOpts.Expire)
}

func TestCreateRequestKeepsExplicitExpiry(t *testing.T) {
	provider := &fakeProvider{}
	broker, err := NewBroker(provider, zap.NewNop())
	require.NoError(t, err)

	_, err = broker.CreateRequest(context.Background(), testTx(), Options{Expire: time.Hour})
	require.NoError(t, err)
	require.Equal(t, time.Hour, provider.lastOpts.Expire)
}

func TestCreateRequestSurfacesProviderFailure(t *testing.T) {
	provider := &fakeProvider{err: fmt.Errorf("provider down")}
	broker, err := NewBroker(provider, zap.NewNop())
	require.NoError(t, err)

	_, err = broker.CreateRequest(context.Background(), testTx(), Options{})
	require.Error(t, err)
}

func TestCheckStatus(t *testing.T) {
	broker, err := NewBroker(&fakeProvider{}, zap.NewNop())
	require.NoError(t, err)

	status, err := broker.CheckStatus(context.Background(), "corr-1")
	require.NoError(t, err)
	require.True(t, status.Signed)
	require.Equal(t, "TXHASH1", status.TxHash)
}
