package xrpl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeClient is a canned-response ledger client.
type fakeClient struct {
	sequence    uint32
	ledgerIndex uint32
	submitInfo  *SubmitInfo
	txInfo      *TxInfo
	txErr       error
}

func (f *fakeClient) AccountSequence(ctx context.Context, address string) (uint32, error) {
	return f.sequence, nil
}

func (f *fakeClient) CurrentLedgerIndex(ctx context.Context) (uint32, error) {
	return f.ledgerIndex, nil
}

func (f *fakeClient) SubmitBlob(ctx context.Context, blob string) (*SubmitInfo, error) {
	return f.submitInfo, nil
}

func (f *fakeClient) Transaction(ctx context.Context, hash string) (*TxInfo, error) {
	return f.txInfo, f.txErr
}

func TestGatewayPrepare(t *testing.T) {
	gw, err := NewGateway(&fakeClient{sequence: 11, ledgerIndex: 2000})
	require.NoError(t, err)

	prepared, err := gw.Prepare(context.Background(), &Request{
		Kind:               TxPayment,
		SourceAddress:      "rSource",
		DestinationAddress: "rDest",
		Amount:             1,
	})
	require.NoError(t, err)
	require.Equal(t, uint32(11), prepared.Sequence)
	require.Equal(t, uint32(2004), prepared.LastLedgerSequence)
	require.Equal(t, uint32(2004), prepared.Tx.LastLedgerSequence)
}

func TestGatewayPrepareAppliesDefaultCurrency(t *testing.T) {
	gw, err := NewGateway(&fakeClient{sequence: 1, ledgerIndex: 10})
	require.NoError(t, err)
	gw.UseIssuedCurrency("VLT", "rIssuer")

	prepared, err := gw.Prepare(context.Background(), &Request{
		Kind:               TxPayment,
		SourceAddress:      "rSource",
		DestinationAddress: "rDest",
		Amount:             5,
	})
	require.NoError(t, err)

	amount, ok := prepared.Tx.Amount.(*IssuedAmount)
	require.True(t, ok)
	require.Equal(t, "VLT", amount.Currency)
	require.Equal(t, "rIssuer", amount.Issuer)
}

func TestGatewayPrepareDoesNotMutateRequest(t *testing.T) {
	gw, err := NewGateway(&fakeClient{sequence: 1, ledgerIndex: 10})
	require.NoError(t, err)
	gw.UseIssuedCurrency("VLT", "rIssuer")

	req := &Request{
		Kind:               TxPayment,
		SourceAddress:      "rSource",
		DestinationAddress: "rDest",
		Amount:             5,
	}
	_, err = gw.Prepare(context.Background(), req)
	require.NoError(t, err)
	require.Empty(t, req.Currency)
	require.Empty(t, req.Issuer)
}

func TestGatewaySubmitSuccessRequiresProvisionalResult(t *testing.T) {
	gw, err := NewGateway(&fakeClient{
		submitInfo: &SubmitInfo{EngineResult: "tesSUCCESS", TxHash: "AB12"},
	})
	require.NoError(t, err)

	result, err := gw.Submit(context.Background(), "blob")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "AB12", result.TxHash)

	gw, err = NewGateway(&fakeClient{
		submitInfo: &SubmitInfo{EngineResult: "tecUNFUNDED", TxHash: "CD34"},
	})
	require.NoError(t, err)

	result, err = gw.Submit(context.Background(), "blob")
	require.NoError(t, err)
	require.False(t, result.Success)
}

func TestGatewayCheckStatus(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeClient
		want   TxStatus
	}{
		{"unknown hash is pending", &fakeClient{txErr: ErrTxNotFound}, StatusPending},
		{"unvalidated is pending", &fakeClient{txInfo: &TxInfo{Validated: false}}, StatusPending},
		{"validated tes is confirmed", &fakeClient{txInfo: &TxInfo{Validated: true, EngineResult: "tesSUCCESS"}}, StatusConfirmed},
		{"validated non-tes is failed", &fakeClient{txInfo: &TxInfo{Validated: true, EngineResult: "tecNO_PERMISSION"}}, StatusFailed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gw, err := NewGateway(tc.client)
			require.NoError(t, err)

			result, err := gw.CheckStatus(context.Background(), "HASH")
			require.NoError(t, err)
			require.Equal(t, tc.want, result.Status)
		})
	}
}

func TestGatewayOfferSequence(t *testing.T) {
	gw, err := NewGateway(&fakeClient{txInfo: &TxInfo{Sequence: 77, Validated: true}})
	require.NoError(t, err)

	seq, err := gw.OfferSequence(context.Background(), "HASH")
	require.NoError(t, err)
	require.Equal(t, uint32(77), seq)
}
