package xrpl

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildEscrowCreate(t *testing.T) {
	tx, err := Build(&Request{
		Kind:               TxEscrowCreate,
		SourceAddress:      "rSource",
		DestinationAddress: "rDest",
		Amount:             50,
		Condition:          "A0258020AA810120",
		FinishAfter:        800000000,
		CancelAfter:        800086400,
		Memo:               "event pool",
	}, 7, 1000)
	require.NoError(t, err)

	require.Equal(t, TxEscrowCreate, tx.TransactionType)
	require.Equal(t, "rSource", tx.Account)
	require.Equal(t, "rDest", tx.Destination)
	require.Equal(t, "50000000", tx.Amount)
	require.Equal(t, "A0258020AA810120", tx.Condition)
	require.Equal(t, uint32(800000000), tx.FinishAfter)
	require.Equal(t, uint32(800086400), tx.CancelAfter)
	require.Equal(t, uint32(7), tx.Sequence)
	require.Equal(t, uint32(1004), tx.LastLedgerSequence)
	require.Equal(t, "12", tx.Fee)

	require.Len(t, tx.Memos, 1)
	decoded, err := hex.DecodeString(tx.Memos[0].Memo.MemoData)
	require.NoError(t, err)
	require.Equal(t, "event pool", string(decoded))
	require.Equal(t, strings.ToUpper(tx.Memos[0].Memo.MemoData), tx.Memos[0].Memo.MemoData)
}

func TestBuildEscrowFinishRequiresOfferSequence(t *testing.T) {
	_, err := Build(&Request{
		Kind:          TxEscrowFinish,
		SourceAddress: "rSource",
		Condition:     "A02580AA810120",
		Fulfillment:   "A0228020BB",
	}, 1, 100)
	require.Error(t, err)

	tx, err := Build(&Request{
		Kind:          TxEscrowFinish,
		SourceAddress: "rSource",
		OfferSequence: 42,
		Condition:     "cond",
		Fulfillment:   "ful",
	}, 1, 100)
	require.NoError(t, err)
	require.Equal(t, "rSource", tx.Owner)
	require.Equal(t, uint32(42), tx.OfferSequence)
	require.Equal(t, "cond", tx.Condition)
	require.Equal(t, "ful", tx.Fulfillment)
}

func TestBuildEscrowCancelRequiresOfferSequence(t *testing.T) {
	_, err := Build(&Request{Kind: TxEscrowCancel, SourceAddress: "rSource"}, 1, 100)
	require.Error(t, err)

	tx, err := Build(&Request{
		Kind:          TxEscrowCancel,
		SourceAddress: "rSource",
		OfferSequence: 9,
	}, 1, 100)
	require.NoError(t, err)
	require.Equal(t, uint32(9), tx.OfferSequence)
	require.Empty(t, tx.Condition)
}

func TestBuildPaymentNative(t *testing.T) {
	tx, err := Build(&Request{
		Kind:               TxPayment,
		SourceAddress:      "rSource",
		DestinationAddress: "rDest",
		Amount:             1.5,
	}, 3, 500)
	require.NoError(t, err)
	require.Equal(t, "1500000", tx.Amount)
}

func TestBuildPaymentIssuedCurrency(t *testing.T) {
	tx, err := Build(&Request{
		Kind:               TxPayment,
		SourceAddress:      "rSource",
		DestinationAddress: "rDest",
		Amount:             12.25,
		Currency:           "VLT",
		Issuer:             "rIssuer",
	}, 3, 500)
	require.NoError(t, err)

	amount, ok := tx.Amount.(*IssuedAmount)
	require.True(t, ok)
	require.Equal(t, "VLT", amount.Currency)
	require.Equal(t, "rIssuer", amount.Issuer)
	require.Equal(t, "12.25", amount.Value)
}

func TestBuildRejectsUnsupportedKind(t *testing.T) {
	_, err := Build(&Request{Kind: TxKind("AccountDelete"), SourceAddress: "rSource"}, 1, 100)
	require.ErrorIs(t, err, ErrUnsupportedTxType)
}

func TestBuildRejectsMissingSource(t *testing.T) {
	_, err := Build(&Request{Kind: TxPayment, DestinationAddress: "rDest"}, 1, 100)
	require.Error(t, err)
}
