package xrpl

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// TxKind identifies a supported transaction kind. The set is closed: the
// builder rejects anything outside it with ErrUnsupportedTxType.
type TxKind string

const (
	TxPayment      TxKind = "Payment"
	TxTrustSet     TxKind = "TrustSet"
	TxEscrowCreate TxKind = "EscrowCreate"
	TxEscrowFinish TxKind = "EscrowFinish"
	TxEscrowCancel TxKind = "EscrowCancel"
	TxOfferCreate  TxKind = "OfferCreate"
)

// ErrUnsupportedTxType is returned when a request names a transaction kind
// outside the closed set above.
var ErrUnsupportedTxType = errors.New("unsupported transaction type")

// LedgerValidityWindow is the number of ledger closes a built transaction
// remains valid for. Transactions expire if not confirmed within it.
const LedgerValidityWindow = 4

// defaultFee is the base transaction cost in drops.
const defaultFee = "12"

// Request is the semantic description of a transaction to build. Fields
// beyond the kind's needs are ignored.
type Request struct {
	Kind               TxKind
	SourceAddress      string
	DestinationAddress string

	// Amount in decimal units. For the native currency it is converted to
	// base units; otherwise Currency and Issuer must be set.
	Amount   float64
	Currency string
	Issuer   string

	// Conditional-hold fields.
	Condition     string
	Fulfillment   string
	FinishAfter   uint32
	CancelAfter   uint32
	OfferSequence uint32

	// Market-offer legs.
	GetsAmount   float64
	GetsCurrency string
	GetsIssuer   string
	PaysAmount   float64
	PaysCurrency string
	PaysIssuer   string

	// Trust-line limit.
	TrustLimit float64

	Memo string
}

// IssuedAmount represents an amount of a non-native currency.
type IssuedAmount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

// Memo carries an optional human-readable annotation on a transaction.
type Memo struct {
	MemoData string `json:"MemoData"`
}

// MemoWrapper matches the ledger's nested memo encoding.
type MemoWrapper struct {
	Memo Memo `json:"Memo"`
}

// Transaction is an unsigned transaction payload ready to hand to a signer.
// Field names follow the ledger's canonical JSON representation.
type Transaction struct {
	TransactionType    TxKind        `json:"TransactionType"`
	Account            string        `json:"Account"`
	Destination        string        `json:"Destination,omitempty"`
	Owner              string        `json:"Owner,omitempty"`
	Amount             any           `json:"Amount,omitempty"`
	LimitAmount        *IssuedAmount `json:"LimitAmount,omitempty"`
	TakerGets          any           `json:"TakerGets,omitempty"`
	TakerPays          any           `json:"TakerPays,omitempty"`
	Condition          string        `json:"Condition,omitempty"`
	Fulfillment        string        `json:"Fulfillment,omitempty"`
	FinishAfter        uint32        `json:"FinishAfter,omitempty"`
	CancelAfter        uint32        `json:"CancelAfter,omitempty"`
	OfferSequence      uint32        `json:"OfferSequence,omitempty"`
	Sequence           uint32        `json:"Sequence"`
	LastLedgerSequence uint32        `json:"LastLedgerSequence"`
	Fee                string        `json:"Fee"`
	Memos              []MemoWrapper `json:"Memos,omitempty"`
}

// Build assembles an unsigned transaction from a semantic request and the
// signer's current account sequence plus the ledger's current index. Both
// values must be fetched immediately before building; staleness is the
// caller's responsibility.
func Build(req *Request, sequence, ledgerIndex uint32) (*Transaction, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	if req.SourceAddress == "" {
		return nil, fmt.Errorf("source address cannot be empty")
	}

	tx := &Transaction{
		TransactionType:    req.Kind,
		Account:            req.SourceAddress,
		Sequence:           sequence,
		LastLedgerSequence: ledgerIndex + LedgerValidityWindow,
		Fee:                defaultFee,
	}

	switch req.Kind {
	case TxPayment:
		if req.DestinationAddress == "" {
			return nil, fmt.Errorf("payment requires a destination address")
		}
		tx.Destination = req.DestinationAddress
		tx.Amount = encodeAmount(req.Amount, req.Currency, req.Issuer)

	case TxTrustSet:
		if req.Issuer == "" || req.Currency == "" {
			return nil, fmt.Errorf("trust set requires currency and issuer")
		}
		tx.LimitAmount = &IssuedAmount{
			Currency: req.Currency,
			Issuer:   req.Issuer,
			Value:    strconv.FormatFloat(req.TrustLimit, 'f', -1, 64),
		}

	case TxEscrowCreate:
		if req.DestinationAddress == "" {
			return nil, fmt.Errorf("escrow create requires a destination address")
		}
		tx.Destination = req.DestinationAddress
		tx.Amount = ToDrops(req.Amount)
		tx.Condition = req.Condition
		tx.FinishAfter = req.FinishAfter
		tx.CancelAfter = req.CancelAfter

	case TxEscrowFinish:
		if req.OfferSequence == 0 {
			return nil, fmt.Errorf("escrow finish requires the hold's offer sequence")
		}
		tx.Owner = ownerOrSource(req)
		tx.OfferSequence = req.OfferSequence
		tx.Condition = req.Condition
		tx.Fulfillment = req.Fulfillment

	case TxEscrowCancel:
		if req.OfferSequence == 0 {
			return nil, fmt.Errorf("escrow cancel requires the hold's offer sequence")
		}
		tx.Owner = ownerOrSource(req)
		tx.OfferSequence = req.OfferSequence

	case TxOfferCreate:
		tx.TakerGets = encodeAmount(req.GetsAmount, req.GetsCurrency, req.GetsIssuer)
		tx.TakerPays = encodeAmount(req.PaysAmount, req.PaysCurrency, req.PaysIssuer)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTxType, req.Kind)
	}

	if req.Memo != "" {
		tx.Memos = []MemoWrapper{{Memo: Memo{
			MemoData: strings.ToUpper(hex.EncodeToString([]byte(req.Memo))),
		}}}
	}

	return tx, nil
}

// encodeAmount encodes an amount either as a base-unit integer string for
// the native currency or as an issued-amount object otherwise.
func encodeAmount(amount float64, currency, issuer string) any {
	if currency == "" || strings.EqualFold(currency, "XRP") {
		return ToDrops(amount)
	}
	return &IssuedAmount{
		Currency: currency,
		Issuer:   issuer,
		Value:    strconv.FormatFloat(amount, 'f', -1, 64),
	}
}

// ownerOrSource returns the escrow owner for finish/cancel transactions.
// The destination field carries the owner when the finisher is not the
// account that created the hold.
func ownerOrSource(req *Request) string {
	if req.DestinationAddress != "" {
		return req.DestinationAddress
	}
	return req.SourceAddress
}
