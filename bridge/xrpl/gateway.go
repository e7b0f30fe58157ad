package xrpl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// provisionalSuccessPrefix marks engine results that indicate a transaction
// was provisionally applied. Any other result is a definite rejection.
const provisionalSuccessPrefix = "tes"

// TxStatus is the reconciled status of a submitted transaction.
type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusConfirmed TxStatus = "confirmed"
	StatusFailed    TxStatus = "failed"
	StatusError     TxStatus = "error"
)

// Prepared bundles an unsigned transaction with the sequence and validity
// window it was built against.
type Prepared struct {
	Tx                 *Transaction
	Sequence           uint32
	LastLedgerSequence uint32
}

// SubmitResult is the outcome of submitting a signed blob.
type SubmitResult struct {
	Success      bool
	TxHash       string
	EngineResult string
}

// StatusResult is the outcome of a status check by hash.
type StatusResult struct {
	Status TxStatus
	Info   *TxInfo
}

// Gateway wraps the ledger client capability: it prepares unsigned
// transactions against fresh sequence/ledger-index values, submits signed
// blobs and polls transaction status by hash.
//
// Prepare serializes per source address: fetch-sequence and build happen
// under a per-address lock so two concurrent prepares for the same account
// cannot produce clashing sequence numbers. The lock is released before any
// signing request is issued.
type Gateway struct {
	client Client

	// Default issued currency applied to amount-bearing requests that do
	// not name one. Empty means native units.
	currency string
	issuer   string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGateway creates a gateway over the given ledger client.
func NewGateway(client Client) (*Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("ledger client cannot be nil")
	}
	return &Gateway{
		client: client,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// UseIssuedCurrency sets the default currency and issuer for prepared
// transactions that carry an amount but do not name a currency.
func (g *Gateway) UseIssuedCurrency(currency, issuer string) {
	g.currency = currency
	g.issuer = issuer
}

// addressLock returns the single-flight lock for a source address.
func (g *Gateway) addressLock(address string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()

	lock, ok := g.locks[address]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[address] = lock
	}
	return lock
}

// Prepare fetches the source account's sequence and the current ledger
// index, then builds an unsigned transaction bounded to the validity window.
func (g *Gateway) Prepare(ctx context.Context, req *Request) (*Prepared, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}

	// Ledger-derived fields are filled on a copy; callers may reuse the
	// request on retry.
	r := *req
	if g.currency != "" && r.Currency == "" && r.Amount > 0 {
		r.Currency = g.currency
		r.Issuer = g.issuer
	}

	lock := g.addressLock(r.SourceAddress)
	lock.Lock()
	defer lock.Unlock()

	sequence, err := g.client.AccountSequence(ctx, r.SourceAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account sequence for %s: %w", r.SourceAddress, err)
	}

	ledgerIndex, err := g.client.CurrentLedgerIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch current ledger index: %w", err)
	}

	tx, err := Build(&r, sequence, ledgerIndex)
	if err != nil {
		return nil, err
	}

	return &Prepared{
		Tx:                 tx,
		Sequence:           sequence,
		LastLedgerSequence: tx.LastLedgerSequence,
	}, nil
}

// Submit sends a signed transaction blob to the ledger. Success means the
// engine result is provisional success; any other engine result is a
// definite rejection that callers must not blindly retry.
func (g *Gateway) Submit(ctx context.Context, signedBlob string) (*SubmitResult, error) {
	info, err := g.client.SubmitBlob(ctx, signedBlob)
	if err != nil {
		return nil, fmt.Errorf("ledger submission failed: %w", err)
	}

	return &SubmitResult{
		Success:      strings.HasPrefix(info.EngineResult, provisionalSuccessPrefix),
		TxHash:       info.TxHash,
		EngineResult: info.EngineResult,
	}, nil
}

// CheckStatus polls a transaction by hash. A hash the ledger does not know
// yet is pending, not an error: the transaction may not have propagated.
func (g *Gateway) CheckStatus(ctx context.Context, txHash string) (*StatusResult, error) {
	info, err := g.client.Transaction(ctx, txHash)
	if errors.Is(err, ErrTxNotFound) {
		return &StatusResult{Status: StatusPending}, nil
	}
	if err != nil {
		return &StatusResult{Status: StatusError}, fmt.Errorf("status check for %s failed: %w", txHash, err)
	}

	if !info.Validated {
		return &StatusResult{Status: StatusPending, Info: info}, nil
	}
	if strings.HasPrefix(info.EngineResult, provisionalSuccessPrefix) {
		return &StatusResult{Status: StatusConfirmed, Info: info}, nil
	}
	return &StatusResult{Status: StatusFailed, Info: info}, nil
}

// OfferSequence resolves the account sequence a confirmed transaction was
// recorded with. Finish and cancel transactions reference the original hold
// by this value.
func (g *Gateway) OfferSequence(ctx context.Context, txHash string) (uint32, error) {
	info, err := g.client.Transaction(ctx, txHash)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve offer sequence from %s: %w", txHash, err)
	}
	return info.Sequence, nil
}
