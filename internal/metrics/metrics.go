package metrics

import (
	"expvar"
	"time"
)

// Global metrics exposed via expvar
var (
	// Counters
	HoldsCreated      = expvar.NewInt("holds_created")
	HoldsFinished     = expvar.NewInt("holds_finished")
	HoldsCancelled    = expvar.NewInt("holds_cancelled")
	HoldsFailed       = expvar.NewInt("holds_failed")
	SigningRequested  = expvar.NewInt("signing_requests_created")
	SigningFailed     = expvar.NewInt("signing_requests_failed")
	WebhooksProcessed = expvar.NewInt("webhooks_processed")
	WebhooksIgnored   = expvar.NewInt("webhooks_ignored")
	PaymentsCompleted = expvar.NewInt("payments_completed")
	OraclePasses      = expvar.NewInt("oracle_passes")
	OracleItemErrors  = expvar.NewInt("oracle_item_errors")

	// Gauges
	ActiveHolds     = expvar.NewInt("active_holds")
	RPCRequestCount = expvar.NewInt("rpc_request_count")
	RPCErrorCount   = expvar.NewInt("rpc_error_count")

	// String metrics
	NodeMode  = expvar.NewString("node_mode")
	StartTime = expvar.NewString("start_time")
)

// Initialize metrics on package load
func init() {
	StartTime.Set(time.Now().UTC().Format(time.RFC3339))
	NodeMode.Set("settlement")
}

// IncrementHoldsCreated increments the holds created counter
func IncrementHoldsCreated() {
	HoldsCreated.Add(1)
	ActiveHolds.Add(1)
}

// IncrementHoldsFinished increments the holds finished counter
func IncrementHoldsFinished() {
	HoldsFinished.Add(1)
	ActiveHolds.Add(-1)
}

// IncrementHoldsCancelled increments the holds cancelled counter
func IncrementHoldsCancelled() {
	HoldsCancelled.Add(1)
	ActiveHolds.Add(-1)
}

// IncrementHoldsFailed increments the holds failed counter
func IncrementHoldsFailed() {
	HoldsFailed.Add(1)
	ActiveHolds.Add(-1)
}

// IncrementSigningRequested increments the signing requests counter
func IncrementSigningRequested() {
	SigningRequested.Add(1)
}

// IncrementSigningFailed increments the signing failures counter
func IncrementSigningFailed() {
	SigningFailed.Add(1)
}

// IncrementWebhooksProcessed increments the processed webhooks counter
func IncrementWebhooksProcessed() {
	WebhooksProcessed.Add(1)
}

// IncrementWebhooksIgnored increments the ignored webhooks counter
func IncrementWebhooksIgnored() {
	WebhooksIgnored.Add(1)
}

// IncrementPaymentsCompleted increments the completed payments counter
func IncrementPaymentsCompleted() {
	PaymentsCompleted.Add(1)
}

// IncrementOraclePasses increments the oracle pass counter
func IncrementOraclePasses() {
	OraclePasses.Add(1)
}

// IncrementOracleItemErrors increments the oracle per-item error counter
func IncrementOracleItemErrors() {
	OracleItemErrors.Add(1)
}

// IncrementRPCRequests increments the RPC request counter
func IncrementRPCRequests() {
	RPCRequestCount.Add(1)
}

// IncrementRPCErrors increments the RPC error counter
func IncrementRPCErrors() {
	RPCErrorCount.Add(1)
}
