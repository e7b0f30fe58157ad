package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/voltmesh/curtaild/bridge/xrpl"
	"github.com/voltmesh/curtaild/internal/metrics"
)

// HealthStatus represents the health status response
type HealthStatus struct {
	OK          bool      `json:"ok"`
	LedgerIndex uint32    `json:"ledger_index,omitempty"`
	ActiveHolds int64     `json:"active_holds"`
	Mode        string    `json:"mode"`
	Timestamp   time.Time `json:"timestamp"`
	Uptime      string    `json:"uptime"`
}

// HealthChecker provides health check functionality
type HealthChecker struct {
	db        *badger.DB
	client    xrpl.Client
	startTime time.Time
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(db *badger.DB, client xrpl.Client) *HealthChecker {
	return &HealthChecker{
		db:        db,
		client:    client,
		startTime: time.Now(),
	}
}

// Handler returns an HTTP handler for the /health endpoint
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := hc.GetStatus(r.Context())

		w.Header().Set("Content-Type", "application/json")

		if status.OK {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(status)
	}
}

// GetStatus returns the current health status. The store must be open;
// ledger reachability is reported but only degrades health, it does not
// fail the check, since signing and webhooks keep working through outages.
func (hc *HealthChecker) GetStatus(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Mode:        metrics.NodeMode.Value(),
		ActiveHolds: metrics.ActiveHolds.Value(),
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(hc.startTime).String(),
	}

	status.OK = hc.db != nil && !hc.db.IsClosed()

	if hc.client != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if index, err := hc.client.CurrentLedgerIndex(pingCtx); err == nil {
			status.LedgerIndex = index
		}
	}

	return status
}

// LivenessHandler returns a liveness check handler
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Simple liveness check - if we can respond, we're alive
		response := map[string]interface{}{
			"alive":     true,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}

// ReadinessHandler returns a readiness check handler backed by the store
func ReadinessHandler(db *badger.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := db != nil && !db.IsClosed()

		response := map[string]interface{}{
			"ready":     ready,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")

		if ready {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(response)
	}
}
