//go:build prom

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

var (
	// Counter metrics
	promHoldsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curtaild_holds_created_total",
		Help: "Total number of conditional holds created",
	})

	promHoldsFinished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curtaild_holds_finished_total",
		Help: "Total number of conditional holds finished (funds released)",
	})

	promHoldsCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curtaild_holds_cancelled_total",
		Help: "Total number of conditional holds cancelled (funds reclaimed)",
	})

	promSigningRequested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curtaild_signing_requests_total",
		Help: "Total number of signing requests issued to the wallet provider",
	})

	promSigningFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curtaild_signing_failures_total",
		Help: "Total number of failed signing request creations",
	})

	promWebhooksProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curtaild_webhooks_processed_total",
		Help: "Total number of signing webhooks that advanced state",
	})

	promPaymentsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curtaild_payments_completed_total",
		Help: "Total number of reward payments confirmed on-ledger",
	})

	promOraclePasses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curtaild_oracle_passes_total",
		Help: "Total number of completed oracle scan passes",
	})

	// Gauge metrics
	promActiveHolds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "curtaild_active_holds",
		Help: "Number of holds not yet in a terminal state",
	})
)

func init() {
	// Register all metrics with the default registry
	prometheus.MustRegister(
		promHoldsCreated,
		promHoldsFinished,
		promHoldsCancelled,
		promSigningRequested,
		promSigningFailed,
		promWebhooksProcessed,
		promPaymentsCompleted,
		promOraclePasses,
		promActiveHolds,
	)
}

// updatePrometheusMetrics synchronizes expvar metrics with Prometheus metrics
func updatePrometheusMetrics() {
	promHoldsCreated.Add(float64(HoldsCreated.Value()) - getPromCounterValue(promHoldsCreated))
	promHoldsFinished.Add(float64(HoldsFinished.Value()) - getPromCounterValue(promHoldsFinished))
	promHoldsCancelled.Add(float64(HoldsCancelled.Value()) - getPromCounterValue(promHoldsCancelled))
	promSigningRequested.Add(float64(SigningRequested.Value()) - getPromCounterValue(promSigningRequested))
	promSigningFailed.Add(float64(SigningFailed.Value()) - getPromCounterValue(promSigningFailed))
	promWebhooksProcessed.Add(float64(WebhooksProcessed.Value()) - getPromCounterValue(promWebhooksProcessed))
	promPaymentsCompleted.Add(float64(PaymentsCompleted.Value()) - getPromCounterValue(promPaymentsCompleted))
	promOraclePasses.Add(float64(OraclePasses.Value()) - getPromCounterValue(promOraclePasses))

	promActiveHolds.Set(float64(ActiveHolds.Value()))
}

// getPromCounterValue gets the current value of a Prometheus counter
func getPromCounterValue(counter prometheus.Counter) float64 {
	metric := &dto.Metric{}
	if err := counter.Write(metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Update Prometheus metrics from expvar before serving
		updatePrometheusMetrics()

		promhttp.Handler().ServeHTTP(w, r)
	})
}
