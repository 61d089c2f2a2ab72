// Package metrics exposes the Prometheus counters/histograms the pipeline's
// worker pools publish, plus the process-wide circuit-breaker style health
// flag spec §7 requires: fatal internal invariant violations flip Healthy()
// to false rather than panicking the process. This mirrors risk.Manager's
// circuitTripped field (risk/manager.go in the teacher repo), generalized
// from a trading circuit breaker to a liveness/readiness gate.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	AlertsIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alertcore_alerts_ingested_total",
		Help: "Webhook deliveries accepted by the ingestion pipeline.",
	})
	AlertsDeduped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alertcore_alerts_deduped_total",
		Help: "Webhook deliveries rejected as duplicates.",
	})
	AlertsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alertcore_alerts_rejected_total",
		Help: "Webhook deliveries rejected before persistence, by reason.",
	}, []string{"reason"})
	QueueDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alertcore_queue_dropped_total",
		Help: "Work units dropped because a bounded queue stayed saturated past its enqueue deadline.",
	}, []string{"queue"})
	ConfigsMatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alertcore_configs_matched_total",
		Help: "AlertConfiguration matches produced by the matcher.",
	})
	TradeActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alertcore_trade_actions_total",
		Help: "Trade manager actions, by action kind.",
	}, []string{"action"})
	NotificationsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alertcore_notifications_dispatched_total",
		Help: "Dispatcher outcomes, by result.",
	}, []string{"result"})
	ProcessingLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "alertcore_processing_latency_seconds",
		Help:    "Latency from the start of an IncomingAlert's processing in the coordinator to terminal status, by stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
	FatalInvariantViolations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alertcore_fatal_invariant_violations_total",
		Help: "Fatal internal invariant violations that flipped the process non-ready, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		AlertsIngested, AlertsDeduped, AlertsRejected, QueueDropped,
		ConfigsMatched, TradeActions, NotificationsDispatched, ProcessingLatency,
		FatalInvariantViolations,
	)
}

// healthy tracks process-wide readiness; true means ready, false means a fatal
// internal invariant was violated and the worker that hit it aborted.
var healthy atomic.Bool

func init() { healthy.Store(true) }

// MarkUnhealthy flips the process non-ready. It never recovers on its own —
// recovery requires a restart, matching the teacher's circuit-breaker
// cooldown-free trip-on-fatal behavior for invariant violations specifically
// (as opposed to the teacher's own timed circuitCooldown for trading losses).
func MarkUnhealthy(reason string) {
	healthy.Store(false)
	FatalInvariantViolations.WithLabelValues(reason).Inc()
}

// Healthy reports current process readiness for the health endpoint.
func Healthy() bool { return healthy.Load() }
