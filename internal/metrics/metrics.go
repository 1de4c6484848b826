// Package metrics registers the relay's Prometheus instrumentation:
//
//   - relay_lock_grants_total{resource}   – lock grants by resource
//   - relay_lock_denials_total{resource}  – lock denials by resource
//   - relay_queue_depth                   – pending conditional orders last poll
//   - relay_triggers_total{threshold}     – trigger firings (take_profit|stop_loss)
//   - relay_ledger_appends_total          – ledger entries written
//
// Served by the HTTP handler the lock-server daemon starts at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	lockGrants = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_lock_grants_total",
			Help: "Lock grants by resource",
		},
		[]string{"resource"},
	)

	lockDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_lock_denials_total",
			Help: "Lock denials by resource",
		},
		[]string{"resource"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_queue_depth",
			Help: "Pending conditional orders observed by the last poll",
		},
	)

	// Triggers counts fired thresholds by label, "take_profit" or
	// "stop_loss".
	Triggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_triggers_total",
			Help: "Conditional triggers fired, by threshold",
		},
		[]string{"threshold"},
	)

	ledgerAppends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_ledger_appends_total",
			Help: "Ledger entries written",
		},
	)
)

func init() {
	prometheus.MustRegister(lockGrants, lockDenials, queueDepth, Triggers, ledgerAppends)
}

func LockGranted(resource string) { lockGrants.WithLabelValues(resource).Inc() }
func LockDenied(resource string)  { lockDenials.WithLabelValues(resource).Inc() }

func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }

// TriggerFired records a fired threshold, "take_profit" or "stop_loss".
func TriggerFired(threshold string) { Triggers.WithLabelValues(threshold).Inc() }

func LedgerAppended() { ledgerAppends.Inc() }
