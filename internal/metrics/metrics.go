// Package metrics holds the Prometheus collectors shared by the derivation,
// persistence, queue, oracle and router components. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nftbook"

// Metrics groups every collector the service exports.
type Metrics struct {
	derivedRecords     *prometheus.CounterVec
	derivationFailures *prometheus.CounterVec
	guardNoops         prometheus.Counter
	appliedResults     *prometheus.CounterVec
	queueJobs          *prometheus.CounterVec
	oracleLookups      *prometheus.CounterVec
	pathBuilds         *prometheus.CounterVec
	deriveBatchSize    prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		derivedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orderbook",
			Name:      "derived_records_total",
			Help:      "Order records derived from pool events by side and action.",
		}, []string{"side", "action"}),
		derivationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orderbook",
			Name:      "derivation_failures_total",
			Help:      "Per-pool or per-token derivation units that failed and were skipped.",
		}, []string{"unit"}),
		guardNoops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orderbook",
			Name:      "guard_noops_total",
			Help:      "Guarded order updates rejected because the event was not newer than the order.",
		}),
		appliedResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orderbook",
			Name:      "applied_results_total",
			Help:      "Order records applied to the order table by trigger kind.",
		}, []string{"trigger"}),
		queueJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_total",
			Help:      "Queue job outcomes (enqueued, duplicate, succeeded, retried, dead_lettered).",
		}, []string{"job", "outcome"}),
		oracleLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "lookups_total",
			Help:      "USD price lookups by the tier that answered them.",
		}, []string{"tier"}),
		pathBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "path_builds_total",
			Help:      "Execution path builds by outcome.",
		}, []string{"outcome"}),
		deriveBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orderbook",
			Name:      "derive_batch_events",
			Help:      "Pool events per derivation batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}

	reg.MustRegister(
		m.derivedRecords,
		m.derivationFailures,
		m.guardNoops,
		m.appliedResults,
		m.queueJobs,
		m.oracleLookups,
		m.pathBuilds,
		m.deriveBatchSize,
	)
	return m
}

// RecordDerived counts one derived record.
func (m *Metrics) RecordDerived(side, action string) {
	if m == nil {
		return
	}
	m.derivedRecords.WithLabelValues(side, action).Inc()
}

// DerivationFailed counts a skipped unit of work ("pool" or "token").
func (m *Metrics) DerivationFailed(unit string) {
	if m == nil {
		return
	}
	m.derivationFailures.WithLabelValues(unit).Inc()
}

// GuardNoop counts an update rejected by the timestamp guard.
func (m *Metrics) GuardNoop() {
	if m == nil {
		return
	}
	m.guardNoops.Inc()
}

// Applied counts an applied record.
func (m *Metrics) Applied(trigger string) {
	if m == nil {
		return
	}
	m.appliedResults.WithLabelValues(trigger).Inc()
}

// QueueJob counts a queue outcome.
func (m *Metrics) QueueJob(job, outcome string) {
	if m == nil {
		return
	}
	m.queueJobs.WithLabelValues(job, outcome).Inc()
}

// OracleLookup counts a lookup answered by tier.
func (m *Metrics) OracleLookup(tier string) {
	if m == nil {
		return
	}
	m.oracleLookups.WithLabelValues(tier).Inc()
}

// PathBuild counts a path build outcome.
func (m *Metrics) PathBuild(outcome string) {
	if m == nil {
		return
	}
	m.pathBuilds.WithLabelValues(outcome).Inc()
}

// DeriveBatch observes the size of one derivation batch.
func (m *Metrics) DeriveBatch(events int) {
	if m == nil {
		return
	}
	m.deriveBatchSize.Observe(float64(events))
}
