package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordDerived("sell", "upsert")
	m.RecordDerived("sell", "upsert")
	m.GuardNoop()
	m.QueueJob("order-updates-by-id", "dead_lettered")

	require.Equal(t, 2.0, testutil.ToFloat64(m.derivedRecords.WithLabelValues("sell", "upsert")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.guardNoops))
	require.Equal(t, 1.0, testutil.ToFloat64(m.queueJobs.WithLabelValues("order-updates-by-id", "dead_lettered")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.RecordDerived("buy", "cancel")
		m.DerivationFailed("pool")
		m.GuardNoop()
		m.Applied("reprice")
		m.QueueJob("x", "retried")
		m.OracleLookup("memory")
		m.PathBuild("ok")
		m.DeriveBatch(3)
	})
}
