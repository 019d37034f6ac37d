package server

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// masterMetrics are the metrics of one executor. Every executor has its own
// set, so that several masters can live in one process (tests).
type masterMetrics struct {
	set                *metrics.Set
	failedResponses    *metrics.Counter
	deadlocks          *metrics.Counter
	packedTransactions *metrics.Counter
	commitDuration     *metrics.Histogram
}

func newMasterMetrics(m *MasterImpl) *masterMetrics {
	set := metrics.NewSet()
	set.NewGauge("dha_master_active_contexts", func() float64 {
		return float64(m.contexts.Size())
	})
	set.NewGauge("dha_master_bound_connections", func() float64 {
		m.connMu.Lock()
		defer m.connMu.Unlock()
		return float64(len(m.connections))
	})
	set.NewGauge("dha_master_bound_contexts", func() float64 {
		return float64(m.BoundContexts())
	})
	set.NewGauge("dha_master_relationship_types", func() float64 {
		return float64(m.tokens.Size())
	})
	return &masterMetrics{
		set:                set,
		failedResponses:    set.NewCounter("dha_master_failed_responses_total"),
		deadlocks:          set.NewCounter("dha_master_deadlocks_total"),
		packedTransactions: set.NewCounter("dha_master_packed_transactions_total"),
		commitDuration:     set.NewHistogram("dha_master_commit_duration_seconds"),
	}
}

// requestCounter returns the counter of handled requests of a type
func (mm *masterMetrics) requestCounter(requestType string) *metrics.Counter {
	return mm.set.GetOrCreateCounter(fmt.Sprintf(`dha_master_requests_total{type=%q}`, requestType))
}

// requestDuration returns the duration histogram of a request type
func (mm *masterMetrics) requestDuration(requestType string) *metrics.Histogram {
	return mm.set.GetOrCreateHistogram(fmt.Sprintf(`dha_master_request_duration_seconds{type=%q}`, requestType))
}

// WritePrometheus writes the metrics of the master in Prometheus text format
func (m *MasterImpl) WritePrometheus(w io.Writer) {
	m.metrics.set.WritePrometheus(w)
}
