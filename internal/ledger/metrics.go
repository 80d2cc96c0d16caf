package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transfersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_transfers_created_total",
		Help: "Pending transfers created",
	})

	settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_settlements_total",
		Help: "Approval outcomes, labeled by resulting status and whether the transfer was already terminal",
	}, []string{"status", "replay"})

	txConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_tx_conflicts_total",
		Help: "Store transactions aborted by a write conflict",
	}, []string{"op"})

	txRetriesExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_tx_retries_exhausted_total",
		Help: "Operations that gave up after the maximum number of conflicting attempts",
	}, []string{"op"})

	txDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_tx_duration_seconds",
		Help:    "Latency of ledger operations including retries",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"op"})
)
