package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement engine.
type Metrics struct {
	// --- Settlement core ---
	SettlementsApplied  *prometheus.CounterVec
	SettlementsRejected *prometheus.CounterVec
	SettlementDuration  *prometheus.HistogramVec
	SettlementSequence  prometheus.Gauge
	TransfersExecuted   *prometheus.CounterVec
	LocksTaken          *prometheus.CounterVec
	LocksReleased       *prometheus.CounterVec

	// --- Balance operations ---
	DepositsApplied    *prometheus.CounterVec
	WithdrawalsApplied *prometheus.CounterVec
	BalanceOpRejected  *prometheus.CounterVec

	// --- Replay registry ---
	ReplayRejections *prometheus.CounterVec
	RegistrySize     prometheus.Gauge

	// --- Channels & backpressure ---
	PersistBackpressure prometheus.Counter
	PublishDrops        prometheus.Counter
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec

	// --- Persistence ---
	PersistRowsWritten prometheus.Counter
	PersistBatchSize   prometheus.Histogram
	PersistBatchDur    prometheus.Histogram
	PersistErrors      *prometheus.CounterVec
	PersistRetry       prometheus.Counter
	PersistLastSeq     prometheus.Gauge

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		SettlementsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_settlements_applied_total",
			Help: "Trade legs settled",
		}, []string{"leg"}),

		SettlementsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_settlements_rejected_total",
			Help: "Settlement calls rejected (validation, auth, replay)",
		}, []string{"leg", "reason"}),

		SettlementDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_settlement_duration_seconds",
			Help:    "Time to settle a leg inside the engine",
			Buckets: latencyBuckets,
		}, []string{"leg"}),

		SettlementSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_settlement_sequence",
			Help: "Current engine sequence number",
		}),

		TransfersExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_transfers_executed_total",
			Help: "External wallet credits executed",
		}, []string{"asset"}),

		LocksTaken: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_locks_taken_total",
			Help: "Escrow locks taken during settlement",
		}, []string{"asset"}),

		LocksReleased: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_locks_released_total",
			Help: "Escrow locks released on settlement abort",
		}, []string{"asset"}),

		DepositsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_deposits_applied_total",
			Help: "Deposits applied",
		}, []string{"asset"}),

		WithdrawalsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_withdrawals_applied_total",
			Help: "Withdrawals applied",
		}, []string{"asset"}),

		BalanceOpRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_balance_op_rejected_total",
			Help: "Deposit/withdraw rejections",
		}, []string{"op", "reason"}),

		ReplayRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_replay_rejections_total",
			Help: "Replayed (order, leg) submissions caught",
		}, []string{"leg"}),

		RegistrySize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_registry_size",
			Help: "Settled legs in the in-memory registry",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escrow_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escrow_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "escrow_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "escrow_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		PersistRowsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escrow_persist_rows_written_total",
			Help: "Ledger rows written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "escrow_persist_batch_size",
			Help:    "Outputs per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "escrow_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escrow_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"endpoint", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_http_request_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
}
