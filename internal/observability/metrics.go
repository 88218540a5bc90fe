package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for ParaCover.
type Metrics struct {
	// --- Ledger operations ---
	OpsApplied   *prometheus.CounterVec
	OpsRejected  *prometheus.CounterVec
	OpDuration   *prometheus.HistogramVec
	LastSequence prometheus.Gauge

	// --- Policies ---
	PoliciesCreated prometheus.Counter
	PoliciesActive  prometheus.Gauge
	ClaimsSettled   prometheus.Counter
	PoliciesExpired prometheus.Counter
	PremiumsTotal   prometheus.Counter
	PayoutsTotal    prometheus.Counter

	// --- Capital pool ---
	PoolTotalAssets prometheus.Gauge
	PoolTotalShares prometheus.Gauge
	PoolDeposits    *prometheus.CounterVec
	PoolWithdrawals *prometheus.CounterVec

	// --- Escrows ---
	EscrowsActive    prometheus.Gauge
	EscrowsDeposited prometheus.Gauge

	// --- Oracle ingestion ---
	OracleReports    *prometheus.CounterVec
	OracleDuplicates prometheus.Counter
	OracleParseErrs  prometheus.Counter
	DedupLRUSize     prometheus.Gauge
	DedupEvictions   prometheus.Counter
	IngestLatency    *prometheus.HistogramVec

	// --- Channels & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Persistence ---
	PersistRecordsWritten prometheus.Counter
	PersistBatchSize      prometheus.Histogram
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistLastSequence   prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_ops_applied_total",
			Help: "Ledger operations applied successfully",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_ops_rejected_total",
			Help: "Ledger operations rejected, by error kind",
		}, []string{"op", "kind"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cover_op_duration_seconds",
			Help:    "Time to apply one ledger operation",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		LastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cover_record_sequence",
			Help: "Current record sequence number",
		}),

		PoliciesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cover_policies_created_total",
			Help: "Policies sold",
		}),

		PoliciesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cover_policies_active",
			Help: "Policies currently in force",
		}),

		ClaimsSettled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cover_claims_settled_total",
			Help: "Claims settled and paid",
		}),

		PoliciesExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cover_policies_expired_total",
			Help: "Policies expired without claim",
		}),

		PremiumsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cover_premiums_collected_total",
			Help: "Total premium units collected",
		}),

		PayoutsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cover_payouts_total",
			Help: "Total payout units disbursed",
		}),

		PoolTotalAssets: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cover_pool_total_assets",
			Help: "Capital pool accounted assets",
		}),

		PoolTotalShares: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cover_pool_total_shares",
			Help: "Capital pool shares outstanding",
		}),

		PoolDeposits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_pool_deposits_total",
			Help: "Pool deposit operations (direct/authorized)",
		}, []string{"path"}),

		PoolWithdrawals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_pool_withdrawals_total",
			Help: "Pool withdrawal operations (direct/authorized)",
		}, []string{"path"}),

		EscrowsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cover_escrows_active",
			Help: "Event escrows currently active",
		}),

		EscrowsDeposited: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cover_escrows_deposited_units",
			Help: "Capital units held across active escrows",
		}),

		OracleReports: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_oracle_reports_total",
			Help: "Oracle delay reports processed, by outcome",
		}, []string{"outcome"}),

		OracleDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cover_oracle_duplicates_total",
			Help: "Duplicate delay reports caught by the LRU",
		}),

		OracleParseErrs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cover_oracle_parse_errors_total",
			Help: "Delay reports rejected as malformed",
		}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cover_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cover_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		IngestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cover_ingest_latency_seconds",
			Help:    "NATS receive to settlement complete",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cover_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cover_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cover_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cover_publish_drops_total",
			Help: "Records dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cover_persist_backpressure_total",
			Help: "Times the writer blocked on the persist channel",
		}),

		PersistRecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cover_persist_records_written_total",
			Help: "Records written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "cover_persist_batch_size",
			Help:    "Records per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "cover_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cover_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cover_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cover_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
