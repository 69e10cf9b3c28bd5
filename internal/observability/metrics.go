package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PoolLedger. Registration goes to
// the default registry, so NewMetrics is called once per process.
type Metrics struct {
	// --- Engine ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	Journals         *prometheus.CounterVec
	StateHashDur     prometheus.Histogram
	Sequence         prometheus.Gauge

	// --- Orders ---
	OrderFailures *prometheus.CounterVec
	KeeperFees    *prometheus.CounterVec

	// --- Risk ---
	Liquidations   *prometheus.CounterVec
	AdlExecutions  *prometheus.CounterVec
	AdlStateChange *prometheus.CounterVec

	// --- Latency ---
	IngestToApply   *prometheus.HistogramVec
	NATSPullLatency *prometheus.HistogramVec
	PersistBatchDur prometheus.Histogram

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	SnapshotCacheHits *prometheus.CounterVec
	ReplayEventsTotal prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001,
		0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.05,
	}

	return &Metrics{
		CommandsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_engine_commands_applied_total",
			Help: "Commands applied by the engine",
		}, []string{"event_type"}),

		CommandsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_engine_commands_rejected_total",
			Help: "Commands rejected (duplicate, ordering, error class)",
		}, []string{"event_type", "reason"}),

		CommandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pool_engine_command_duration_seconds",
			Help:    "Time to apply a single command",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		Journals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_engine_journals_total",
			Help: "Custody journal entries generated",
		}, []string{"journal_type"}),

		StateHashDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_engine_state_hash_duration_seconds",
			Help:    "Time to compute the state hash",
			Buckets: latencyBuckets,
		}),

		Sequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_engine_sequence",
			Help: "Next engine sequence",
		}),

		OrderFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_order_execution_failures_total",
			Help: "Failed order executions by resulting action",
		}, []string{"order_type", "action"}),

		KeeperFees: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_order_keeper_fees_total",
			Help: "Execution fees paid to keepers, raw token units",
		}, []string{"token"}),

		Liquidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_liquidations_total",
			Help: "Positions liquidated",
		}, []string{"market", "side"}),

		AdlExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_adl_executions_total",
			Help: "Auto-deleverage executions",
		}, []string{"market", "side"}),

		AdlStateChange: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_adl_state_changes_total",
			Help: "ADL flag transitions",
		}, []string{"market", "side", "enabled"}),

		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pool_ingest_to_apply_seconds",
			Help:    "Latency from ingestion to engine apply",
			Buckets: latencyBuckets,
		}, []string{"source"}),

		NATSPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pool_nats_pull_latency_seconds",
			Help:    "Latency of NATS pull requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"stream"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_persist_batch_duration_seconds",
			Help:    "Time to write one persistence batch",
			Buckets: prometheus.DefBuckets,
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_channel_size",
			Help: "Current channel occupancy",
		}, []string{"channel"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_channel_capacity",
			Help: "Channel capacity",
		}, []string{"channel"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_channel_utilization",
			Help: "Channel size / capacity",
		}, []string{"channel"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_projection_drops_total",
			Help: "Outputs dropped because the projection channel was full",
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_publish_drops_total",
			Help: "Outbound events dropped by the publisher",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_idempotency_duplicates_total",
			Help: "Duplicate commands by detecting tier",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_dedup_lru_size",
			Help: "Entries in the dedup LRU",
		}),

		EventSequenceGap: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_command_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"source"}),

		EventOutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_command_out_of_order_total",
			Help: "Commands arriving behind their source sequence",
		}, []string{"source"}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_persist_events_written_total",
			Help: "Envelopes written to the event log",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_persist_journals_written_total",
			Help: "Journal rows written",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_persist_batch_size",
			Help:    "Envelopes per persistence batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"operation"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_persist_last_sequence",
			Help: "Last sequence written to the event log",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_snapshot_duration_seconds",
			Help:    "Time to take and store a snapshot",
			Buckets: prometheus.DefBuckets,
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		SnapshotCacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_snapshot_cache_lookups_total",
			Help: "Snapshot cache lookups by result",
		}, []string{"result"}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_replay_events_total",
			Help: "Commands replayed during recovery",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_query_requests_total",
			Help: "Query API requests",
		}, []string{"method"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pool_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_query_errors_total",
			Help: "Query API errors",
		}, []string{"method", "code"}),
	}
}

// SetChannelMetrics updates occupancy gauges for a named channel.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}

// SideLabel returns the label value for a market side.
func SideLabel(isLong bool) string {
	if isLong {
		return "long"
	}
	return "short"
}
