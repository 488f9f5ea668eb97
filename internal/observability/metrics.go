package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for GebLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreEntitiesStaged prometheus.Histogram
	CoreLastBlock      prometheus.Gauge

	// --- Ingestion ---
	IngestToApply     *prometheus.HistogramVec
	ParseErrors       *prometheus.CounterVec
	IngestStalled     prometheus.Gauge
	PermanentFailures *prometheus.CounterVec

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Errors      prometheus.Counter
	EventOutOfOrder       prometheus.Counter

	// --- Ledger signals ---
	NegativeBalances *prometheus.CounterVec
	BootstrapReads   prometheus.Counter

	// --- Persistence ---
	PersistApplyDuration prometheus.Histogram
	PersistRecords       prometheus.Counter
	PersistErrors        *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.00005, 0.0001, 0.00025, 0.0005,
		0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
	}

	return &Metrics{
		CoreEventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gebledger_core_events_applied_total",
			Help: "Events successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gebledger_core_events_rejected_total",
			Help: "Events rejected (duplicate, out_of_order, handler, commit)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gebledger_core_event_apply_duration_seconds",
			Help:    "Time to apply and commit a single event",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreEntitiesStaged: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gebledger_core_entities_per_event",
			Help:    "Entity documents written per event",
			Buckets: []float64{1, 2, 4, 6, 8, 10, 15, 20},
		}),

		CoreLastBlock: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gebledger_core_last_block",
			Help: "Block number of the last applied event",
		}),

		IngestToApply: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gebledger_ingest_to_apply_seconds",
			Help:    "NATS receive to core commit",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		ParseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gebledger_ingest_parse_errors_total",
			Help: "Inbound messages that failed to parse",
		}, []string{"event_type"}),

		IngestStalled: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gebledger_ingest_stalled",
			Help: "1 while the head event fails on every delivery and needs operator action",
		}),

		PermanentFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gebledger_ingest_permanent_failures_total",
			Help: "Deliveries that failed with an error that recurs on redelivery",
		}, []string{"event_type"}),

		IdempotencyDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gebledger_idempotency_duplicates_total",
			Help: "Redelivered events skipped",
		}, []string{"event_type"}),

		DedupLRUSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gebledger_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "gebledger_dedup_lru_evictions_total",
			Help: "Keys evicted from the dedup LRU",
		}),

		DedupTier2Errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "gebledger_dedup_tier2_errors_total",
			Help: "Processed-event store lookups that failed",
		}),

		EventOutOfOrder: factory.NewCounter(prometheus.CounterOpts{
			Name: "gebledger_event_out_of_order_total",
			Help: "Events rejected for arriving behind the applied position",
		}),

		NegativeBalances: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gebledger_negative_balance_total",
			Help: "Collateral or coin balances observed below zero",
		}, []string{"ledger"}),

		BootstrapReads: factory.NewCounter(prometheus.CounterOpts{
			Name: "gebledger_bootstrap_reads_total",
			Help: "Accounting engine bootstrap chain reads",
		}),

		PersistApplyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gebledger_persist_apply_duration_seconds",
			Help:    "Postgres transaction duration per event",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "gebledger_persist_records_written_total",
			Help: "Entity documents upserted",
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gebledger_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),
	}
}
