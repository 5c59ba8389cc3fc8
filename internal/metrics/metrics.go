package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Chat turn metrics
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memtier_chat_turns_total",
			Help: "Total number of chat turns served",
		},
		[]string{"mode", "status"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memtier_chat_turn_duration_seconds",
			Help:    "End-to-end chat turn duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"mode"},
	)

	RetrievalFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memtier_retrieval_fetch_duration_seconds",
			Help:    "Duration of the parallel cache fetches per turn",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// Memory write-path metrics
	MemoryDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memtier_memory_decisions_total",
			Help: "Write-path decisions by outcome",
		},
		[]string{"outcome"},
	)

	CandidatesExtracted = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memtier_memory_candidates_extracted",
			Help:    "Candidate memories extracted per exchange",
			Buckets: []float64{0, 1, 2},
		},
	)

	MemoryMetadataBumps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memtier_memory_metadata_bumps_total",
			Help: "Retrieval-induced frequency/recency reinforcements",
		},
	)

	// Oracle metrics
	OracleCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memtier_oracle_calls_total",
			Help: "LLM oracle calls by kind and status",
		},
		[]string{"kind", "status"},
	)

	OracleCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memtier_oracle_call_duration_seconds",
			Help:    "LLM oracle call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"kind"},
	)

	EmbeddingCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memtier_embedding_cache_hits_total",
			Help: "Embedding LRU cache hits",
		},
	)

	EmbeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memtier_embedding_cache_misses_total",
			Help: "Embedding LRU cache misses",
		},
	)

	// Pipeline metrics
	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memtier_queue_messages_published_total",
			Help: "Messages published to per-user queues",
		},
		[]string{"family", "status"},
	)

	MessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memtier_queue_messages_consumed_total",
			Help: "Messages consumed from per-user queues",
		},
		[]string{"family", "status"},
	)

	QueuesWatched = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memtier_queues_watched",
			Help: "Per-user queues currently consumed",
		},
		[]string{"family"},
	)

	QueuesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memtier_queues_deleted_total",
			Help: "Idle per-user queues deleted by the janitor",
		},
	)

	// Session metrics
	SessionLogins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memtier_session_logins_total",
			Help: "Total user logins",
		},
	)

	SessionLogouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memtier_session_logouts_total",
			Help: "Total user logouts",
		},
	)

	RecordsSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memtier_records_synced_total",
			Help: "Records upserted to the store at logout",
		},
		[]string{"kind"},
	)

	RecordsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memtier_records_dropped_total",
			Help: "Records dropped by logout validation",
		},
	)
)
