package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowthis_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "knowthis_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Rate governor metrics (spec §4.1)
	GovernorAdmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowthis_governor_admissions_total",
			Help: "Total number of calls admitted by the rate governor",
		},
		[]string{"provider", "endpoint"},
	)

	GovernorWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "knowthis_governor_wait_duration_seconds",
			Help:    "Time a caller spent parked waiting for governor admission",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "endpoint"},
	)

	GovernorThrottles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowthis_governor_throttles_total",
			Help: "Total number of upstream retry-after hints applied to a governor window",
		},
		[]string{"provider", "endpoint"},
	)

	// Ingestion metrics (spec §4.6)
	IngestionMessagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowthis_ingestion_messages_fetched_total",
			Help: "Total number of messages pulled from chat history during ingestion",
		},
		[]string{"channel_id"},
	)

	IngestionMessagesEmbedded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowthis_ingestion_messages_embedded_total",
			Help: "Total number of message chunks sent to the embedding provider",
		},
		[]string{"channel_id"},
	)

	IngestionMessagesUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowthis_ingestion_messages_upserted_total",
			Help: "Total number of vectors written to the vector store",
		},
		[]string{"channel_id"},
	)

	IngestionErrorsByKind = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowthis_ingestion_errors_total",
			Help: "Total number of ingestion errors, labeled by error taxonomy kind",
		},
		[]string{"kind"},
	)

	IngestionRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "knowthis_ingestion_run_duration_seconds",
			Help:    "Duration of a full ingestion run across all channels",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Search metrics (spec §4.7)
	SearchQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowthis_search_queries_total",
			Help: "Total number of search_messages invocations",
		},
		[]string{"status"},
	)

	SearchCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowthis_search_cache_hits_total",
			Help: "Total number of search responses served from cache",
		},
		[]string{"hit"},
	)

	SearchQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "knowthis_search_query_duration_seconds",
			Help:    "Duration of a search_messages call, cache hits included",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Request server / JSON-RPC metrics (spec §4.9)
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowthis_rpc_requests_total",
			Help: "Total number of JSON-RPC requests, labeled by method and response code",
		},
		[]string{"method", "code"},
	)

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "knowthis_rpc_request_duration_seconds",
			Help:    "Duration of a JSON-RPC request handled end to end",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RPCSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "knowthis_rpc_sessions_active",
			Help: "Number of sessions created since startup (expired sessions are not subtracted)",
		},
	)

	// Embedding provider metrics
	EmbeddingGenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowthis_embedding_generations_total",
			Help: "Total number of embedding generations",
		},
		[]string{"status"},
	)

	EmbeddingGenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "knowthis_embedding_generation_duration_seconds",
			Help:    "Duration of embedding generation in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Vector store metrics
	VectorStoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowthis_vectorstore_operations_total",
			Help: "Total number of vector store operations",
		},
		[]string{"operation", "status"},
	)

	VectorStoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "knowthis_vectorstore_operation_duration_seconds",
			Help:    "Duration of vector store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	TotalVectors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "knowthis_total_vectors",
			Help: "Total number of vectors currently in the store",
		},
	)
)
