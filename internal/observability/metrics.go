package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the translation core.
type Metrics struct {
	// Ingest metrics
	IngestPatchesTotal    *prometheus.CounterVec
	IngestStaleTotal      *prometheus.CounterVec
	IngestRejectedTotal   *prometheus.CounterVec
	IngestMailboxDepth    *prometheus.GaugeVec

	// Segment processor metrics
	SegmentsEmittedTotal  *prometheus.CounterVec
	SegmentDebounceMs     *prometheus.HistogramVec

	// Translation metrics
	TranslationRequestsTotal *prometheus.CounterVec
	TranslationLatencyMs     *prometheus.HistogramVec
	TranslationFailedTotal   *prometheus.CounterVec
	TranslationCacheHits     *prometheus.CounterVec
	TranslationCacheEvictions *prometheus.CounterVec
	TranslationCircuitOpen   *prometheus.GaugeVec

	// TTS metrics
	TTSEnqueuedTotal      *prometheus.CounterVec
	TTSSynthesizedTotal   *prometheus.CounterVec
	TTSFailedTotal        *prometheus.CounterVec
	TTSBacklogSeconds     *prometheus.GaugeVec
	TTSFastProfileActive  *prometheus.GaugeVec

	// Room Hub metrics
	RoomListenersByRole   *prometheus.GaugeVec
	RoomBroadcastTotal    *prometheus.CounterVec
	RoomListenerDropped   *prometheus.CounterVec
	RoomWatchdogTriggered *prometheus.CounterVec
	RoomsActive           *prometheus.GaugeVec

	// Store metrics
	StoreOpDuration *prometheus.HistogramVec
	StoreErrors     *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
// All metrics follow naming convention: core_<subsystem>_<metric>_<unit>
// Complexity: O(1)
func NewMetrics() *Metrics {
	return &Metrics{
		IngestPatchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_ingest_patches_total",
				Help: "Total number of patches accepted by the ingest surface",
			},
			[]string{"room_id", "transport"}, // transport: http, ws
		),

		IngestStaleTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_ingest_stale_total",
				Help: "Total number of patches dropped as stale",
			},
			[]string{"room_id"},
		),

		IngestRejectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_ingest_rejected_total",
				Help: "Total number of patches rejected (validation or mailbox overflow)",
			},
			[]string{"room_id", "reason"}, // reason: schema, mailbox_full, rate_limited
		),

		IngestMailboxDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "core_ingest_mailbox_depth",
				Help: "Current depth of a room's ingest mailbox",
			},
			[]string{"room_id"},
		),

		SegmentsEmittedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_segments_emitted_total",
				Help: "Total number of segments emitted by the processor",
			},
			[]string{"room_id", "stage"}, // stage: soft, hard
		),

		SegmentDebounceMs: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "core_segment_debounce_milliseconds",
				Help:    "Time a hard segment was held for final debounce",
				Buckets: []float64{0, 50, 100, 180, 250, 500},
			},
			[]string{"room_id"},
		),

		TranslationRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_translation_requests_total",
				Help: "Total number of translation provider calls",
			},
			[]string{"lang", "status"}, // status: success, retried, failed
		),

		TranslationLatencyMs: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "core_translation_latency_milliseconds",
				Help:    "Translation provider call latency in milliseconds",
				Buckets: []float64{50, 100, 250, 500, 1000, 1500, 3000},
			},
			[]string{"lang"},
		),

		TranslationFailedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_translation_failed_total",
				Help: "Total number of translations that fell back to identity",
			},
			[]string{"lang"},
		),

		TranslationCacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_translation_cache_hits_total",
				Help: "Total number of translation memo cache hits",
			},
			[]string{"room_id"},
		),

		TranslationCacheEvictions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_translation_cache_evictions_total",
				Help: "Total number of translation memo cache evictions",
			},
			[]string{"room_id"},
		),

		TranslationCircuitOpen: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "core_translation_circuit_open",
				Help: "1 if the translation provider circuit breaker is open",
			},
			[]string{"provider"},
		),

		TTSEnqueuedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_tts_enqueued_total",
				Help: "Total number of TTS items enqueued",
			},
			[]string{"room_id", "lang"},
		),

		TTSSynthesizedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_tts_synthesized_total",
				Help: "Total number of TTS items successfully synthesized",
			},
			[]string{"room_id", "lang", "profile"}, // profile: normal, fast
		),

		TTSFailedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_tts_failed_total",
				Help: "Total number of TTS items that failed synthesis entirely (text-only delivery)",
			},
			[]string{"room_id", "lang"},
		),

		TTSBacklogSeconds: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "core_tts_backlog_seconds",
				Help: "Estimated queued+synthesizing TTS duration",
			},
			[]string{"room_id", "lang"},
		),

		TTSFastProfileActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "core_tts_fast_profile_active",
				Help: "1 if the (room,lang) queue is currently using the fast synthesis profile",
			},
			[]string{"room_id", "lang"},
		),

		RoomListenersByRole: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "core_room_listeners",
				Help: "Number of connected listeners by role",
			},
			[]string{"room_id", "role"},
		),

		RoomBroadcastTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_room_broadcast_total",
				Help: "Total number of messages broadcast to listeners",
			},
			[]string{"room_id", "kind"}, // kind: patch, tts, snapshot
		),

		RoomListenerDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_room_listener_dropped_total",
				Help: "Total number of listeners disconnected for backpressure",
			},
			[]string{"room_id"},
		),

		RoomWatchdogTriggered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_room_watchdog_triggered_total",
				Help: "Total number of watchdog restart advisories emitted",
			},
			[]string{"room_id"},
		),

		RoomsActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "core_rooms_active",
				Help: "Number of rooms currently alive",
			},
			[]string{},
		),

		StoreOpDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "core_store_op_duration_milliseconds",
				Help:    "State store operation duration in milliseconds",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
			},
			[]string{"backend", "op"},
		),

		StoreErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_store_errors_total",
				Help: "Total number of state store errors",
			},
			[]string{"backend", "op"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "core_http_request_duration_milliseconds",
				Help:    "HTTP request duration in milliseconds",
				Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
			},
			[]string{"method", "path"},
		),

		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "core_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
	}
}
