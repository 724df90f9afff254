// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides instrumentation for:
// - Device contact ingestion (MQTT gateway)
// - Chunk reassembly and transfer progress
// - Session accounting and alerts
// - Database query performance (DuckDB)
// - Blob storage uploads (MinIO)
// - Internal messaging (NATS JetStream)

var (
	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets, // 0.005s, 0.01s, 0.025s, 0.05s, 0.1s, 0.25s, 0.5s, 1s, 2.5s, 5s, 10s
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	DBConnectionPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duckdb_connection_pool_size",
			Help: "Current number of database connections in use",
		},
	)

	// Contact Metrics (MQTT gateway)
	ContactsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contacts_received_total",
			Help: "Total number of device contacts received",
		},
		[]string{"kind", "result"}, // kind: "alive", "metadata", "chunk"; result: "accepted", "rejected"
	)

	ContactDecodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contact_decode_failures_total",
			Help: "Total number of device messages that failed to decode or validate",
		},
		[]string{"kind"},
	)

	MQTTConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mqtt_connected",
			Help: "Whether the MQTT broker connection is up (1) or down (0)",
		},
	)

	MQTTReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mqtt_reconnects_total",
			Help: "Total number of MQTT broker reconnect attempts",
		},
	)

	CommandsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commands_published_total",
			Help: "Total number of server-to-device messages published",
		},
		[]string{"command"}, // "missing_chunks", "ack_ok", "send_image", "capture_image", "next_wake"
	)

	CommandRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "command_rate_limited_total",
			Help: "Total number of device commands delayed by the per-device rate limiter",
		},
	)

	// Assembly Metrics
	AssemblyChunksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assembly_chunks_received_total",
			Help: "Total number of chunks routed into reassembly buffers",
		},
		[]string{"result"}, // "accepted", "duplicate", "unknown_image", "out_of_range"
	)

	AssemblyActiveBuffers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assembly_active_buffers",
			Help: "Current number of images being reassembled",
		},
	)

	AssemblyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assembly_duration_seconds",
			Help:    "Time from metadata arrival to complete reassembly in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}, // Chunked transfers run seconds to minutes
		},
	)

	AssemblyMissingRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assembly_missing_requests_total",
			Help: "Total number of missing-chunk requests sent to devices",
		},
	)

	AssemblyMissingChunks = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assembly_missing_chunks",
			Help:    "Number of chunks requested per resend round",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	AssemblyTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assembly_timeouts_total",
			Help: "Total number of reassembly buffers abandoned by the timeout sweep",
		},
	)

	AssemblyResendExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assembly_resend_exhausted_total",
			Help: "Total number of images failed after exhausting resend rounds",
		},
	)

	// Image Metrics
	ImagesCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "images_completed_total",
			Help: "Total number of images fully received, stored and recorded",
		},
	)

	ImagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "images_failed_total",
			Help: "Total number of images that failed ingestion",
		},
		[]string{"reason"}, // "timeout", "resend_exhausted", "device_fault", "lineage", "storage"
	)

	ImageBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "image_bytes",
			Help:    "Size of completed images in bytes",
			Buckets: []float64{10240, 25600, 51200, 102400, 256000, 512000, 1048576}, // ESP32-CAM JPEGs run 10KB-1MB
		},
	)

	ImageTransferDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "image_transfer_duration_seconds",
			Help:    "Wall time of complete image transfers in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	ImageRetriesRequested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_retries_requested_total",
			Help: "Total number of retransmit commands sent for stored images",
		},
	)

	ImageRetriesCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_retries_completed_total",
			Help: "Total number of retransmitted images that reached an observation",
		},
	)

	// Session Metrics
	SessionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_opened_total",
			Help: "Total number of daily site sessions opened",
		},
	)

	SessionsLocked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_locked_total",
			Help: "Total number of daily site sessions locked",
		},
	)

	SessionCompleteness = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "session_completeness_percent",
			Help:    "Completeness of locked sessions as a percentage of expected wakes",
			Buckets: []float64{0, 10, 25, 50, 75, 90, 95, 100},
		},
	)

	SessionAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_alerts_total",
			Help: "Total number of alerts raised during session accounting",
		},
		[]string{"alert_type"}, // "silent_device", "low_completeness", "image_failed", "roster_changed"
	)

	WakeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wake_events_total",
			Help: "Total number of wake events recorded",
		},
		[]string{"overage"}, // "true" when the contact fell outside the wake window tolerance
	)

	// Blob Storage Metrics (MinIO)
	BlobUploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blob_upload_duration_seconds",
			Help:    "Duration of blob store uploads in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BlobUploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blob_upload_bytes_total",
			Help: "Total number of bytes uploaded to the blob store",
		},
	)

	BlobUploadErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blob_upload_errors_total",
			Help: "Total number of failed blob store uploads",
		},
	)

	// Cache Metrics (General)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"}, // "lineage"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"cache_type"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total number of cache evictions (TTL expiry)",
		},
		[]string{"cache_type"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// NATS Event Processing Metrics
	NATSMessagesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_messages_published_total",
			Help: "Total number of messages published to NATS",
		},
	)

	NATSMessagesConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_messages_consumed_total",
			Help: "Total number of messages consumed from NATS",
		},
	)

	NATSMessagesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_messages_processed_total",
			Help: "Total number of messages successfully processed",
		},
	)

	NATSMessagesParseFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_messages_parse_failed_total",
			Help: "Total number of messages that failed to parse",
		},
	)

	NATSProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nats_processing_duration_seconds",
			Help:    "Duration of NATS message processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	NATSPoisonMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_poison_messages_total",
			Help: "Total number of messages routed to the poison subject",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}, // Optimized for API latency
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		errorType := err.Error()
		// Truncate long error messages
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
		DBQueryErrors.WithLabelValues(operation, table, errorType).Inc()
	}
}

// RecordContact records a device contact and its outcome
func RecordContact(kind string, accepted bool) {
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	ContactsReceived.WithLabelValues(kind, result).Inc()
}

// RecordDecodeFailure records an undecodable device message
func RecordDecodeFailure(kind string) {
	ContactDecodeFailures.WithLabelValues(kind).Inc()
}

// SetMQTTConnected updates the broker connectivity gauge
func SetMQTTConnected(connected bool) {
	if connected {
		MQTTConnected.Set(1)
	} else {
		MQTTConnected.Set(0)
	}
}

// RecordCommand records a server-to-device message by command type
func RecordCommand(command string) {
	CommandsPublished.WithLabelValues(command).Inc()
}

// RecordChunk records a chunk disposition from the assembler
func RecordChunk(result string) {
	AssemblyChunksReceived.WithLabelValues(result).Inc()
}

// RecordMissingRequest records a missing-chunk resend round
func RecordMissingRequest(missingCount int) {
	AssemblyMissingRequests.Inc()
	AssemblyMissingChunks.Observe(float64(missingCount))
}

// RecordImageCompleted records a fully ingested image
func RecordImageCompleted(sizeBytes int64, transferDuration time.Duration) {
	ImagesCompleted.Inc()
	ImageBytes.Observe(float64(sizeBytes))
	ImageTransferDuration.Observe(transferDuration.Seconds())
}

// RecordImageFailed records a failed image by reason
func RecordImageFailed(reason string) {
	ImagesFailed.WithLabelValues(reason).Inc()
}

// RecordWakeEvent records a wake event and whether it fell outside tolerance
func RecordWakeEvent(overage bool) {
	overageStr := "false"
	if overage {
		overageStr = "true"
	}
	WakeEvents.WithLabelValues(overageStr).Inc()
}

// RecordSessionLocked records a session lock with its completeness percentage
func RecordSessionLocked(completenessPercent float64) {
	SessionsLocked.Inc()
	SessionCompleteness.Observe(completenessPercent)
}

// RecordAlert records a session alert by type
func RecordAlert(alertType string) {
	SessionAlerts.WithLabelValues(alertType).Inc()
}

// RecordBlobUpload records a blob store upload
func RecordBlobUpload(duration time.Duration, sizeBytes int64, err error) {
	BlobUploadDuration.Observe(duration.Seconds())
	if err != nil {
		BlobUploadErrors.Inc()
		return
	}
	BlobUploadBytes.Add(float64(sizeBytes))
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordNATSPublish records a message being published to NATS
func RecordNATSPublish() {
	NATSMessagesPublished.Inc()
}

// RecordNATSConsume records a message being consumed from NATS
func RecordNATSConsume() {
	NATSMessagesConsumed.Inc()
}

// RecordNATSProcessed records a message being successfully processed
func RecordNATSProcessed() {
	NATSMessagesProcessed.Inc()
}

// RecordNATSParseFailed records a message that failed to parse
func RecordNATSParseFailed() {
	NATSMessagesParseFailed.Inc()
}

// RecordNATSProcessingDuration records the duration of message processing
func RecordNATSProcessingDuration(duration time.Duration) {
	NATSProcessingDuration.Observe(duration.Seconds())
}

// RecordNATSPoison records a message routed to the poison subject
func RecordNATSPoison() {
	NATSPoisonMessages.Inc()
}
