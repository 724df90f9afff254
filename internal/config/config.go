// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration loaded from defaults, an optional
// YAML file, and environment variables.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml) for persistent settings
//  3. Environment Variables: Override any setting via environment variables
//
// Configuration Categories:
//
//  1. Device Plane:
//     - MQTT: Broker connection, subscriptions, device command limits
//
//  2. Infrastructure:
//     - NATS: Contact pipeline with Watermill/NATS JetStream
//     - Database: DuckDB configuration (path, memory, threads)
//     - Blob: MinIO object storage for completed images
//
//  3. Ingestion Policy:
//     - Ingest: Wake windows, chunk buffer lifetimes, retry caps
//     - Session: Daily session locking and alert thresholds
//
//  4. Observability:
//     - Server: HTTP server for health and metrics endpoints
//     - Logging: Log levels and output formats
//
// Thread Safety:
// Config is immutable after Load() and safe for concurrent read access from
// multiple goroutines.
type Config struct {
	MQTT     MQTTConfig     `koanf:"mqtt"`
	NATS     NATSConfig     `koanf:"nats"`
	Database DatabaseConfig `koanf:"database"`
	Blob     BlobConfig     `koanf:"blob"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Session  SessionConfig  `koanf:"session"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// MQTTConfig holds broker connection settings for the device plane.
// Field devices publish status and chunk data over MQTT and receive commands
// and acknowledgements on per-device topics. The broker is the only path to
// the fleet, so the client reconnects forever with capped backoff.
//
// Environment Variables:
//   - MQTT_ENABLED: Enable the MQTT gateway (default: true)
//   - MQTT_BROKER_URL: Broker address (default: tcp://localhost:1883)
//   - MQTT_CLIENT_ID: Client identifier (default: arborlink-ingest)
//   - MQTT_USERNAME / MQTT_PASSWORD: Broker credentials (optional)
//   - MQTT_QOS: QoS for subscriptions and outbound commands (default: 1)
//   - MQTT_KEEP_ALIVE: PINGREQ interval (default: 30s)
//   - MQTT_CONNECT_TIMEOUT: Initial connect deadline (default: 10s)
//   - MQTT_RECONNECT_MAX_INTERVAL: Backoff ceiling between attempts (default: 2m)
//   - MQTT_CLEAN_SESSION: Discard broker-side session state (default: false)
//   - MQTT_COMMAND_RATE: Per-device command tokens per second (default: 1)
//   - MQTT_COMMAND_BURST: Per-device command burst size (default: 3)
type MQTTConfig struct {
	Enabled              bool          `koanf:"enabled"`                // Master toggle for the MQTT gateway
	BrokerURL            string        `koanf:"broker_url"`             // Broker address (tcp://host:1883, ssl://, ws://)
	ClientID             string        `koanf:"client_id"`              // MQTT client identifier
	Username             string        `koanf:"username"`               // Broker username (optional)
	Password             string        `koanf:"password"`               // Broker password (optional)
	QoS                  int           `koanf:"qos"`                    // Delivery QoS 0-2 for subscriptions and commands
	KeepAlive            time.Duration `koanf:"keep_alive"`             // PINGREQ interval
	ConnectTimeout       time.Duration `koanf:"connect_timeout"`        // Deadline for the initial broker connect
	ReconnectMaxInterval time.Duration `koanf:"reconnect_max_interval"` // Backoff ceiling for automatic reconnects
	CleanSession         bool          `koanf:"clean_session"`          // False keeps broker-side QoS1 queues across restarts

	// Devices sleep within seconds of a transfer finishing, so command
	// publishes are rate limited per device rather than globally.
	CommandRate  float64 `koanf:"command_rate"`  // Tokens per second per device
	CommandBurst int     `koanf:"command_burst"` // Burst size per device
}

// NATSConfig holds settings for the internal contact pipeline. Raw MQTT
// contacts are republished into JetStream so ingestion survives restarts and
// bursts without dropping device transmissions.
//
// Environment Variables:
//   - NATS_ENABLED: Enable the pipeline (default: true)
//   - NATS_URL: Server address (default: nats://127.0.0.1:4222)
//   - NATS_EMBEDDED: Run the embedded server in-process (default: true)
//   - NATS_STORE_DIR: JetStream storage directory
//   - NATS_MAX_MEMORY / NATS_MAX_STORE: Storage limits in bytes
//   - NATS_RETENTION_DAYS: Contact stream retention (default: 7)
//   - NATS_SUBSCRIBERS: Concurrent pipeline consumers (default: 4)
type NATSConfig struct {
	Enabled             bool          `koanf:"enabled"`               // Master toggle for the event pipeline
	URL                 string        `koanf:"url"`                   // Server address (nats://host:4222)
	EmbeddedServer      bool          `koanf:"embedded_server"`       // Run nats-server in-process
	StoreDir            string        `koanf:"store_dir"`             // JetStream storage directory
	MaxMemory           int64         `koanf:"max_memory"`            // JetStream memory limit (bytes)
	MaxStore            int64         `koanf:"max_store"`             // JetStream disk limit (bytes)
	StreamRetentionDays int           `koanf:"stream_retention_days"` // Contact stream retention
	SubscribersCount    int           `koanf:"subscribers_count"`     // Concurrent consumers on the contact stream
	DurableName         string        `koanf:"durable_name"`          // Durable consumer name
	QueueGroup          string        `koanf:"queue_group"`           // Queue group for load-balanced consumption
	FlushInterval       time.Duration `koanf:"flush_interval"`        // Publisher flush interval

	// Router middleware (Watermill Router)
	RouterRetryCount           int           `koanf:"router_retry_count"`            // Handler retries before poison queue
	RouterRetryInitialInterval time.Duration `koanf:"router_retry_initial_interval"` // First retry backoff
	RouterPoisonQueueEnabled   bool          `koanf:"router_poison_queue_enabled"`   // Park unprocessable contacts
	RouterPoisonQueueTopic     string        `koanf:"router_poison_queue_topic"`     // Poison queue topic name
	RouterCloseTimeout         time.Duration `koanf:"router_close_timeout"`          // Graceful router shutdown deadline
}

// DatabaseConfig holds DuckDB connection settings. DuckDB stores devices,
// sessions, wake events, images, and observations in a single local file.
//
// Environment Variables:
//   - DUCKDB_PATH: Database file path (default: /data/arborlink.duckdb)
//   - DUCKDB_MAX_MEMORY: Memory limit (default: 2GB)
//   - DUCKDB_THREADS: Thread count (default: 0 = CPU count)
type DatabaseConfig struct {
	Path                   string `koanf:"path"`                     // Database file path
	MaxMemory              string `koanf:"max_memory"`               // DuckDB memory_limit pragma (e.g. "2GB")
	Threads                int    `koanf:"threads"`                  // 0 = use runtime.NumCPU()
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"` // DuckDB default
}

// BlobConfig holds MinIO object storage settings. Completed images are
// uploaded under a lineage-derived object path and referenced from
// observation rows by URL.
//
// Environment Variables:
//   - BLOB_ENABLED: Enable uploads (default: true)
//   - MINIO_ENDPOINT: Server address without scheme (default: localhost:9000)
//   - MINIO_ACCESS_KEY / MINIO_SECRET_KEY: Credentials (required when enabled)
//   - MINIO_BUCKET: Target bucket (default: arborlink-images)
//   - MINIO_REGION: Bucket region (optional)
//   - MINIO_USE_SSL: TLS to the endpoint (default: false)
//   - BLOB_UPLOAD_TIMEOUT: Per-upload deadline (default: 30s)
type BlobConfig struct {
	Enabled       bool          `koanf:"enabled"`        // Master toggle for object storage
	Endpoint      string        `koanf:"endpoint"`       // host:port, no scheme
	AccessKey     string        `koanf:"access_key"`     // MinIO access key
	SecretKey     string        `koanf:"secret_key"`     // MinIO secret key
	UseSSL        bool          `koanf:"use_ssl"`        // TLS to the endpoint
	Bucket        string        `koanf:"bucket"`         // Target bucket
	Region        string        `koanf:"region"`         // Bucket region (optional)
	UploadTimeout time.Duration `koanf:"upload_timeout"` // Per-upload deadline

	// Circuit breaker guarding the storage backend
	BreakerMaxRequests uint32        `koanf:"breaker_max_requests"` // Probes allowed while half-open
	BreakerInterval    time.Duration `koanf:"breaker_interval"`     // Closed-state counter reset cycle
	BreakerTimeout     time.Duration `koanf:"breaker_timeout"`      // Open-state cool down
}

// IngestConfig holds chunk assembly and wake accounting policy. Devices are
// asleep except for brief transfer windows, so every limit here trades
// completeness against how long server-side state is held for a device that
// may never come back.
//
// Environment Variables:
//   - INGEST_WAKE_TOLERANCE: Window half-width around scheduled wakes (default: 1h)
//   - INGEST_BUFFER_TTL: Idle chunk buffer lifetime (default: 30m)
//   - INGEST_IMAGE_TIMEOUT: In-flight transfer deadline (default: 2h)
//   - INGEST_MAX_RESEND_REQUESTS: Missing-chunk passes per image (default: 3)
//   - INGEST_MAX_PENDING_IMAGES: send_image commands issued per wake (default: 10)
//   - INGEST_MAX_IMAGE_BYTES: Declared size ceiling (default: 10MB)
//   - INGEST_SWEEP_INTERVAL: Buffer and timeout sweep cadence (default: 1m)
type IngestConfig struct {
	WakeTolerance     time.Duration `koanf:"wake_tolerance"`      // Half-width of the window around each scheduled wake
	BufferTTL         time.Duration `koanf:"buffer_ttl"`          // Idle chunk buffer lifetime before sweep
	ImageTimeout      time.Duration `koanf:"image_timeout"`       // In-flight transfer deadline
	MaxResendRequests int           `koanf:"max_resend_requests"` // Missing-chunk passes before the image fails
	MaxPendingImages  int           `koanf:"max_pending_images"`  // send_image commands issued per wake
	MaxImageBytes     int64         `koanf:"max_image_bytes"`     // Reject metadata declaring a larger image
	SweepInterval     time.Duration `koanf:"sweep_interval"`      // Cadence of the buffer and timeout sweeps
}

// SessionConfig holds daily session lifecycle and alerting policy. A session
// covers one site-local calendar day and locks permanently once its lock
// delay past midnight has elapsed.
//
// Environment Variables:
//   - SESSION_CHECK_INTERVAL: Scheduler tick (default: 1m)
//   - SESSION_LOCK_DELAY: Lock delay past site-local midnight (default: 1h)
//   - SESSION_MIN_COMPLETION_RATIO: Completion alert threshold (default: 0.8)
//   - SESSION_DEVICE_FAILURE_THRESHOLD: Per-device failed images before an
//     alert (default: 2)
//   - SESSION_MIN_BATTERY_VOLTAGE: Low battery alert floor (default: 3.40)
type SessionConfig struct {
	CheckInterval          time.Duration `koanf:"check_interval"`           // Scheduler tick for opens and locks
	LockDelay              time.Duration `koanf:"lock_delay"`               // Lock this long after site-local midnight
	MinCompletionRatio     float64       `koanf:"min_completion_ratio"`     // completed/expected below this raises an alert
	DeviceFailureThreshold int           `koanf:"device_failure_threshold"` // Failed images per device before an alert
	MinBatteryVoltage      float64       `koanf:"min_battery_voltage"`      // Reported voltage below this raises an alert
}

// ServerConfig holds HTTP server settings for the operational surface
// (health probes and Prometheus metrics).
//
// Environment Variables:
//   - HTTP_PORT: Listen port (default: 3857)
//   - HTTP_HOST: Bind address (default: 0.0.0.0)
//   - HTTP_TIMEOUT: Read and write timeout (default: 30s)
//   - ENVIRONMENT: development or production
type ServerConfig struct {
	Port        int           `koanf:"port"`        // Listen port
	Host        string        `koanf:"host"`        // Bind address
	Timeout     time.Duration `koanf:"timeout"`     // Read and write timeout
	Environment string        `koanf:"environment"` // development or production
}

// LoggingConfig holds log output settings.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json or console (default: json)
//   - LOG_CALLER: Include file:line in log events (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`  // trace, debug, info, warn, error
	Format string `koanf:"format"` // json or console
	Caller bool   `koanf:"caller"` // Include file:line in log events
}

// Load loads the full configuration through the Koanf layered pipeline.
// It is the single entry point callers should use.
func Load() (*Config, error) {
	cfg, err := LoadWithKoanf()
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the host:port pair the HTTP server binds to.
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsProduction reports whether the server runs in production mode.
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}
