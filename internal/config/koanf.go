// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/arborlink/config.yaml",
	"/etc/arborlink/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Enabled:              true,
			BrokerURL:            "tcp://localhost:1883",
			ClientID:             "arborlink-ingest",
			Username:             "",
			Password:             "",
			QoS:                  1, // At-least-once; dedup happens downstream anyway
			KeepAlive:            30 * time.Second,
			ConnectTimeout:       10 * time.Second,
			ReconnectMaxInterval: 2 * time.Minute,
			CleanSession:         false, // Broker queues QoS1 traffic while we restart
			CommandRate:          1,
			CommandBurst:         3,
		},
		NATS: NATSConfig{
			Enabled:             true,
			URL:                 "nats://127.0.0.1:4222",
			EmbeddedServer:      true,
			StoreDir:            "/data/nats/jetstream",
			MaxMemory:           1 << 30,  // 1GB
			MaxStore:            10 << 30, // 10GB
			StreamRetentionDays: 7,
			SubscribersCount:    4,
			DurableName:         "contact-processor",
			QueueGroup:          "ingestors",
			FlushInterval:       5 * time.Second,
			// Router defaults (Watermill Router middleware)
			RouterRetryCount:           3,
			RouterRetryInitialInterval: 100 * time.Millisecond,
			RouterPoisonQueueEnabled:   true,
			RouterPoisonQueueTopic:     "contacts.poison",
			RouterCloseTimeout:         30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:                   "/data/arborlink.duckdb",
			MaxMemory:              "2GB",
			Threads:                0,    // 0 = use runtime.NumCPU()
			PreserveInsertionOrder: true, // DuckDB default
		},
		Blob: BlobConfig{
			Enabled:            true,
			Endpoint:           "localhost:9000",
			AccessKey:          "",
			SecretKey:          "",
			UseSSL:             false,
			Bucket:             "arborlink-images",
			Region:             "",
			UploadTimeout:      30 * time.Second,
			BreakerMaxRequests: 3,
			BreakerInterval:    time.Minute,
			BreakerTimeout:     30 * time.Second,
		},
		Ingest: IngestConfig{
			WakeTolerance:     time.Hour,
			BufferTTL:         30 * time.Minute,
			ImageTimeout:      2 * time.Hour,
			MaxResendRequests: 3,
			MaxPendingImages:  10,
			MaxImageBytes:     10 << 20, // 10MB, far above any ESP32-CAM frame
			SweepInterval:     time.Minute,
		},
		Session: SessionConfig{
			CheckInterval:          time.Minute,
			LockDelay:              time.Hour,
			MinCompletionRatio:     0.8,
			DeviceFailureThreshold: 2,
			MinBatteryVoltage:      3.40,
		},
		Server: ServerConfig{
			Port:        3857,
			Host:        "0.0.0.0",
			Timeout:     30 * time.Second,
			Environment: "development", // Set ENVIRONMENT=production for production checks
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
//
// This function provides:
//   - Type-safe configuration unmarshaling
//   - Clear precedence: ENV > File > Defaults
//   - Support for nested configuration via koanf struct tags
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// Transform environment variable names to koanf paths:
	// MQTT_BROKER_URL -> mqtt.broker_url
	// DUCKDB_PATH -> database.path
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal into Config struct
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	// Check environment variable first
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	// Search default paths
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - MQTT_BROKER_URL -> mqtt.broker_url
//   - NATS_EMBEDDED -> nats.embedded_server
//   - DUCKDB_PATH -> database.path
//   - MINIO_ENDPOINT -> blob.endpoint
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// MQTT mappings
		"mqtt_enabled":                "mqtt.enabled",
		"mqtt_broker_url":             "mqtt.broker_url",
		"mqtt_client_id":              "mqtt.client_id",
		"mqtt_username":               "mqtt.username",
		"mqtt_password":               "mqtt.password",
		"mqtt_qos":                    "mqtt.qos",
		"mqtt_keep_alive":             "mqtt.keep_alive",
		"mqtt_connect_timeout":        "mqtt.connect_timeout",
		"mqtt_reconnect_max_interval": "mqtt.reconnect_max_interval",
		"mqtt_clean_session":          "mqtt.clean_session",
		"mqtt_command_rate":           "mqtt.command_rate",
		"mqtt_command_burst":          "mqtt.command_burst",

		// NATS mappings
		"nats_enabled":        "nats.enabled",
		"nats_url":            "nats.url",
		"nats_embedded":       "nats.embedded_server",
		"nats_store_dir":      "nats.store_dir",
		"nats_max_memory":     "nats.max_memory",
		"nats_max_store":      "nats.max_store",
		"nats_retention_days": "nats.stream_retention_days",
		"nats_subscribers":    "nats.subscribers_count",
		"nats_durable_name":   "nats.durable_name",
		"nats_queue_group":    "nats.queue_group",
		"nats_flush_interval": "nats.flush_interval",
		// Router configuration environment mappings
		"nats_router_retry_count":    "nats.router_retry_count",
		"nats_router_retry_interval": "nats.router_retry_initial_interval",
		"nats_router_poison_enabled": "nats.router_poison_queue_enabled",
		"nats_router_poison_topic":   "nats.router_poison_queue_topic",
		"nats_router_close_timeout":  "nats.router_close_timeout",

		// Database mappings
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Blob storage mappings
		"blob_enabled":         "blob.enabled",
		"minio_endpoint":       "blob.endpoint",
		"minio_access_key":     "blob.access_key",
		"minio_secret_key":     "blob.secret_key",
		"minio_use_ssl":        "blob.use_ssl",
		"minio_bucket":         "blob.bucket",
		"minio_region":         "blob.region",
		"blob_upload_timeout":  "blob.upload_timeout",
		"blob_breaker_timeout": "blob.breaker_timeout",

		// Ingestion mappings
		"ingest_wake_tolerance":      "ingest.wake_tolerance",
		"ingest_buffer_ttl":          "ingest.buffer_ttl",
		"ingest_image_timeout":       "ingest.image_timeout",
		"ingest_max_resend_requests": "ingest.max_resend_requests",
		"ingest_max_pending_images":  "ingest.max_pending_images",
		"ingest_max_image_bytes":     "ingest.max_image_bytes",
		"ingest_sweep_interval":      "ingest.sweep_interval",

		// Session mappings
		"session_check_interval":           "session.check_interval",
		"session_lock_delay":               "session.lock_delay",
		"session_min_completion_ratio":     "session.min_completion_ratio",
		"session_device_failure_threshold": "session.device_failure_threshold",
		"session_min_battery_voltage":      "session.min_battery_voltage",

		// Server mappings
		"http_port":    "server.port",
		"http_host":    "server.host",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// For unmapped keys, return empty string to skip them
	// This prevents random environment variables from polluting config
	return ""
}

// WatchConfigFile sets up a file watcher for hot-reload capability.
// Note: The caller is responsible for mutex protection when accessing
// configuration during reloads.
//
// Example usage:
//
//	var cfgMu sync.RWMutex
//	var cfg *Config
//
//	err := WatchConfigFile(configPath, func() {
//	    cfgMu.Lock()
//	    defer cfgMu.Unlock()
//	    newCfg, err := LoadWithKoanf()
//	    if err != nil {
//	        log.Printf("Config reload failed: %v", err)
//	        return
//	    }
//	    cfg = newCfg
//	})
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)

	// Start watching the file for changes
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
