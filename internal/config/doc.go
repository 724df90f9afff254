// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

/*
Package config provides centralized configuration management for Arborlink.

This package handles loading, validation, and parsing of configuration for
all application components. It ensures consistent configuration across the
backend services and provides sensible defaults for optional settings.

# Configuration Sources

Configuration is loaded in layers with clear precedence (highest last):

 1. Built-in defaults for every optional setting
 2. Optional YAML config file (config.yaml, or CONFIG_PATH)
 3. Environment variables

# Configuration Structure

The package organizes configuration into logical groups:

  - MQTTConfig: Broker connection and device command settings
  - NATSConfig: Embedded JetStream event pipeline (Watermill)
  - DatabaseConfig: DuckDB connection and performance tuning
  - BlobConfig: MinIO object storage for completed images
  - IngestConfig: Chunk assembly windows, timeouts, and retry caps
  - SessionConfig: Daily session locking and alert thresholds
  - ServerConfig: HTTP server settings (host, port, timeouts)
  - LoggingConfig: Log levels and output formats

# Environment Variables

The most commonly tuned variables by component:

MQTT Broker (MQTTConfig):
  - MQTT_BROKER_URL: Broker address (default: tcp://localhost:1883)
  - MQTT_CLIENT_ID: Client identifier (default: arborlink-ingest)
  - MQTT_USERNAME / MQTT_PASSWORD: Broker credentials (optional)
  - MQTT_QOS: Delivery QoS for subscriptions and commands (default: 1)
  - MQTT_COMMAND_RATE: Per-device command tokens per second (default: 1)

Event Pipeline (NATSConfig):
  - NATS_EMBEDDED: Run the embedded JetStream server (default: true)
  - NATS_URL: External server address when not embedded
  - NATS_STORE_DIR: JetStream storage directory
  - NATS_RETENTION_DAYS: Contact stream retention (default: 7)

Database (DatabaseConfig):
  - DUCKDB_PATH: Database file path (default: /data/arborlink.duckdb)
  - DUCKDB_MAX_MEMORY: Memory limit (default: 2GB)
  - DUCKDB_THREADS: Thread count (default: CPU count)

Object Storage (BlobConfig):
  - MINIO_ENDPOINT: MinIO server address (default: localhost:9000)
  - MINIO_ACCESS_KEY / MINIO_SECRET_KEY: Credentials (required when enabled)
  - MINIO_BUCKET: Target bucket (default: arborlink-images)
  - MINIO_USE_SSL: TLS to the endpoint (default: false)

Ingestion (IngestConfig):
  - INGEST_WAKE_TOLERANCE: Window half-width around scheduled wakes (default: 1h)
  - INGEST_BUFFER_TTL: Idle chunk buffer lifetime (default: 30m)
  - INGEST_IMAGE_TIMEOUT: In-flight transfer deadline (default: 2h)
  - INGEST_MAX_RESEND_REQUESTS: Missing-chunk passes per image (default: 3)

Sessions (SessionConfig):
  - SESSION_LOCK_DELAY: Lock delay past site-local midnight (default: 1h)
  - SESSION_MIN_COMPLETION_RATIO: Alert threshold (default: 0.8)
  - SESSION_DEVICE_FAILURE_THRESHOLD: Per-device failed images (default: 2)
  - SESSION_MIN_BATTERY_VOLTAGE: Low battery alert floor (default: 3.40)

# Usage Example

Basic configuration loading:

	import "github.com/tomtom215/arborlink/internal/config"

	cfg, err := config.Load()
	if err != nil {
	    log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Printf("Starting server on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("Broker: %s\n", cfg.MQTT.BrokerURL)
	fmt.Printf("Database: %s\n", cfg.Database.Path)

# Validation

Load() performs validation after the layers are merged:

  - URL formats: MQTT_BROKER_URL, NATS_URL must use known schemes
  - Numeric ranges: HTTP_PORT (1-65535), MQTT_QOS (0-2)
  - Duration floors: INGEST_WAKE_TOLERANCE >= 1m, INGEST_IMAGE_TIMEOUT >= 10m
  - Threshold ranges: SESSION_MIN_COMPLETION_RATIO within (0, 1]
  - Credentials: MinIO keys required when blob storage is enabled

# Thread Safety

The Config struct is immutable after Load() returns, making it safe for
concurrent access from multiple goroutines without synchronization.
*/
package config
