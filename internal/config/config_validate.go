// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package config

import (
	"fmt"
	"net/url"
	"time"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := c.validateMQTT(); err != nil {
		return err
	}

	if err := c.validateNATS(); err != nil {
		return err
	}

	if err := c.validateBlob(); err != nil {
		return err
	}

	if err := c.validateIngest(); err != nil {
		return err
	}

	if err := c.validateSession(); err != nil {
		return err
	}

	if err := c.validateServer(); err != nil {
		return err
	}

	return c.validateLogging()
}

// validateMQTT validates broker settings (only if enabled)
func (c *Config) validateMQTT() error {
	if !c.MQTT.Enabled {
		return nil
	}

	if err := validateMQTTURL(c.MQTT.BrokerURL); err != nil {
		return fmt.Errorf("MQTT_BROKER_URL is invalid: %w", err)
	}
	if c.MQTT.ClientID == "" {
		return fmt.Errorf("MQTT_CLIENT_ID must not be empty")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1, or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.KeepAlive < 5*time.Second {
		return fmt.Errorf("MQTT_KEEP_ALIVE must be at least 5s")
	}
	if c.MQTT.CommandRate <= 0 {
		return fmt.Errorf("MQTT_COMMAND_RATE must be positive")
	}
	if c.MQTT.CommandBurst < 1 {
		return fmt.Errorf("MQTT_COMMAND_BURST must be at least 1")
	}
	return nil
}

// validateNATS validates pipeline configuration (only if enabled)
func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}

	if err := validateNATSURL(c.NATS.URL); err != nil {
		return fmt.Errorf("NATS_URL is invalid: %w", err)
	}

	return c.validateNATSLimits()
}

// NATS limit constants
const (
	natsMinMemory      = 64 * 1024 * 1024  // 64MB
	natsMinStore       = 100 * 1024 * 1024 // 100MB
	natsMaxRetention   = 365
	natsMinRetention   = 1
	natsMaxSubscribers = 32
)

// validateNATSLimits validates JetStream storage and processing limits
func (c *Config) validateNATSLimits() error {
	if c.NATS.MaxMemory < natsMinMemory {
		return fmt.Errorf("NATS_MAX_MEMORY must be at least 64MB (67108864 bytes)")
	}
	if c.NATS.MaxStore < natsMinStore {
		return fmt.Errorf("NATS_MAX_STORE must be at least 100MB (104857600 bytes)")
	}
	if c.NATS.StreamRetentionDays < natsMinRetention || c.NATS.StreamRetentionDays > natsMaxRetention {
		return fmt.Errorf("NATS_RETENTION_DAYS must be between %d and %d", natsMinRetention, natsMaxRetention)
	}
	if c.NATS.SubscribersCount < 1 || c.NATS.SubscribersCount > natsMaxSubscribers {
		return fmt.Errorf("NATS_SUBSCRIBERS must be between 1 and %d", natsMaxSubscribers)
	}
	if c.NATS.RouterRetryCount < 0 {
		return fmt.Errorf("NATS_ROUTER_RETRY_COUNT must not be negative")
	}
	return nil
}

// validateBlob validates object storage settings (only if enabled)
func (c *Config) validateBlob() error {
	if !c.Blob.Enabled {
		return nil
	}

	if c.Blob.Endpoint == "" {
		return fmt.Errorf("MINIO_ENDPOINT is required when BLOB_ENABLED=true")
	}
	if c.Blob.AccessKey == "" || c.Blob.SecretKey == "" {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when BLOB_ENABLED=true")
	}
	if c.Blob.Bucket == "" {
		return fmt.Errorf("MINIO_BUCKET must not be empty")
	}
	if c.Blob.UploadTimeout < time.Second {
		return fmt.Errorf("BLOB_UPLOAD_TIMEOUT must be at least 1s")
	}
	return nil
}

// validateIngest validates assembly and wake accounting policy
func (c *Config) validateIngest() error {
	if c.Ingest.WakeTolerance < time.Minute {
		return fmt.Errorf("INGEST_WAKE_TOLERANCE must be at least 1m")
	}
	if c.Ingest.BufferTTL < time.Minute {
		return fmt.Errorf("INGEST_BUFFER_TTL must be at least 1m")
	}
	if c.Ingest.ImageTimeout < 10*time.Minute {
		return fmt.Errorf("INGEST_IMAGE_TIMEOUT must be at least 10m")
	}
	if c.Ingest.MaxResendRequests < 0 {
		return fmt.Errorf("INGEST_MAX_RESEND_REQUESTS must not be negative")
	}
	if c.Ingest.MaxPendingImages < 1 {
		return fmt.Errorf("INGEST_MAX_PENDING_IMAGES must be at least 1")
	}
	if c.Ingest.MaxImageBytes < 1024 {
		return fmt.Errorf("INGEST_MAX_IMAGE_BYTES must be at least 1024")
	}
	if c.Ingest.SweepInterval < time.Second {
		return fmt.Errorf("INGEST_SWEEP_INTERVAL must be at least 1s")
	}
	return nil
}

// validateSession validates lock timing and alert thresholds
func (c *Config) validateSession() error {
	if c.Session.CheckInterval < time.Second {
		return fmt.Errorf("SESSION_CHECK_INTERVAL must be at least 1s")
	}
	if c.Session.LockDelay < 0 {
		return fmt.Errorf("SESSION_LOCK_DELAY must not be negative")
	}
	if c.Session.MinCompletionRatio <= 0 || c.Session.MinCompletionRatio > 1 {
		return fmt.Errorf("SESSION_MIN_COMPLETION_RATIO must be within (0, 1]")
	}
	if c.Session.DeviceFailureThreshold < 1 {
		return fmt.Errorf("SESSION_DEVICE_FAILURE_THRESHOLD must be at least 1")
	}
	if c.Session.MinBatteryVoltage <= 0 || c.Session.MinBatteryVoltage > 5 {
		return fmt.Errorf("SESSION_MIN_BATTERY_VOLTAGE must be within (0, 5]")
	}
	return nil
}

// validateServer validates HTTP server settings
func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout < time.Second {
		return fmt.Errorf("HTTP_TIMEOUT must be at least 1s")
	}
	switch c.Server.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("ENVIRONMENT must be development or production, got %q", c.Server.Environment)
	}
	return nil
}

// validateLogging validates log level and format
func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// validateMQTTURL validates that the broker URL is properly formatted.
// Supports: tcp://, ssl://, tls://, ws://, and wss:// schemes with
// IP addresses/hostnames and optional ports.
func validateMQTTURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	validSchemes := map[string]bool{"tcp": true, "ssl": true, "tls": true, "ws": true, "wss": true, "mqtt": true, "mqtts": true}
	if !validSchemes[parsedURL.Scheme] {
		return fmt.Errorf("scheme must be tcp, ssl, tls, ws, wss, mqtt, or mqtts, got: %s", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("host is required (e.g., localhost:1883, 192.168.1.50:1883, broker.example.com)")
	}

	return nil
}

// validateNATSURL validates that the NATS URL is properly formatted
// Supports: nats://, tls://, and ws:// schemes with IP addresses/hostnames and optional ports
func validateNATSURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	validSchemes := map[string]bool{"nats": true, "tls": true, "ws": true, "wss": true}
	if !validSchemes[parsedURL.Scheme] {
		return fmt.Errorf("scheme must be nats, tls, ws, or wss, got: %s", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("host is required (e.g., localhost:4222, 192.168.1.100:4222, nats.example.com)")
	}

	return nil
}
