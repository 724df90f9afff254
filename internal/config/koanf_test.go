// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultConfig verifies that defaultConfig() returns proper defaults
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	// MQTT defaults (enabled)
	if cfg.MQTT.Enabled != true {
		t.Errorf("MQTT.Enabled should be true by default")
	}
	if cfg.MQTT.BrokerURL != "tcp://localhost:1883" {
		t.Errorf("MQTT.BrokerURL = %q, want tcp://localhost:1883", cfg.MQTT.BrokerURL)
	}
	if cfg.MQTT.ClientID != "arborlink-ingest" {
		t.Errorf("MQTT.ClientID = %q, want arborlink-ingest", cfg.MQTT.ClientID)
	}
	if cfg.MQTT.QoS != 1 {
		t.Errorf("MQTT.QoS = %d, want 1", cfg.MQTT.QoS)
	}
	if cfg.MQTT.CleanSession != false {
		t.Errorf("MQTT.CleanSession should be false by default")
	}
	if cfg.MQTT.CommandRate != 1 {
		t.Errorf("MQTT.CommandRate = %v, want 1", cfg.MQTT.CommandRate)
	}

	// NATS defaults (enabled, embedded)
	if cfg.NATS.Enabled != true {
		t.Errorf("NATS.Enabled should be true by default")
	}
	if cfg.NATS.EmbeddedServer != true {
		t.Errorf("NATS.EmbeddedServer should be true by default")
	}
	if cfg.NATS.URL != "nats://127.0.0.1:4222" {
		t.Errorf("NATS.URL = %q, want nats://127.0.0.1:4222", cfg.NATS.URL)
	}
	if cfg.NATS.MaxMemory != 1<<30 {
		t.Errorf("NATS.MaxMemory = %d, want 1GB", cfg.NATS.MaxMemory)
	}
	if cfg.NATS.DurableName != "contact-processor" {
		t.Errorf("NATS.DurableName = %q, want contact-processor", cfg.NATS.DurableName)
	}

	// Database defaults
	if cfg.Database.Path != "/data/arborlink.duckdb" {
		t.Errorf("Database.Path = %q, want /data/arborlink.duckdb", cfg.Database.Path)
	}
	if cfg.Database.MaxMemory != "2GB" {
		t.Errorf("Database.MaxMemory = %q, want 2GB", cfg.Database.MaxMemory)
	}

	// Blob defaults
	if cfg.Blob.Bucket != "arborlink-images" {
		t.Errorf("Blob.Bucket = %q, want arborlink-images", cfg.Blob.Bucket)
	}
	if cfg.Blob.UploadTimeout != 30*time.Second {
		t.Errorf("Blob.UploadTimeout = %v, want 30s", cfg.Blob.UploadTimeout)
	}

	// Ingest defaults
	if cfg.Ingest.WakeTolerance != time.Hour {
		t.Errorf("Ingest.WakeTolerance = %v, want 1h", cfg.Ingest.WakeTolerance)
	}
	if cfg.Ingest.BufferTTL != 30*time.Minute {
		t.Errorf("Ingest.BufferTTL = %v, want 30m", cfg.Ingest.BufferTTL)
	}
	if cfg.Ingest.ImageTimeout != 2*time.Hour {
		t.Errorf("Ingest.ImageTimeout = %v, want 2h", cfg.Ingest.ImageTimeout)
	}
	if cfg.Ingest.MaxResendRequests != 3 {
		t.Errorf("Ingest.MaxResendRequests = %d, want 3", cfg.Ingest.MaxResendRequests)
	}

	// Session defaults
	if cfg.Session.MinCompletionRatio != 0.8 {
		t.Errorf("Session.MinCompletionRatio = %v, want 0.8", cfg.Session.MinCompletionRatio)
	}
	if cfg.Session.DeviceFailureThreshold != 2 {
		t.Errorf("Session.DeviceFailureThreshold = %d, want 2", cfg.Session.DeviceFailureThreshold)
	}
	if cfg.Session.MinBatteryVoltage != 3.40 {
		t.Errorf("Session.MinBatteryVoltage = %v, want 3.40", cfg.Session.MinBatteryVoltage)
	}

	// Server defaults
	if cfg.Server.Port != 3857 {
		t.Errorf("Server.Port = %d, want 3857", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}

	// Logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

// TestEnvTransformFunc verifies environment variable name transformations
func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		// MQTT
		{"MQTT_BROKER_URL", "mqtt.broker_url"},
		{"MQTT_CLIENT_ID", "mqtt.client_id"},
		{"MQTT_QOS", "mqtt.qos"},
		{"MQTT_COMMAND_RATE", "mqtt.command_rate"},

		// NATS
		{"NATS_ENABLED", "nats.enabled"},
		{"NATS_URL", "nats.url"},
		{"NATS_EMBEDDED", "nats.embedded_server"},
		{"NATS_RETENTION_DAYS", "nats.stream_retention_days"},
		{"NATS_ROUTER_POISON_TOPIC", "nats.router_poison_queue_topic"},

		// Database
		{"DUCKDB_PATH", "database.path"},
		{"DUCKDB_MAX_MEMORY", "database.max_memory"},

		// Blob
		{"MINIO_ENDPOINT", "blob.endpoint"},
		{"MINIO_ACCESS_KEY", "blob.access_key"},
		{"MINIO_BUCKET", "blob.bucket"},
		{"BLOB_UPLOAD_TIMEOUT", "blob.upload_timeout"},

		// Ingest
		{"INGEST_WAKE_TOLERANCE", "ingest.wake_tolerance"},
		{"INGEST_IMAGE_TIMEOUT", "ingest.image_timeout"},
		{"INGEST_MAX_RESEND_REQUESTS", "ingest.max_resend_requests"},

		// Session
		{"SESSION_LOCK_DELAY", "session.lock_delay"},
		{"SESSION_MIN_COMPLETION_RATIO", "session.min_completion_ratio"},
		{"SESSION_MIN_BATTERY_VOLTAGE", "session.min_battery_voltage"},

		// Server
		{"HTTP_PORT", "server.port"},
		{"HTTP_HOST", "server.host"},
		{"ENVIRONMENT", "server.environment"},

		// Logging
		{"LOG_LEVEL", "logging.level"},

		// Unknown (should return empty)
		{"RANDOM_VAR", ""},
		{"PATH", ""},
		{"HOME", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := envTransformFunc(tt.input)
			if result != tt.expected {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// TestFindConfigFile verifies config file discovery
func TestFindConfigFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	origDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	defer func() {
		if err := os.Chdir(origDir); err != nil {
			t.Errorf("Failed to restore working directory: %v", err)
		}
	}()

	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to change to temp directory: %v", err)
	}

	t.Run("no config file exists", func(t *testing.T) {
		os.Unsetenv(ConfigPathEnvVar)
		result := findConfigFile()
		if result != "" {
			t.Errorf("findConfigFile() = %q, want empty string", result)
		}
	})

	t.Run("config.yaml exists", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "config.yaml")
		if err := os.WriteFile(configPath, []byte("test: true"), 0644); err != nil {
			t.Fatalf("Failed to create config file: %v", err)
		}
		defer os.Remove(configPath)

		os.Unsetenv(ConfigPathEnvVar)
		result := findConfigFile()
		if result != "config.yaml" {
			t.Errorf("findConfigFile() = %q, want config.yaml", result)
		}
	})

	t.Run("CONFIG_PATH env var takes precedence", func(t *testing.T) {
		customPath := filepath.Join(tmpDir, "custom_config.yaml")
		if err := os.WriteFile(customPath, []byte("test: true"), 0644); err != nil {
			t.Fatalf("Failed to create custom config file: %v", err)
		}
		defer os.Remove(customPath)

		os.Setenv(ConfigPathEnvVar, customPath)
		defer os.Unsetenv(ConfigPathEnvVar)

		result := findConfigFile()
		if result != customPath {
			t.Errorf("findConfigFile() = %q, want %q", result, customPath)
		}
	})

	t.Run("CONFIG_PATH env var with non-existent file", func(t *testing.T) {
		os.Setenv(ConfigPathEnvVar, "/non/existent/config.yaml")
		defer os.Unsetenv(ConfigPathEnvVar)

		result := findConfigFile()
		if result != "" {
			t.Errorf("findConfigFile() = %q, want empty string", result)
		}
	})
}

// TestLoadWithKoanfEnvVars tests loading configuration from environment variables
func TestLoadWithKoanfEnvVars(t *testing.T) {
	os.Clearenv()

	// Set some custom values to override defaults
	os.Setenv("HTTP_PORT", "9000")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("MQTT_BROKER_URL", "tcp://broker.field.local:1883")
	os.Setenv("INGEST_MAX_RESEND_REQUESTS", "5")
	os.Setenv("SESSION_MIN_BATTERY_VOLTAGE", "3.3")
	// Blob disabled so missing credentials do not fail validation
	os.Setenv("BLOB_ENABLED", "false")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	// Verify custom overrides
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.MQTT.BrokerURL != "tcp://broker.field.local:1883" {
		t.Errorf("MQTT.BrokerURL = %q, want tcp://broker.field.local:1883", cfg.MQTT.BrokerURL)
	}
	if cfg.Ingest.MaxResendRequests != 5 {
		t.Errorf("Ingest.MaxResendRequests = %d, want 5", cfg.Ingest.MaxResendRequests)
	}
	if cfg.Session.MinBatteryVoltage != 3.3 {
		t.Errorf("Session.MinBatteryVoltage = %v, want 3.3", cfg.Session.MinBatteryVoltage)
	}

	// Verify defaults are still applied for unset values
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0 (default)", cfg.Server.Host)
	}
	if cfg.Database.MaxMemory != "2GB" {
		t.Errorf("Database.MaxMemory = %q, want 2GB (default)", cfg.Database.MaxMemory)
	}
	if cfg.Ingest.WakeTolerance != time.Hour {
		t.Errorf("Ingest.WakeTolerance = %v, want 1h (default)", cfg.Ingest.WakeTolerance)
	}
}

// TestLoadWithKoanfConfigFile tests loading configuration from a YAML file
func TestLoadWithKoanfConfigFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	configContent := `
mqtt:
  broker_url: "ssl://broker.example.com:8883"
  client_id: "arborlink-site-12"

blob:
  enabled: false

server:
  port: 8888
  host: "127.0.0.1"

logging:
  level: "warn"
`
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	os.Clearenv()
	os.Setenv(ConfigPathEnvVar, configPath)

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	// Verify values from config file
	if cfg.MQTT.BrokerURL != "ssl://broker.example.com:8883" {
		t.Errorf("MQTT.BrokerURL = %q, want ssl://broker.example.com:8883", cfg.MQTT.BrokerURL)
	}
	if cfg.MQTT.ClientID != "arborlink-site-12" {
		t.Errorf("MQTT.ClientID = %q, want arborlink-site-12", cfg.MQTT.ClientID)
	}
	if cfg.Server.Port != 8888 {
		t.Errorf("Server.Port = %d, want 8888", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}

	// Verify defaults still fill the gaps
	if cfg.NATS.URL != "nats://127.0.0.1:4222" {
		t.Errorf("NATS.URL = %q, want default", cfg.NATS.URL)
	}
}

// TestLoadWithKoanfPrecedence verifies ENV > File > Defaults ordering
func TestLoadWithKoanfPrecedence(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	configContent := `
blob:
  enabled: false
server:
  port: 8888
`
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	os.Clearenv()
	os.Setenv(ConfigPathEnvVar, configPath)
	os.Setenv("HTTP_PORT", "9999")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	// ENV wins over file
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999 (env should override file)", cfg.Server.Port)
	}
	// File wins over defaults
	if cfg.Blob.Enabled {
		t.Errorf("Blob.Enabled = true, want false (file should override default)")
	}
}

// TestLoadRejectsInvalidConfig verifies validation runs as part of Load
func TestLoadRejectsInvalidConfig(t *testing.T) {
	os.Clearenv()
	os.Setenv("BLOB_ENABLED", "false")
	os.Setenv("MQTT_QOS", "7")

	if _, err := LoadWithKoanf(); err == nil {
		t.Fatal("LoadWithKoanf() should reject MQTT_QOS=7")
	}
}
