// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DefaultMinIOImage is the MinIO server image used by integration tests.
	DefaultMinIOImage = "minio/minio:RELEASE.2024-01-16T16-07-38Z"

	// DefaultMinIOPort is the S3 API port.
	DefaultMinIOPort = "9000"

	// Test credentials. Never used outside containers this package starts.
	DefaultMinIOAccessKey = "arborlink-test"
	DefaultMinIOSecretKey = "arborlink-test-secret"
)

// MinIOContainer is a running MinIO instance for blob store tests.
type MinIOContainer struct {
	testcontainers.Container

	// Endpoint is host:port, no scheme, ready for config.BlobConfig.
	Endpoint  string
	AccessKey string
	SecretKey string
}

// MinIOOption configures the MinIO container.
type MinIOOption func(*minioConfig)

type minioConfig struct {
	image        string
	accessKey    string
	secretKey    string
	startTimeout time.Duration
}

// WithMinIOImage sets a custom MinIO image.
func WithMinIOImage(image string) MinIOOption {
	return func(c *minioConfig) {
		c.image = image
	}
}

// WithMinIOCredentials overrides the test credentials.
func WithMinIOCredentials(accessKey, secretKey string) MinIOOption {
	return func(c *minioConfig) {
		c.accessKey = accessKey
		c.secretKey = secretKey
	}
}

// WithMinIOStartTimeout sets how long to wait for the server to come up.
func WithMinIOStartTimeout(timeout time.Duration) MinIOOption {
	return func(c *minioConfig) {
		c.startTimeout = timeout
	}
}

// NewMinIOContainer creates and starts a MinIO container, waiting for the
// readiness endpoint before returning.
func NewMinIOContainer(ctx context.Context, opts ...MinIOOption) (*MinIOContainer, error) {
	cfg := &minioConfig{
		image:        DefaultMinIOImage,
		accessKey:    DefaultMinIOAccessKey,
		secretKey:    DefaultMinIOSecretKey,
		startTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	req := testcontainers.ContainerRequest{
		Image:        cfg.image,
		ExposedPorts: []string{DefaultMinIOPort + "/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     cfg.accessKey,
			"MINIO_ROOT_PASSWORD": cfg.secretKey,
		},
		Cmd: []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/ready").
			WithPort(DefaultMinIOPort + "/tcp").
			WithStartupTimeout(cfg.startTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start minio container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("get minio host: %w", err)
	}
	port, err := container.MappedPort(ctx, DefaultMinIOPort+"/tcp")
	if err != nil {
		return nil, fmt.Errorf("get minio port: %w", err)
	}

	return &MinIOContainer{
		Container: container,
		Endpoint:  fmt.Sprintf("%s:%s", host, port.Port()),
		AccessKey: cfg.accessKey,
		SecretKey: cfg.secretKey,
	}, nil
}
