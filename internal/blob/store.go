// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/arborlink/internal/config"
	"github.com/tomtom215/arborlink/internal/logging"
	"github.com/tomtom215/arborlink/internal/metrics"
	"github.com/tomtom215/arborlink/internal/models"
)

// Uploader is the slice of blob storage the ingest layer needs. The MinIO
// store implements it; tests and blob-disabled deployments use Noop.
type Uploader interface {
	// Upload stores the image bytes and returns the blob URL recorded on
	// the image row and observation.
	Upload(ctx context.Context, key string, data []byte) (string, error)
}

// Store uploads to a MinIO (or any S3-compatible) backend through a
// circuit breaker.
type Store struct {
	client  *minio.Client
	bucket  string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[minio.UploadInfo]
}

// New creates the store and verifies the bucket exists, creating it when
// absent. Called once at startup; a dead backend here is a startup error,
// not a runtime one.
func New(ctx context.Context, cfg *config.BlobConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	s := &Store{
		client:  client,
		bucket:  cfg.Bucket,
		timeout: cfg.UploadTimeout,
		breaker: newBreaker(cfg),
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}

	if err := s.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}

	logging.Info().
		Str("endpoint", cfg.Endpoint).
		Str("bucket", cfg.Bucket).
		Msg("Blob store ready")
	return s, nil
}

func newBreaker(cfg *config.BlobConfig) *gobreaker.CircuitBreaker[minio.UploadInfo] {
	settings := gobreaker.Settings{
		Name:        "blob-upload",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Blob circuit breaker state change")
		},
	}
	return gobreaker.NewCircuitBreaker[minio.UploadInfo](settings)
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Upload stores the image bytes at key. The returned URL is
// "minio://bucket/key". Retransmissions target the same key; the overwrite
// is tolerated because the content is identical by construction.
func (s *Store) Upload(ctx context.Context, key string, data []byte) (string, error) {
	start := time.Now()

	info, err := s.breaker.Execute(func() (minio.UploadInfo, error) {
		uploadCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.client.PutObject(uploadCtx, s.bucket, key,
			bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: "image/jpeg"})
	})
	metrics.RecordBlobUpload(time.Since(start), int64(len(data)), err)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	logging.Debug().
		Str("key", key).
		Int64("bytes", info.Size).
		Msg("Blob uploaded")
	return "minio://" + s.bucket + "/" + key, nil
}

// ObjectKey builds the deterministic storage path for an image:
// images/{company}/{program}/{site}/{device MAC}/{stable name}. Lineage
// segments are slugged from names so paths survive renames of nothing but
// casing and spaces; identity comes from the stable name and MAC.
func ObjectKey(lineage *models.Lineage, deviceMAC, stableName string) string {
	return strings.Join([]string{
		"images",
		slug(lineage.CompanyName),
		slug(lineage.ProgramName),
		slug(lineage.SiteName),
		deviceMAC,
		stableName,
	}, "/")
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '/':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

// Noop discards uploads. Used when blob storage is disabled and in tests;
// ingestion accounting proceeds with a placeholder URL.
type Noop struct{}

// Upload implements Uploader.
func (Noop) Upload(_ context.Context, key string, _ []byte) (string, error) {
	return "noop://" + key, nil
}
