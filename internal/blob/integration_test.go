// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

//go:build integration

package blob

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/arborlink/internal/config"
	"github.com/tomtom215/arborlink/internal/models"
	"github.com/tomtom215/arborlink/internal/testinfra"
)

func TestStoreUploadAgainstMinIO(t *testing.T) {
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	mc, err := testinfra.NewMinIOContainer(ctx)
	if err != nil {
		t.Fatalf("start MinIO: %v", err)
	}
	defer testinfra.CleanupContainer(t, ctx, mc)

	store, err := New(ctx, &config.BlobConfig{
		Endpoint:      mc.Endpoint,
		AccessKey:     mc.AccessKey,
		SecretKey:     mc.SecretKey,
		Bucket:        "arborlink-test",
		UploadTimeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	lineage := &models.Lineage{
		CompanyName: "GreenLeaf Research",
		ProgramName: "Basil Trial 7",
		SiteName:    "Greenhouse North",
	}
	key := ObjectKey(lineage, "AABBCCDDEEFF", "image_1777881612.jpg")
	payload := []byte("not really a jpeg but close enough for S3")

	url, err := store.Upload(ctx, key, payload)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	want := "minio://arborlink-test/" + key
	if url != want {
		t.Errorf("url = %q, want %q", url, want)
	}

	// A retransmit overwrites the same object without error.
	again, err := store.Upload(ctx, key, payload)
	if err != nil {
		t.Fatalf("Upload (retransmit): %v", err)
	}
	if again != url {
		t.Errorf("retransmit url = %q, want the original %q", again, url)
	}
}

func TestNewCreatesMissingBucket(t *testing.T) {
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	mc, err := testinfra.NewMinIOContainer(ctx)
	if err != nil {
		t.Fatalf("start MinIO: %v", err)
	}
	defer testinfra.CleanupContainer(t, ctx, mc)

	// First New creates the bucket, second finds it existing.
	for i := 0; i < 2; i++ {
		if _, err := New(ctx, &config.BlobConfig{
			Endpoint:  mc.Endpoint,
			AccessKey: mc.AccessKey,
			SecretKey: mc.SecretKey,
			Bucket:    "arborlink-fresh",
		}); err != nil {
			t.Fatalf("New (attempt %d): %v", i+1, err)
		}
	}
}
