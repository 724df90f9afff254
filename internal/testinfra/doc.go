// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

// Package testinfra provides container-backed infrastructure for
// integration tests.
//
// Built on testcontainers-go. Everything here is behind the integration
// build tag; unit tests never touch Docker, and the suite skips gracefully
// when no Docker daemon is reachable.
//
// # MinIO Container
//
// MinIOContainer runs a real S3-compatible backend for blob store tests:
//
//	func TestBlobUpload(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//	    mc, err := testinfra.NewMinIOContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, mc)
//
//	    store, err := blob.New(ctx, &config.BlobConfig{
//	        Endpoint:  mc.Endpoint,
//	        AccessKey: mc.AccessKey,
//	        SecretKey: mc.SecretKey,
//	        Bucket:    "arborlink-test",
//	    })
//	    // ...
//	}
//
// Testing against a real backend validates the actual S3 contract instead
// of a mock that drifts; first run downloads the image, later runs use the
// Docker cache.
package testinfra
