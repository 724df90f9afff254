// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

// Package blob stores finished image bytes in S3-compatible object storage.
//
// Objects live at a deterministic path derived from the image's lineage and
// stable name, so a retransmitted image lands at the same key it would have
// the first time (write-once, overwrite-equal tolerated). A circuit breaker
// guards the backend: when MinIO is down, uploads fail fast and the ingest
// layer records the image failed rather than stalling the contact pipeline.
package blob
