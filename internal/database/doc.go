// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

// Package database is the DuckDB-backed system of record for the ingestion
// pipeline: devices and their site assignments, daily sessions, wake events,
// image transfers, observations and alerts.
//
// The package exposes the six transactional contracts the pipeline is built
// on (OpenSession, LockSession, IngestWake, CompleteImage, FailImage,
// RetryByID) plus the supporting lookups around them. Every contract method
// runs inside an explicit transaction so concurrent finalizations targeting
// the same session serialize at the store, not via in-process locks.
package database
