// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

/*
Package cache provides the in-memory caching primitives used across the
ingestion path.

Two structures cover the access patterns that matter here:

  - Cache: a TTL cache with background expiry, used by the lineage resolver
    to keep hot device assignments out of DuckDB between contacts.
  - LRU: a capacity-bounded cache with lazy expiry, used by the device
    gateway to hold per-device state (command rate limiters) without
    growing with the historical fleet.

Both are safe for concurrent use and track hit/miss statistics that feed
the cache_type-labelled Prometheus metrics.
*/
package cache
