// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

// Package assembler reassembles chunked image transfers in memory.
//
// Devices send JPEGs in numbered chunks over MQTT with no ordering or
// delivery guarantee. The assembler buffers chunks per in-flight image,
// keyed by (device, stable name), tolerates duplicates and out-of-order
// arrival, reports the gap list when a send pass ends, and hands the
// concatenated bytes to exactly one finalizer via Take.
//
// The store is a sharded map with a per-buffer mutex: chunk application
// for one device never contends with another device's transfer, and
// chunk-application and finalization are mutually exclusive per key.
// Buffers idle past their TTL are swept to free memory; the durable
// image rows in the database are closed out separately.
package assembler
