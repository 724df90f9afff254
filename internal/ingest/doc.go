// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

// Package ingest executes the wake pipeline behind the contact stream.
//
// Every device contact arrives as an eventbus Contact and is dispatched by
// kind: alive announcements open the day's session and trigger retransmit
// requests for the device's backlog, metadata messages record the wake event
// and stand up a reassembly buffer, and chunks feed that buffer until the
// image is whole. A completed buffer is claimed by exactly one consumer and
// routed to finalization for new images or to retry reconciliation for
// images the store already knows as failed or complete.
//
// The pipeline is deliberately non-fatal: lineage failures drop the contact,
// storage failures fail one image and leave it recoverable through the
// retry-request path on the device's next wake. Errors are returned to the
// router only when redelivery could plausibly succeed.
package ingest
