// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

/*
Package metrics provides Prometheus metrics collection and export for observability.

This package instruments the full ingestion path using the Prometheus client
library: device contacts in over MQTT, chunk reassembly, blob uploads, session
accounting, and the supporting infrastructure (DuckDB, NATS, caches, circuit
breakers).

# Metrics Endpoint

Metrics are exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:3857/metrics

# Available Metrics

Contact Metrics:
  - contacts_received_total: Device contacts by kind and outcome (counter)
    Labels: kind (alive, metadata, chunk), result (accepted, rejected)
  - contact_decode_failures_total: Undecodable device messages (counter)
    Labels: kind
  - mqtt_connected: Broker connectivity (gauge, 0 or 1)
  - mqtt_reconnects_total: Broker reconnect attempts (counter)
  - commands_published_total: Server-to-device messages (counter)
    Labels: command (missing_chunks, ack_ok, send_image, capture_image, next_wake)
  - command_rate_limited_total: Commands delayed by the per-device limiter (counter)

Assembly Metrics:
  - assembly_chunks_received_total: Chunk dispositions (counter)
    Labels: result (accepted, duplicate, unknown_image, out_of_range)
  - assembly_active_buffers: Images currently being reassembled (gauge)
  - assembly_duration_seconds: Metadata-to-complete time (histogram)
  - assembly_missing_requests_total: Missing-chunk requests sent (counter)
  - assembly_missing_chunks: Chunks requested per resend round (histogram)
  - assembly_timeouts_total: Buffers abandoned by the sweep (counter)
  - assembly_resend_exhausted_total: Images failed after the resend cap (counter)

Image Metrics:
  - images_completed_total: Fully ingested images (counter)
  - images_failed_total: Failed images (counter)
    Labels: reason (timeout, resend_exhausted, device_fault, lineage, storage)
  - image_bytes: Completed image sizes (histogram)
  - image_transfer_duration_seconds: Transfer wall time (histogram)
  - image_retries_requested_total: Retransmit commands for stored images (counter)
  - image_retries_completed_total: Retransmits that reached an observation (counter)

Session Metrics:
  - sessions_opened_total: Daily sessions opened (counter)
  - sessions_locked_total: Sessions locked at day end (counter)
  - session_completeness_percent: Locked-session completeness (histogram)
  - session_alerts_total: Alerts raised at lock or failure (counter)
    Labels: alert_type
  - wake_events_total: Wake events by window fit (counter)
    Labels: overage ("true" when outside tolerance)

Storage Metrics:
  - duckdb_query_duration_seconds / duckdb_query_errors_total / duckdb_connection_pool_size
  - blob_upload_duration_seconds: MinIO upload latency (histogram)
  - blob_upload_bytes_total: Bytes shipped to the blob store (counter)
  - blob_upload_errors_total: Failed uploads (counter)

Messaging Metrics:
  - nats_messages_published_total / consumed / processed / parse_failed
  - nats_processing_duration_seconds: Handler latency (histogram)
  - nats_poison_messages_total: Messages routed to the poison subject (counter)

The generic cache and circuit breaker families carry a name label so each
cache ("lineage") and breaker ("blob", "database") shares one series family.
*/
package metrics
