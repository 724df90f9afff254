// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

// Package eventbus is the internal contact pipeline: embedded NATS
// JetStream plus Watermill plumbing between the MQTT gateway and the
// ingest handlers.
//
// The MQTT receive callback does no store I/O. It wraps each raw device
// payload in a Contact envelope and publishes it to the DEVICE_CONTACTS
// stream; Watermill router consumers execute the ingest pipeline with
// retry, panic recovery and a poison queue. JetStream gives the pipeline
// at-least-once redelivery across restarts, so a DuckDB or MinIO stall
// never drops a device transmission that already reached the server.
package eventbus
