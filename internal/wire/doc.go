// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

// Package wire defines the MQTT message formats spoken by the camera
// fleet: device-to-server contacts (alive, image metadata, image chunks)
// and server-to-device responses (missing-chunk requests, transfer acks,
// commands).
//
// The formats are fixed by deployed firmware and cannot be versioned or
// renegotiated. Decoding is therefore deliberately tolerant:
//
//   - the chunk payload is accepted both as a base64 string and as a JSON
//     array of byte values (two firmware generations encode it differently)
//   - the metadata total-chunk count is read from either the
//     "total_chunks_count" or the "total_chunk_count" key
//   - the device error field is accepted as a bare number or a string
//
// Encoding, by contrast, always produces the canonical form. Topic naming
// and device ID extraction live in topics.go.
package wire
