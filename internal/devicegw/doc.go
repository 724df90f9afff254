// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

// Package devicegw is the MQTT edge of the system. The gateway subscribes
// to the fleet's status and data topics and does no store I/O in the paho
// receive callback: each message is classified, wrapped in a Contact
// envelope, and published to the event stream, so one device's slow
// ingestion never delays another's radio window. The commander is the
// return path, publishing acks and commands on per-device topics behind a
// per-device rate limiter and a circuit breaker.
package devicegw
