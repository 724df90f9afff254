// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

// Package models defines the data structures used throughout Arborlink.
// These models represent the fleet hierarchy (company, program, site,
// device), daily sessions, wake events, images, observations and alerts.
//
// The ingestion accounting is built around one invariant: every image a
// device announces becomes exactly one wake event row, and every wake
// event ends in a terminal status. A session's completed, failed and
// extra counters therefore always sum to the number of announced
// captures, which is what makes "no incomplete sessions" provable at
// day lock.
package models
