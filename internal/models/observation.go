// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package models

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Observation is the analytical record of one successfully ingested image.
// Exactly one exists per image (UNIQUE on ImageID) no matter how many
// delivery attempts, retries or redeliveries it took to get there, and
// rows are never mutated after insert. Downstream growth analysis reads
// this table and nothing else.
type Observation struct {
	ID uuid.UUID `json:"id"`

	ImageID     uuid.UUID `json:"image_id"` // unique
	WakeEventID uuid.UUID `json:"wake_event_id"`
	SessionID   uuid.UUID `json:"session_id"`
	DeviceID    uuid.UUID `json:"device_id"`

	// Full lineage at ingest time
	CompanyID uuid.UUID `json:"company_id"`
	ProgramID uuid.UUID `json:"program_id"`
	SiteID    uuid.UUID `json:"site_id"`

	// Device-authoritative capture moment, carried from the wake event
	CapturedAt time.Time `json:"captured_at"`

	BlobURL   string          `json:"blob_url"`
	SizeBytes int64           `json:"size_bytes"`
	Telemetry json.RawMessage `json:"telemetry,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
