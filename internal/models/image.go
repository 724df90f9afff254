// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package models

import (
	"time"

	"github.com/google/uuid"
)

// ImageStatus is the lifecycle state of an image transfer.
type ImageStatus string

const (
	ImagePending   ImageStatus = "pending"   // metadata announced, no chunks yet
	ImageReceiving ImageStatus = "receiving" // at least one chunk landed
	ImageComplete  ImageStatus = "complete"  // all chunks received, blob stored
	ImageFailed    ImageStatus = "failed"    // terminal, reason recorded
)

// Valid reports whether the status is one of the defined states.
func (s ImageStatus) Valid() bool {
	switch s {
	case ImagePending, ImageReceiving, ImageComplete, ImageFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends the transfer.
func (s ImageStatus) IsTerminal() bool {
	return s == ImageComplete || s == ImageFailed
}

// Image tracks one capture's transfer, keyed by (device, stable name).
//
// The stable name is device-supplied, derived from the on-device capture
// clock (e.g. "image_1716899702.jpg"), and never changes across resends.
// Exactly one row exists per (device, stable name): a retransmission days
// after the original attempt updates this row, it never inserts a second.
// That single row is what makes re-ingestion idempotent end to end.
type Image struct {
	ID uuid.UUID `json:"id"`

	DeviceID   uuid.UUID `json:"device_id"`
	StableName string    `json:"stable_name"`

	// Link back to the wake event that announced this capture
	WakeEventID uuid.UUID `json:"wake_event_id"`

	// Transfer geometry from metadata
	DeclaredSize   int64 `json:"declared_size"`
	MaxChunkSize   int   `json:"max_chunk_size"`
	ExpectedChunks int   `json:"expected_chunks"`

	// Progress
	ReceivedChunks int    `json:"received_chunks"`
	ReceivedBitmap []byte `json:"received_bitmap,omitempty"` // chunk-index bitset, synced at pass boundaries

	Status     ImageStatus `json:"status"`
	FailReason *string     `json:"fail_reason,omitempty"`

	// Retry audit
	RetryCount       int        `json:"retry_count"`
	ResentReceivedAt *time.Time `json:"resent_received_at,omitempty"` // when a post-failure retransmit landed

	// Set once the blob store upload succeeded
	BlobURL *string `json:"blob_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal reports whether the transfer has closed out.
func (i *Image) IsTerminal() bool {
	return i.Status.IsTerminal()
}
