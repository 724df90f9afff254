// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package wire

import (
	"time"
)

// Server-to-device messages. Field names and nesting are fixed by the
// firmware parser: commands are single-key objects, acks are keyed by
// "missing_chunks" or "ACK_OK".

// ============================================================================
// Acknowledgments  (device/{mac}/ack)
// ============================================================================

// MissingChunksAck asks the device to resend the listed chunk IDs for the
// named image. The device keeps the radio up until the request is served.
type MissingChunksAck struct {
	ImageName     string `json:"image_name"`
	MissingChunks []int  `json:"missing_chunks"`
}

// NewMissingChunksAck builds a resend request. Chunk IDs are passed
// through in ascending order as produced by the assembler.
func NewMissingChunksAck(imageName string, missing []int) *MissingChunksAck {
	return &MissingChunksAck{ImageName: imageName, MissingChunks: missing}
}

// TransferAck confirms a fully received image and tells the device when
// to wake next, releasing it to deep sleep.
type TransferAck struct {
	ImageName string     `json:"image_name,omitempty"`
	OK        AckPayload `json:"ACK_OK"`
}

// AckPayload carries the scheduling half of a transfer ack.
type AckPayload struct {
	NextWakeTime string `json:"next_wake_time"`
}

// NewTransferAck builds a transfer confirmation with the next wake time.
func NewTransferAck(imageName string, nextWake time.Time) *TransferAck {
	return &TransferAck{
		ImageName: imageName,
		OK:        AckPayload{NextWakeTime: FormatWakeTime(nextWake)},
	}
}

// ============================================================================
// Commands  (device/{mac}/cmd)
// ============================================================================

// SendImageCommand asks the device to retransmit a stored image. The
// firmware reads the image name directly from the "send_image" value.
type SendImageCommand struct {
	SendImage string `json:"send_image"`
}

// NewSendImageCommand builds a retransmit request for a stored image.
func NewSendImageCommand(imageName string) *SendImageCommand {
	return &SendImageCommand{SendImage: imageName}
}

// CaptureCommand triggers an immediate capture while the device is awake.
type CaptureCommand struct {
	CaptureImage bool `json:"capture_image"`
}

// NewCaptureCommand builds a capture trigger.
func NewCaptureCommand() *CaptureCommand {
	return &CaptureCommand{CaptureImage: true}
}

// NextWakeCommand pushes an updated wake time outside the ack path, used
// when a schedule changes while a device is mid-contact.
type NextWakeCommand struct {
	NextWake string `json:"next_wake"`
}

// NewNextWakeCommand builds a wake reschedule push.
func NewNextWakeCommand(nextWake time.Time) *NextWakeCommand {
	return &NextWakeCommand{NextWake: FormatWakeTime(nextWake)}
}

// FormatWakeTime renders a wake time the way firmware expects it,
// RFC 3339 in UTC.
func FormatWakeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
