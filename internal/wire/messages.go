// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package wire

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/arborlink/internal/validation"
)

// MessageKind discriminates inbound device messages.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindAlive
	KindMetadata
	KindChunk
)

// String returns the kind label used in logs and metrics.
func (k MessageKind) String() string {
	switch k {
	case KindAlive:
		return "alive"
	case KindMetadata:
		return "metadata"
	case KindChunk:
		return "chunk"
	default:
		return "unknown"
	}
}

// Classify inspects a raw payload and reports its message kind without
// fully decoding it. The data topic multiplexes metadata and chunks;
// firmware marks chunks by the presence of "chunk_id".
func Classify(data []byte) MessageKind {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return KindUnknown
	}
	if _, ok := probe["chunk_id"]; ok {
		return KindChunk
	}
	if _, ok := probe["total_chunks_count"]; ok {
		return KindMetadata
	}
	if _, ok := probe["total_chunk_count"]; ok {
		return KindMetadata
	}
	if _, ok := probe["status"]; ok {
		return KindAlive
	}
	return KindUnknown
}

// ============================================================================
// Alive announcement  (device/{mac}/status)
// ============================================================================

// Alive is the first contact of a wake cycle. The device announces itself
// and reports how many captured images are still waiting on its SD card.
type Alive struct {
	DeviceID   string `json:"device_id" validate:"required,device_id"`
	Status     string `json:"status" validate:"required"`    // "alive" on every observed firmware
	PendingImg int    `json:"pendingImg" validate:"min=0"`   // backlog depth on the device
}

// IsAlive reports whether the announcement carries the alive status.
func (a *Alive) IsAlive() bool {
	return strings.EqualFold(a.Status, "alive")
}

// DecodeAlive parses and validates an alive announcement.
func DecodeAlive(data []byte) (*Alive, error) {
	var msg Alive
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode alive: %w", err)
	}
	if err := validation.ValidateStruct(&msg); err != nil {
		return nil, fmt.Errorf("validate alive: %w", err)
	}
	if !msg.IsAlive() {
		return nil, fmt.Errorf("%w: %q", ErrNotAlive, msg.Status)
	}
	return &msg, nil
}

// ============================================================================
// Image metadata  (ESP32CAM/{mac}/data)
// ============================================================================

// Metadata announces one captured image before its chunks arrive. It
// carries the capture timestamp, transfer geometry and the environmental
// sensor readings taken at capture time.
type Metadata struct {
	DeviceID         string     `json:"device_id" validate:"required,device_id"`
	CaptureTimestamp string     `json:"capture_timestamp" validate:"required"`
	ImageName        string     `json:"image_name" validate:"required,stable_name"`
	ImageSize        int64      `json:"image_size" validate:"min=1"`
	MaxChunkSize     int        `json:"max_chunk_size" validate:"min=1"`
	TotalChunks      int        `json:"total_chunks_count" validate:"min=1,max=100000"`
	Location         string     `json:"location,omitempty"`
	Error            FlexString `json:"error,omitempty"` // firmware fault code, 0 when healthy

	// BME680 readings, absent on sensor failure
	Temperature   *float64 `json:"temperature,omitempty"`
	Humidity      *float64 `json:"humidity,omitempty"`
	Pressure      *float64 `json:"pressure,omitempty"`
	GasResistance *float64 `json:"gas_resistance,omitempty"`

	// Power telemetry, only on newer boards
	BatteryVoltage *float64 `json:"battery_voltage,omitempty"`
}

// UnmarshalJSON additionally reads the total-chunk count from the
// "total_chunk_count" key used by one firmware generation.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	type Alias Metadata
	aux := struct {
		*Alias
		TotalChunksAlt int `json:"total_chunk_count"`
	}{Alias: (*Alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if m.TotalChunks == 0 && aux.TotalChunksAlt > 0 {
		m.TotalChunks = aux.TotalChunksAlt
	}
	return nil
}

// HasFault reports whether the firmware flagged an error at capture time.
func (m *Metadata) HasFault() bool {
	return !m.Error.IsZero()
}

// CapturedAt parses the capture timestamp. Firmware emits ISO 8601 with a
// trailing Z; naive timestamps without a zone are treated as UTC.
func (m *Metadata) CapturedAt() (time.Time, error) {
	return ParseCaptureTimestamp(m.CaptureTimestamp)
}

// DecodeMetadata parses and validates an image metadata message.
func DecodeMetadata(data []byte) (*Metadata, error) {
	var msg Metadata
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if err := validation.ValidateStruct(&msg); err != nil {
		return nil, fmt.Errorf("validate metadata: %w", err)
	}
	if _, err := msg.CapturedAt(); err != nil {
		return nil, fmt.Errorf("validate metadata: %w", err)
	}
	return &msg, nil
}

// ============================================================================
// Image chunk  (ESP32CAM/{mac}/data)
// ============================================================================

// Chunk carries one zero-indexed slice of an image's bytes.
type Chunk struct {
	DeviceID     string       `json:"device_id" validate:"required,device_id"`
	ImageName    string       `json:"image_name" validate:"required,stable_name"`
	ChunkID      int          `json:"chunk_id" validate:"min=0,max=99999"`
	MaxChunkSize int          `json:"max_chunk_size,omitempty" validate:"min=0"`
	Payload      ChunkPayload `json:"payload"`
}

// DecodeChunk parses and validates an image chunk message.
func DecodeChunk(data []byte) (*Chunk, error) {
	var msg Chunk
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode chunk: %w", err)
	}
	if err := validation.ValidateStruct(&msg); err != nil {
		return nil, fmt.Errorf("validate chunk: %w", err)
	}
	if len(msg.Payload) == 0 {
		return nil, fmt.Errorf("validate chunk: %w", ErrEmptyPayload)
	}
	return &msg, nil
}

// ============================================================================
// Capture timestamp parsing
// ============================================================================

// captureLayouts covers the timestamp shapes seen from deployed firmware:
// full RFC 3339 with or without fractional seconds, and naive ISO 8601
// from boards whose RTC formatter drops the zone suffix.
var captureLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// ParseCaptureTimestamp parses a device capture timestamp into UTC.
func ParseCaptureTimestamp(s string) (time.Time, error) {
	for _, layout := range captureLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized capture timestamp %q", s)
}
