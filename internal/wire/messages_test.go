// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package wire

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// ===================================================================================================
// Classification Tests
// ===================================================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected MessageKind
	}{
		{
			"chunk message",
			`{"device_id":"B8F862F9CFB8","image_name":"image_1.jpg","chunk_id":0,"payload":"aGk="}`,
			KindChunk,
		},
		{
			"metadata with plural key",
			`{"device_id":"B8F862F9CFB8","image_name":"image_1.jpg","total_chunks_count":12}`,
			KindMetadata,
		},
		{
			"metadata with singular key",
			`{"device_id":"B8F862F9CFB8","image_name":"image_1.jpg","total_chunk_count":12}`,
			KindMetadata,
		},
		{
			"alive announcement",
			`{"device_id":"B8F862F9CFB8","status":"alive","pendingImg":3}`,
			KindAlive,
		},
		{
			"chunk wins over chunk count",
			`{"chunk_id":4,"total_chunks_count":12}`,
			KindChunk,
		},
		{
			"empty object",
			`{}`,
			KindUnknown,
		},
		{
			"not an object",
			`[1,2,3]`,
			KindUnknown,
		},
		{
			"invalid JSON",
			`{"device_id":`,
			KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify([]byte(tt.payload)); got != tt.expected {
				t.Errorf("Classify() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMessageKind_String(t *testing.T) {
	tests := []struct {
		kind     MessageKind
		expected string
	}{
		{KindAlive, "alive"},
		{KindMetadata, "metadata"},
		{KindChunk, "chunk"},
		{KindUnknown, "unknown"},
		{MessageKind(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.expected {
			t.Errorf("MessageKind(%d).String() = %q, want %q", tt.kind, got, tt.expected)
		}
	}
}

// ===================================================================================================
// Alive Tests
// ===================================================================================================

func TestDecodeAlive(t *testing.T) {
	msg, err := DecodeAlive([]byte(`{"device_id":"B8F862F9CFB8","status":"alive","pendingImg":3}`))
	if err != nil {
		t.Fatalf("DecodeAlive() error = %v", err)
	}
	if msg.DeviceID != "B8F862F9CFB8" {
		t.Errorf("DeviceID = %q", msg.DeviceID)
	}
	if !msg.IsAlive() {
		t.Error("IsAlive() = false, want true")
	}
	if msg.PendingImg != 3 {
		t.Errorf("PendingImg = %d, want 3", msg.PendingImg)
	}
}

func TestDecodeAlive_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"missing device_id", `{"status":"alive"}`},
		{"bad device_id", `{"device_id":"nope","status":"alive"}`},
		{"missing status", `{"device_id":"B8F862F9CFB8"}`},
		{"negative pending", `{"device_id":"B8F862F9CFB8","status":"alive","pendingImg":-1}`},
		{"invalid JSON", `{"device_id":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeAlive([]byte(tt.payload)); err == nil {
				t.Error("DecodeAlive() should fail")
			}
		})
	}
}

func TestDecodeAlive_NotAlive(t *testing.T) {
	_, err := DecodeAlive([]byte(`{"device_id":"B8F862F9CFB8","status":"rebooting"}`))
	if !errors.Is(err, ErrNotAlive) {
		t.Errorf("expected ErrNotAlive, got %v", err)
	}
}

func TestAlive_IsAlive_CaseInsensitive(t *testing.T) {
	a := &Alive{Status: "ALIVE"}
	if !a.IsAlive() {
		t.Error("IsAlive() should accept any case")
	}
}

// ===================================================================================================
// Metadata Tests
// ===================================================================================================

// simulatorMetadata mirrors the exact shape current firmware publishes.
const simulatorMetadata = `{
	"device_id": "B8F862F9CFB8",
	"capture_timestamp": "2026-08-14T08:01:42.512345Z",
	"image_name": "image_1755158502000.jpg",
	"image_size": 48213,
	"max_chunk_size": 8192,
	"total_chunks_count": 6,
	"location": "Site 12 North",
	"error": 0,
	"temperature": 71.3,
	"humidity": 58.1,
	"pressure": 1012.25,
	"gas_resistance": 50312.4
}`

func TestDecodeMetadata(t *testing.T) {
	msg, err := DecodeMetadata([]byte(simulatorMetadata))
	if err != nil {
		t.Fatalf("DecodeMetadata() error = %v", err)
	}

	if msg.DeviceID != "B8F862F9CFB8" {
		t.Errorf("DeviceID = %q", msg.DeviceID)
	}
	if msg.ImageName != "image_1755158502000.jpg" {
		t.Errorf("ImageName = %q", msg.ImageName)
	}
	if msg.ImageSize != 48213 {
		t.Errorf("ImageSize = %d", msg.ImageSize)
	}
	if msg.TotalChunks != 6 {
		t.Errorf("TotalChunks = %d, want 6", msg.TotalChunks)
	}
	if msg.HasFault() {
		t.Error("HasFault() = true for error 0")
	}
	if msg.Temperature == nil || *msg.Temperature != 71.3 {
		t.Errorf("Temperature = %v, want 71.3", msg.Temperature)
	}
	if msg.BatteryVoltage != nil {
		t.Errorf("BatteryVoltage = %v, want nil when absent", msg.BatteryVoltage)
	}

	captured, err := msg.CapturedAt()
	if err != nil {
		t.Fatalf("CapturedAt() error = %v", err)
	}
	want := time.Date(2026, 8, 14, 8, 1, 42, 512345000, time.UTC)
	if !captured.Equal(want) {
		t.Errorf("CapturedAt() = %v, want %v", captured, want)
	}
}

func TestDecodeMetadata_SingularChunkKey(t *testing.T) {
	payload := `{
		"device_id": "24DCC3A7250C",
		"capture_timestamp": "2026-08-14T16:00:05Z",
		"image_name": "image_2.jpg",
		"image_size": 1024,
		"max_chunk_size": 512,
		"total_chunk_count": 2
	}`

	msg, err := DecodeMetadata([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeMetadata() error = %v", err)
	}
	if msg.TotalChunks != 2 {
		t.Errorf("TotalChunks = %d, want 2 from total_chunk_count", msg.TotalChunks)
	}
}

func TestDecodeMetadata_PluralKeyWins(t *testing.T) {
	payload := `{
		"device_id": "24DCC3A7250C",
		"capture_timestamp": "2026-08-14T16:00:05Z",
		"image_name": "image_2.jpg",
		"image_size": 1024,
		"max_chunk_size": 512,
		"total_chunks_count": 3,
		"total_chunk_count": 9
	}`

	msg, err := DecodeMetadata([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeMetadata() error = %v", err)
	}
	if msg.TotalChunks != 3 {
		t.Errorf("TotalChunks = %d, want 3 when both keys present", msg.TotalChunks)
	}
}

func TestDecodeMetadata_FaultCode(t *testing.T) {
	payload := `{
		"device_id": "24DCC3A7250C",
		"capture_timestamp": "2026-08-14T16:00:05Z",
		"image_name": "image_2.jpg",
		"image_size": 1024,
		"max_chunk_size": 512,
		"total_chunks_count": 2,
		"error": "SD_WRITE_FAIL"
	}`

	msg, err := DecodeMetadata([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeMetadata() error = %v", err)
	}
	if !msg.HasFault() {
		t.Error("HasFault() = false for a fault code")
	}
	if string(msg.Error) != "SD_WRITE_FAIL" {
		t.Errorf("Error = %q", msg.Error)
	}
}

func TestDecodeMetadata_NumericFaultCode(t *testing.T) {
	payload := `{
		"device_id": "24DCC3A7250C",
		"capture_timestamp": "2026-08-14T16:00:05Z",
		"image_name": "image_2.jpg",
		"image_size": 1024,
		"max_chunk_size": 512,
		"total_chunks_count": 2,
		"error": 17
	}`

	msg, err := DecodeMetadata([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeMetadata() error = %v", err)
	}
	if !msg.HasFault() {
		t.Error("HasFault() = false for numeric code 17")
	}
	if string(msg.Error) != "17" {
		t.Errorf("Error = %q, want \"17\"", msg.Error)
	}
}

func TestDecodeMetadata_MissingSensors(t *testing.T) {
	payload := `{
		"device_id": "24DCC3A7250C",
		"capture_timestamp": "2026-08-14T16:00:05Z",
		"image_name": "image_2.jpg",
		"image_size": 1024,
		"max_chunk_size": 512,
		"total_chunks_count": 2
	}`

	msg, err := DecodeMetadata([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeMetadata() error = %v", err)
	}
	if msg.Temperature != nil || msg.Humidity != nil || msg.Pressure != nil || msg.GasResistance != nil {
		t.Error("absent sensor readings should stay nil")
	}
}

func TestDecodeMetadata_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{
			"missing image name",
			`{"device_id":"24DCC3A7250C","capture_timestamp":"2026-08-14T16:00:05Z","image_size":1,"max_chunk_size":1,"total_chunks_count":1}`,
		},
		{
			"path traversal image name",
			`{"device_id":"24DCC3A7250C","capture_timestamp":"2026-08-14T16:00:05Z","image_name":"../x.jpg","image_size":1,"max_chunk_size":1,"total_chunks_count":1}`,
		},
		{
			"zero chunk count",
			`{"device_id":"24DCC3A7250C","capture_timestamp":"2026-08-14T16:00:05Z","image_name":"x.jpg","image_size":1,"max_chunk_size":1,"total_chunks_count":0}`,
		},
		{
			"zero image size",
			`{"device_id":"24DCC3A7250C","capture_timestamp":"2026-08-14T16:00:05Z","image_name":"x.jpg","image_size":0,"max_chunk_size":1,"total_chunks_count":1}`,
		},
		{
			"garbage timestamp",
			`{"device_id":"24DCC3A7250C","capture_timestamp":"yesterday","image_name":"x.jpg","image_size":1,"max_chunk_size":1,"total_chunks_count":1}`,
		},
		{
			"invalid JSON",
			`{"device_id"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeMetadata([]byte(tt.payload)); err == nil {
				t.Error("DecodeMetadata() should fail")
			}
		})
	}
}

// ===================================================================================================
// Chunk Tests
// ===================================================================================================

func TestDecodeChunk_Base64Payload(t *testing.T) {
	payload := `{
		"device_id": "B8F862F9CFB8",
		"image_name": "image_1.jpg",
		"chunk_id": 4,
		"max_chunk_size": 8192,
		"payload": "/9j/4AA="
	}`

	msg, err := DecodeChunk([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeChunk() error = %v", err)
	}
	if msg.ChunkID != 4 {
		t.Errorf("ChunkID = %d, want 4", msg.ChunkID)
	}
	want := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}
	if string(msg.Payload) != string(want) {
		t.Errorf("Payload = %x, want %x", []byte(msg.Payload), want)
	}
}

func TestDecodeChunk_ByteArrayPayload(t *testing.T) {
	payload := `{
		"device_id": "B8F862F9CFB8",
		"image_name": "image_1.jpg",
		"chunk_id": 0,
		"max_chunk_size": 8192,
		"payload": [255, 216, 255, 224]
	}`

	msg, err := DecodeChunk([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeChunk() error = %v", err)
	}
	want := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	if string(msg.Payload) != string(want) {
		t.Errorf("Payload = %x, want %x", []byte(msg.Payload), want)
	}
}

func TestDecodeChunk_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{
			"empty payload string",
			`{"device_id":"B8F862F9CFB8","image_name":"x.jpg","chunk_id":0,"payload":""}`,
		},
		{
			"missing payload",
			`{"device_id":"B8F862F9CFB8","image_name":"x.jpg","chunk_id":0}`,
		},
		{
			"negative chunk id",
			`{"device_id":"B8F862F9CFB8","image_name":"x.jpg","chunk_id":-1,"payload":"aGk="}`,
		},
		{
			"missing image name",
			`{"device_id":"B8F862F9CFB8","chunk_id":0,"payload":"aGk="}`,
		},
		{
			"bad device id",
			`{"device_id":"short","image_name":"x.jpg","chunk_id":0,"payload":"aGk="}`,
		},
		{
			"payload wrong type",
			`{"device_id":"B8F862F9CFB8","image_name":"x.jpg","chunk_id":0,"payload":{"a":1}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeChunk([]byte(tt.payload)); err == nil {
				t.Error("DecodeChunk() should fail")
			}
		})
	}
}

// ===================================================================================================
// Timestamp Parsing Tests
// ===================================================================================================

func TestParseCaptureTimestamp(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Time
	}{
		{
			"RFC3339 with fractional seconds",
			"2026-08-14T08:01:42.512345Z",
			time.Date(2026, 8, 14, 8, 1, 42, 512345000, time.UTC),
		},
		{
			"RFC3339 whole seconds",
			"2026-08-14T08:01:42Z",
			time.Date(2026, 8, 14, 8, 1, 42, 0, time.UTC),
		},
		{
			"naive with fractional seconds",
			"2026-08-14T08:01:42.500000",
			time.Date(2026, 8, 14, 8, 1, 42, 500000000, time.UTC),
		},
		{
			"naive whole seconds",
			"2026-08-14T08:01:42",
			time.Date(2026, 8, 14, 8, 1, 42, 0, time.UTC),
		},
		{
			"offset converted to UTC",
			"2026-08-14T03:01:42-05:00",
			time.Date(2026, 8, 14, 8, 1, 42, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCaptureTimestamp(tt.input)
			if err != nil {
				t.Fatalf("ParseCaptureTimestamp(%q) error = %v", tt.input, err)
			}
			if !got.Equal(tt.expected) {
				t.Errorf("ParseCaptureTimestamp(%q) = %v, want %v", tt.input, got, tt.expected)
			}
			if got.Location() != time.UTC {
				t.Errorf("result should be in UTC, got %v", got.Location())
			}
		})
	}
}

func TestParseCaptureTimestamp_Invalid(t *testing.T) {
	for _, input := range []string{"", "yesterday", "14/08/2026", "1755158502"} {
		if _, err := ParseCaptureTimestamp(input); err == nil {
			t.Errorf("ParseCaptureTimestamp(%q) should fail", input)
		}
	}
}

func TestParseCaptureTimestamp_ErrorMentionsInput(t *testing.T) {
	_, err := ParseCaptureTimestamp("garbage")
	if err == nil || !strings.Contains(err.Error(), "garbage") {
		t.Errorf("error should mention the input, got %v", err)
	}
}
