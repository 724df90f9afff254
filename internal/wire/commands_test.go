// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package wire

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

// Firmware parses these messages with fixed key lookups, so the tests
// assert the exact serialized JSON rather than a decoded equivalent.

func TestMissingChunksAck_Serialization(t *testing.T) {
	ack := NewMissingChunksAck("image_1.jpg", []int{2, 5, 8})

	data, err := json.Marshal(ack)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := `{"image_name":"image_1.jpg","missing_chunks":[2,5,8]}`
	if string(data) != want {
		t.Errorf("serialized = %s, want %s", data, want)
	}
}

func TestMissingChunksAck_EmptyList(t *testing.T) {
	ack := NewMissingChunksAck("image_1.jpg", []int{})

	data, err := json.Marshal(ack)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := `{"image_name":"image_1.jpg","missing_chunks":[]}`
	if string(data) != want {
		t.Errorf("serialized = %s, want %s", data, want)
	}
}

func TestTransferAck_Serialization(t *testing.T) {
	next := time.Date(2026, 8, 14, 16, 0, 0, 0, time.UTC)
	ack := NewTransferAck("image_1.jpg", next)

	data, err := json.Marshal(ack)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := `{"image_name":"image_1.jpg","ACK_OK":{"next_wake_time":"2026-08-14T16:00:00Z"}}`
	if string(data) != want {
		t.Errorf("serialized = %s, want %s", data, want)
	}
}

func TestSendImageCommand_Serialization(t *testing.T) {
	cmd := NewSendImageCommand("image_1755158502000.jpg")

	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// The firmware reads the image name straight from the value.
	want := `{"send_image":"image_1755158502000.jpg"}`
	if string(data) != want {
		t.Errorf("serialized = %s, want %s", data, want)
	}
}

func TestCaptureCommand_Serialization(t *testing.T) {
	data, err := json.Marshal(NewCaptureCommand())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := `{"capture_image":true}`
	if string(data) != want {
		t.Errorf("serialized = %s, want %s", data, want)
	}
}

func TestNextWakeCommand_Serialization(t *testing.T) {
	next := time.Date(2026, 8, 15, 8, 0, 0, 0, time.UTC)
	data, err := json.Marshal(NewNextWakeCommand(next))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := `{"next_wake":"2026-08-15T08:00:00Z"}`
	if string(data) != want {
		t.Errorf("serialized = %s, want %s", data, want)
	}
}

func TestFormatWakeTime_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	local := time.Date(2026, 8, 14, 11, 0, 0, 0, loc)

	if got := FormatWakeTime(local); got != "2026-08-14T16:00:00Z" {
		t.Errorf("FormatWakeTime() = %q, want UTC rendering", got)
	}
}
