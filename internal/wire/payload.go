// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package wire

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/goccy/go-json"
)

// ChunkPayload holds the decoded bytes of one image chunk.
//
// Current firmware encodes the payload as a base64 string; the previous
// generation encodes it as a JSON array of byte values. Both forms decode
// into raw bytes. Encoding always produces the base64 form.
type ChunkPayload []byte

// UnmarshalJSON accepts either a base64 string or an array of byte values.
func (p *ChunkPayload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return ErrEmptyPayload
	}

	switch trimmed[0] {
	case '"':
		var encoded string
		if err := json.Unmarshal(trimmed, &encoded); err != nil {
			return fmt.Errorf("payload string: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("payload base64: %w", err)
		}
		*p = raw
		return nil

	case '[':
		var values []int
		if err := json.Unmarshal(trimmed, &values); err != nil {
			return fmt.Errorf("payload array: %w", err)
		}
		raw := make([]byte, len(values))
		for i, v := range values {
			if v < 0 || v > 255 {
				return fmt.Errorf("payload array: value %d at index %d outside byte range", v, i)
			}
			raw[i] = byte(v)
		}
		*p = raw
		return nil

	case 'n':
		if string(trimmed) == "null" {
			*p = nil
			return nil
		}
	}

	return fmt.Errorf("payload must be a base64 string or byte array, got %q", previewJSON(trimmed))
}

// MarshalJSON always emits the canonical base64 string form.
func (p ChunkPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(p))
}

// FlexString accepts a JSON string, a bare number or null, keeping the
// textual form. Firmware reports the metadata error field as the number 0
// when no fault occurred and as a short code otherwise.
type FlexString string

// UnmarshalJSON keeps strings as-is and stringifies bare values.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*f = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(trimmed)
	return nil
}

// MarshalJSON emits the string form.
func (f FlexString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(f))
}

// IsZero reports whether the value is absent or the firmware "no fault"
// sentinel.
func (f FlexString) IsZero() bool {
	return f == "" || f == "0"
}

// previewJSON truncates raw JSON for inclusion in error messages.
func previewJSON(data []byte) string {
	const maxPreview = 32
	if len(data) > maxPreview {
		return string(data[:maxPreview]) + "..."
	}
	return string(data)
}
