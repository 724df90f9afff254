// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertKind classifies the conditions session accounting reports on.
type AlertKind string

const (
	// AlertLowCompletion fires at lock when a session's completion ratio
	// fell below the configured threshold.
	AlertLowCompletion AlertKind = "low_completion"

	// AlertDeviceFailures fires at lock when one device accumulated too
	// many failed images in a day.
	AlertDeviceFailures AlertKind = "device_failures"

	// AlertLowBattery fires at lock when a device reported a battery
	// voltage below the configured floor.
	AlertLowBattery AlertKind = "low_battery"

	// AlertImageFailed fires when an individual image reaches a terminal
	// failure.
	AlertImageFailed AlertKind = "image_failed"
)

// Valid reports whether the kind is one of the defined values.
func (k AlertKind) Valid() bool {
	switch k {
	case AlertLowCompletion, AlertDeviceFailures, AlertLowBattery, AlertImageFailed:
		return true
	}
	return false
}

// Alert is a reported condition, scoped to a session, a device or both.
// Alerts are write-once observations for downstream consumers; raising
// one never blocks or rolls back the ingestion that triggered it.
type Alert struct {
	ID        uuid.UUID  `json:"id"`
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	DeviceID  *uuid.UUID `json:"device_id,omitempty"`
	Kind      AlertKind  `json:"kind"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
}
