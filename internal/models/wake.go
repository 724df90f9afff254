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

// WakeEventStatus is the lifecycle state of a wake event. Every announced
// capture ends terminal: complete when its image reached an observation,
// failed when it did not.
type WakeEventStatus string

const (
	WakePending  WakeEventStatus = "pending"
	WakeComplete WakeEventStatus = "complete"
	WakeFailed   WakeEventStatus = "failed"
)

// Valid reports whether the status is one of the defined states.
func (s WakeEventStatus) Valid() bool {
	switch s {
	case WakePending, WakeComplete, WakeFailed:
		return true
	}
	return false
}

// WakeEvent records one announced capture within a device wake.
//
// CapturedAt is the device's own clock and is never overwritten once
// written; ReceivedAt is the server clock and moves forward on every
// contact for the same capture, including retransmissions days later.
// The distance between the two is the transfer lag operators watch.
type WakeEvent struct {
	ID uuid.UUID `json:"id"`

	DeviceID  uuid.UUID `json:"device_id"`
	DeviceMAC string    `json:"device_mac"`
	SessionID uuid.UUID `json:"session_id"`

	// Lineage at ingest time
	SiteID    uuid.UUID `json:"site_id"`
	ProgramID uuid.UUID `json:"program_id"`
	CompanyID uuid.UUID `json:"company_id"`

	CapturedAt time.Time `json:"captured_at"` // device clock, authoritative
	ReceivedAt time.Time `json:"received_at"` // server clock, updated on resends

	// Wake window fit
	WakeIndex int  `json:"wake_index"` // 1-based index into the day's schedule buckets
	Overage   bool `json:"overage"`    // contact fell outside the window tolerance

	// Telemetry snapshot, stored verbatim as received. Battery voltage is
	// additionally columnar for the low-battery lock check.
	Telemetry      json.RawMessage `json:"telemetry,omitempty"`
	BatteryVoltage *float64        `json:"battery_voltage,omitempty"`

	Status  WakeEventStatus `json:"status"`
	ImageID *uuid.UUID      `json:"image_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal reports whether the wake event has closed out.
func (w *WakeEvent) IsTerminal() bool {
	return w.Status == WakeComplete || w.Status == WakeFailed
}

// Telemetry is the environmental snapshot a device reports alongside each
// capture. Values pass through exactly as received; absent readings stay
// nil rather than zero so a dead sensor is distinguishable from a cold one.
type Telemetry struct {
	Temperature    *float64 `json:"temperature,omitempty"`
	Humidity       *float64 `json:"humidity,omitempty"`
	Pressure       *float64 `json:"pressure,omitempty"`
	GasResistance  *float64 `json:"gas_resistance,omitempty"`
	BatteryVoltage *float64 `json:"battery_voltage,omitempty"`
	Location       string   `json:"location,omitempty"`
	DeviceError    string   `json:"device_error,omitempty"` // firmware fault code, empty when healthy
}

// Snapshot serializes the telemetry for verbatim storage.
func (t *Telemetry) Snapshot() (json.RawMessage, error) {
	return json.Marshal(t)
}
