// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Device represents one camera board in the field.
//
// The MAC address is the natural key: it is what firmware reports in every
// message and what operators use to register hardware. Devices are never
// deleted; decommissioned hardware simply stops contacting and keeps its
// history.
//
// Schedule changes are two-phase. A changed expression lands in
// PendingSchedule and is promoted to WakeSchedule at the next day-open, so
// a session's expected wake count never shifts under it mid-day.
type Device struct {
	ID  uuid.UUID `json:"id"`
	MAC string    `json:"mac"` // normalized uppercase hex, no separators

	// Assignment (nil while the device is unprovisioned)
	SiteID *uuid.UUID `json:"site_id,omitempty"`

	// Wake scheduling
	WakeSchedule         string     `json:"wake_schedule"`                    // e.g. "8,16" or "every 4 hours"
	PendingSchedule      *string    `json:"pending_schedule,omitempty"`       // applied at next day-open
	PendingScheduleSince *time.Time `json:"pending_schedule_since,omitempty"`

	// Contact tracking
	LastContactAt *time.Time `json:"last_contact_at,omitempty"`
	NextWakeAt    *time.Time `json:"next_wake_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAssigned reports whether the device has a site and can ingest.
func (d *Device) IsAssigned() bool {
	return d.SiteID != nil
}

// NormalizeMAC canonicalizes a device-reported MAC: uppercase hex with
// colon and hyphen separators stripped. Lookups and storage always use
// this form so the same board matches regardless of firmware formatting.
func NormalizeMAC(mac string) string {
	replacer := strings.NewReplacer(":", "", "-", "")
	return strings.ToUpper(replacer.Replace(strings.TrimSpace(mac)))
}

// Lineage is the resolved organizational context of a device: the site the
// device sits at, the program the site belongs to and the company running
// the program. Every wake event and observation carries a full copy so
// rows stay attributable after reassignments.
type Lineage struct {
	CompanyID   uuid.UUID `json:"company_id"`
	CompanyName string    `json:"company_name"`
	ProgramID   uuid.UUID `json:"program_id"`
	ProgramName string    `json:"program_name"`
	SiteID      uuid.UUID `json:"site_id"`
	SiteName    string    `json:"site_name"`
	Timezone    string    `json:"timezone"` // IANA name, drives the site-local session day
}

// Location loads the site's timezone, falling back to UTC when the stored
// name does not resolve.
func (l *Lineage) Location() *time.Location {
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
