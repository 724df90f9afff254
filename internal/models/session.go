// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a daily session. Transitions are
// strictly monotonic: pending -> in_progress -> locked. There is no
// "incomplete" state; whatever a session holds at day end is what it is,
// and lock closes the books.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionInProgress SessionStatus = "in_progress"
	SessionLocked     SessionStatus = "locked"
)

// DateFormat renders the site-local calendar day a session covers.
const DateFormat = "2006-01-02"

// Valid reports whether the status is one of the defined states.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionPending, SessionInProgress, SessionLocked:
		return true
	}
	return false
}

// CanTransitionTo enforces the monotonic session lifecycle.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionPending:
		return next == SessionInProgress || next == SessionLocked
	case SessionInProgress:
		return next == SessionLocked
	default:
		return false
	}
}

// Session is one site's ingestion ledger for one calendar day, held in the
// site's local timezone. Counters accumulate while the session is open and
// freeze at lock.
type Session struct {
	ID uuid.UUID `json:"id"`

	// Lineage at open time
	SiteID    uuid.UUID `json:"site_id"`
	ProgramID uuid.UUID `json:"program_id"`
	CompanyID uuid.UUID `json:"company_id"`

	// Site-local calendar day, DateFormat
	Date string `json:"date"`

	Status SessionStatus `json:"status"`

	// Accounting
	ExpectedWakes   int `json:"expected_wakes"`   // sum of roster bucket counts at open
	CompletedImages int `json:"completed_images"` // images that reached an observation
	FailedImages    int `json:"failed_images"`    // images that reached a terminal failure
	ExtraImages     int `json:"extra_images"`     // beyond a device's expected bucket count

	// RosterChanged flips when a device ingests into a session it was not
	// snapshotted into at open.
	RosterChanged bool `json:"roster_changed"`

	OpenedAt time.Time  `json:"opened_at"`
	LockedAt *time.Time `json:"locked_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsLocked reports whether the session's books are closed.
func (s *Session) IsLocked() bool {
	return s.Status == SessionLocked
}

// CompletenessPercent returns completed images as a percentage of expected
// wakes. Sessions with no expected wakes report 100: an empty roster has
// nothing outstanding.
func (s *Session) CompletenessPercent() float64 {
	if s.ExpectedWakes <= 0 {
		return 100
	}
	return float64(s.CompletedImages) / float64(s.ExpectedWakes) * 100
}

// SessionDate renders a moment as the session day it falls in at the given
// site location.
func SessionDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateFormat)
}

// SessionDevice is one roster entry: a device snapshotted into a session at
// open with the number of wake buckets its schedule promised for that day.
// Devices that appear later are added with ExpectedWakes 0 and LateAdded set.
type SessionDevice struct {
	SessionID     uuid.UUID `json:"session_id"`
	DeviceID      uuid.UUID `json:"device_id"`
	ExpectedWakes int       `json:"expected_wakes"`
	LateAdded     bool      `json:"late_added"`
	CreatedAt     time.Time `json:"created_at"`
}
