// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/arborlink/internal/metrics"
	"github.com/tomtom215/arborlink/internal/models"
)

// Site is a deployment location row as the session scheduler sees it.
type Site struct {
	ID        uuid.UUID
	ProgramID uuid.UUID
	CompanyID uuid.UUID
	Name      string
	Timezone  string
}

// Location resolves the site's IANA timezone, UTC on failure.
func (s *Site) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ActiveAssignment returns the device row and full lineage chain for a
// normalized MAC, or (nil, nil, nil) when the device is unknown or has no
// active site assignment. This is the resolver's backing lookup.
func (db *DB) ActiveAssignment(ctx context.Context, mac string) (*models.Device, *models.Lineage, error) {
	query := `
		SELECT d.id, d.mac, d.wake_schedule, d.pending_schedule, d.pending_schedule_since,
		       d.last_contact_at, d.next_wake_at, d.created_at, d.updated_at,
		       s.id, s.name, s.timezone,
		       p.id, p.name,
		       c.id, c.name
		FROM devices d
		JOIN device_assignments a ON a.device_id = d.id AND a.active
		JOIN sites s ON s.id = a.site_id
		JOIN programs p ON p.id = s.program_id
		JOIN companies c ON c.id = p.company_id
		WHERE d.mac = ?`

	start := time.Now()
	row := db.conn.QueryRowContext(ctx, query, mac)

	var (
		d   models.Device
		lin models.Lineage
	)
	err := row.Scan(
		&d.ID, &d.MAC, &d.WakeSchedule, &d.PendingSchedule, &d.PendingScheduleSince,
		&d.LastContactAt, &d.NextWakeAt, &d.CreatedAt, &d.UpdatedAt,
		&lin.SiteID, &lin.SiteName, &lin.Timezone,
		&lin.ProgramID, &lin.ProgramName,
		&lin.CompanyID, &lin.CompanyName,
	)
	metrics.RecordDBQuery("active_assignment", "devices", time.Since(start), err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("active assignment for %s: %w", mac, err)
	}

	siteID := lin.SiteID
	d.SiteID = &siteID
	return &d, &lin, nil
}

// ListSites returns every site that currently has at least one assigned
// device. The session scheduler iterates this set each tick.
func (db *DB) ListSites(ctx context.Context) ([]Site, error) {
	query := `
		SELECT DISTINCT s.id, s.program_id, p.company_id, s.name, s.timezone
		FROM sites s
		JOIN programs p ON p.id = s.program_id
		JOIN device_assignments a ON a.site_id = s.id AND a.active
		ORDER BY s.name`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer closeWithLog(rows, "site rows")

	var sites []Site
	for rows.Next() {
		var s Site
		if err := rows.Scan(&s.ID, &s.ProgramID, &s.CompanyID, &s.Name, &s.Timezone); err != nil {
			return nil, fmt.Errorf("scan site row: %w", err)
		}
		sites = append(sites, s)
	}
	return sites, rows.Err()
}

// ============================================================================
// Provisioning
//
// Program/site/company administration is a downstream CRUD surface; these
// minimal writers exist so deployments and tests can stand up a fleet.
// ============================================================================

// CreateCompany inserts a company and returns its id.
func (db *DB) CreateCompany(ctx context.Context, name string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO companies (id, name) VALUES (?, ?)`, id, name)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create company %q: %w", name, err)
	}
	return id, nil
}

// CreateProgram inserts a program under a company and returns its id.
func (db *DB) CreateProgram(ctx context.Context, companyID uuid.UUID, name string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO programs (id, company_id, name) VALUES (?, ?, ?)`, id, companyID, name)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create program %q: %w", name, err)
	}
	return id, nil
}

// CreateSite inserts a site under a program and returns its id.
func (db *DB) CreateSite(ctx context.Context, programID uuid.UUID, name, timezone string) (uuid.UUID, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	id := uuid.New()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sites (id, program_id, name, timezone) VALUES (?, ?, ?, ?)`,
		id, programID, name, timezone)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create site %q: %w", name, err)
	}
	return id, nil
}

// RegisterDevice inserts a device by MAC with a wake schedule expression.
func (db *DB) RegisterDevice(ctx context.Context, mac, wakeSchedule string) (uuid.UUID, error) {
	mac = models.NormalizeMAC(mac)
	id := uuid.New()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO devices (id, mac, wake_schedule) VALUES (?, ?, ?)`,
		id, mac, wakeSchedule)
	if err != nil {
		return uuid.Nil, fmt.Errorf("register device %s: %w", mac, err)
	}
	return id, nil
}

// AssignDevice makes siteID the device's single active assignment,
// retiring any previous one.
func (db *DB) AssignDevice(ctx context.Context, deviceID, siteID uuid.UUID) error {
	return db.withTx(ctx, "assign_device", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE device_assignments SET active = false, unassigned_at = CURRENT_TIMESTAMP
			 WHERE device_id = ? AND active`, deviceID); err != nil {
			return fmt.Errorf("retire previous assignment: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO device_assignments (id, device_id, site_id, active) VALUES (?, ?, ?, true)`,
			uuid.New(), deviceID, siteID); err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}
		return nil
	})
}

// UnassignDevice retires the device's active assignment. Its subsequent
// contacts fail closed at the resolver until it is reassigned.
func (db *DB) UnassignDevice(ctx context.Context, deviceID uuid.UUID) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE device_assignments SET active = false, unassigned_at = CURRENT_TIMESTAMP
		 WHERE device_id = ? AND active`, deviceID)
	if err != nil {
		return fmt.Errorf("unassign device: %w", err)
	}
	return nil
}
