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

	"github.com/tomtom215/arborlink/internal/models"
)

// GetDeviceByMAC fetches a device row by normalized MAC.
func (db *DB) GetDeviceByMAC(ctx context.Context, mac string) (*models.Device, error) {
	mac = models.NormalizeMAC(mac)
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, mac, wake_schedule, pending_schedule, pending_schedule_since,
		       last_contact_at, next_wake_at, created_at, updated_at
		FROM devices WHERE mac = ?`, mac)

	var d models.Device
	err := row.Scan(&d.ID, &d.MAC, &d.WakeSchedule, &d.PendingSchedule, &d.PendingScheduleSince,
		&d.LastContactAt, &d.NextWakeAt, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %s: %w", mac, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", mac, err)
	}
	return &d, nil
}

// TouchDeviceContact advances the device's last-contact timestamp.
// Called on every accepted contact, cheap enough to not batch.
func (db *DB) TouchDeviceContact(ctx context.Context, deviceID uuid.UUID, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE devices SET last_contact_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		at.UTC(), deviceID)
	if err != nil {
		return fmt.Errorf("touch device contact: %w", err)
	}
	return nil
}

// SetDeviceNextWake records the wake time the finalizer acknowledged to the
// device, so operators can see when a silent device was due back.
func (db *DB) SetDeviceNextWake(ctx context.Context, deviceID uuid.UUID, nextWake time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE devices SET next_wake_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		nextWake.UTC(), deviceID)
	if err != nil {
		return fmt.Errorf("set device next wake: %w", err)
	}
	return nil
}

// QueueScheduleChange stages a new wake-schedule expression for a device.
// The expression takes effect at the next day-open for the device's site,
// never mid-day, so a session's expected count cannot shift under it.
func (db *DB) QueueScheduleChange(ctx context.Context, deviceID uuid.UUID, expression string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE devices SET pending_schedule = ?, pending_schedule_since = CURRENT_TIMESTAMP,
		        updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, expression, deviceID)
	if err != nil {
		return fmt.Errorf("queue schedule change: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue schedule change for %s: %w", deviceID, ErrNotFound)
	}
	return nil
}

// promotePendingSchedules applies queued schedule changes for every device
// actively assigned to the site, inside the day-open transaction. Returns
// the MACs whose schedules changed so the caller can invalidate its
// lineage cache.
func promotePendingSchedules(ctx context.Context, tx *sql.Tx, siteID uuid.UUID) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT d.id, d.mac, d.pending_schedule
		FROM devices d
		JOIN device_assignments a ON a.device_id = d.id AND a.active
		WHERE a.site_id = ? AND d.pending_schedule IS NOT NULL`, siteID)
	if err != nil {
		return nil, fmt.Errorf("query pending schedules: %w", err)
	}

	type change struct {
		id   uuid.UUID
		mac  string
		expr string
	}
	var changes []change
	for rows.Next() {
		var c change
		if err := rows.Scan(&c.id, &c.mac, &c.expr); err != nil {
			closeQuietly(rows)
			return nil, fmt.Errorf("scan pending schedule: %w", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		closeQuietly(rows)
		return nil, err
	}
	closeWithLog(rows, "pending schedule rows")

	macs := make([]string, 0, len(changes))
	for _, c := range changes {
		if _, err := tx.ExecContext(ctx, `
			UPDATE devices
			SET wake_schedule = ?, pending_schedule = NULL, pending_schedule_since = NULL,
			    updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`, c.expr, c.id); err != nil {
			return nil, fmt.Errorf("promote schedule for %s: %w", c.mac, err)
		}
		macs = append(macs, c.mac)
	}
	return macs, nil
}

// assignedDevices returns the device id, MAC and schedule expression of
// every device actively assigned to the site, for the roster snapshot.
func assignedDevices(ctx context.Context, tx *sql.Tx, siteID uuid.UUID) ([]rosterDevice, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT d.id, d.mac, d.wake_schedule
		FROM devices d
		JOIN device_assignments a ON a.device_id = d.id AND a.active
		WHERE a.site_id = ?
		ORDER BY d.mac`, siteID)
	if err != nil {
		return nil, fmt.Errorf("query assigned devices: %w", err)
	}
	defer closeWithLog(rows, "assigned device rows")

	var devices []rosterDevice
	for rows.Next() {
		var d rosterDevice
		if err := rows.Scan(&d.ID, &d.MAC, &d.WakeSchedule); err != nil {
			return nil, fmt.Errorf("scan assigned device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// rosterDevice is one assigned device as seen at day-open.
type rosterDevice struct {
	ID           uuid.UUID
	MAC          string
	WakeSchedule string
}
