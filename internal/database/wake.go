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

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/arborlink/internal/metrics"
	"github.com/tomtom215/arborlink/internal/models"
)

// IngestWakeParams carries everything the wake-event insert needs. The wake
// index and overage flag are computed by the caller against the device's
// parsed schedule; telemetry is stored verbatim as received.
type IngestWakeParams struct {
	Device         *models.Device
	Lineage        *models.Lineage
	SessionID      uuid.UUID
	CapturedAt     time.Time
	ReceivedAt     time.Time
	WakeIndex      int
	Overage        bool
	Telemetry      json.RawMessage
	BatteryVoltage *float64
}

// IngestWake records one announced capture: inserts the wake event with
// full lineage, advances the device's last-contact timestamp, and ensures
// the device is on the session roster. captured_at is written here and
// never again.
func (db *DB) IngestWake(ctx context.Context, p IngestWakeParams) (*models.WakeEvent, error) {
	if p.Device == nil || p.Lineage == nil {
		return nil, fmt.Errorf("ingest wake: missing device or lineage")
	}

	now := p.ReceivedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	event := &models.WakeEvent{
		ID:             uuid.New(),
		DeviceID:       p.Device.ID,
		DeviceMAC:      p.Device.MAC,
		SessionID:      p.SessionID,
		SiteID:         p.Lineage.SiteID,
		ProgramID:      p.Lineage.ProgramID,
		CompanyID:      p.Lineage.CompanyID,
		CapturedAt:     p.CapturedAt.UTC(),
		ReceivedAt:     now.UTC(),
		WakeIndex:      p.WakeIndex,
		Overage:        p.Overage,
		Telemetry:      p.Telemetry,
		BatteryVoltage: p.BatteryVoltage,
		Status:         models.WakePending,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}

	err := db.withTx(ctx, "ingest_wake", func(tx *sql.Tx) error {
		var telemetry any
		if len(event.Telemetry) > 0 {
			telemetry = string(event.Telemetry)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO wake_events (id, device_id, device_mac, session_id,
			        site_id, program_id, company_id,
			        captured_at, received_at, wake_index, overage,
			        telemetry, battery_voltage, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			event.ID, event.DeviceID, event.DeviceMAC, event.SessionID,
			event.SiteID, event.ProgramID, event.CompanyID,
			event.CapturedAt, event.ReceivedAt, event.WakeIndex, event.Overage,
			telemetry, event.BatteryVoltage, string(event.Status),
		); err != nil {
			return fmt.Errorf("insert wake event: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE devices SET last_contact_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			event.ReceivedAt, event.DeviceID); err != nil {
			return fmt.Errorf("touch device: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordWakeEvent(event.Overage)
	return event, nil
}

// GetWakeEvent fetches a wake event by id.
func (db *DB) GetWakeEvent(ctx context.Context, id uuid.UUID) (*models.WakeEvent, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, device_id, device_mac, session_id, site_id, program_id, company_id,
		       captured_at, received_at, wake_index, overage, telemetry, battery_voltage,
		       status, image_id, created_at, updated_at
		FROM wake_events WHERE id = ?`, id)
	return scanWakeEvent(row)
}

// CountSessionWakeEvents returns total ingested wake events for a session,
// the quantity the accounting identity is checked against.
func (db *DB) CountSessionWakeEvents(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	row := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wake_events WHERE session_id = ?`, sessionID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count session wake events: %w", err)
	}
	return n, nil
}

// UpdateWakeReceipt moves the server receipt timestamp forward. Called on
// resend contacts for captures already ingested; never touches captured_at.
func (db *DB) UpdateWakeReceipt(ctx context.Context, wakeEventID uuid.UUID, receivedAt time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE wake_events SET received_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, receivedAt.UTC(), wakeEventID)
	if err != nil {
		return fmt.Errorf("update wake receipt: %w", err)
	}
	return nil
}

func scanWakeEvent(row rowScanner) (*models.WakeEvent, error) {
	var (
		w         models.WakeEvent
		status    string
		telemetry sql.NullString
	)
	err := row.Scan(&w.ID, &w.DeviceID, &w.DeviceMAC, &w.SessionID,
		&w.SiteID, &w.ProgramID, &w.CompanyID,
		&w.CapturedAt, &w.ReceivedAt, &w.WakeIndex, &w.Overage,
		&telemetry, &w.BatteryVoltage, &status, &w.ImageID,
		&w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan wake event: %w", err)
	}
	w.Status = models.WakeEventStatus(status)
	if telemetry.Valid {
		w.Telemetry = json.RawMessage(telemetry.String)
	}
	return &w, nil
}
