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

	"github.com/tomtom215/arborlink/internal/logging"
	"github.com/tomtom215/arborlink/internal/metrics"
	"github.com/tomtom215/arborlink/internal/models"
	"github.com/tomtom215/arborlink/internal/schedule"
)

// OpenSessionResult is the outcome of a day-open: the session (existing or
// freshly created) and the MACs whose queued schedule changes were applied,
// which the caller uses to invalidate its lineage cache.
type OpenSessionResult struct {
	Session         *models.Session
	PromotedDevices []string
	Created         bool
}

// OpenSession gets or creates the session for (site, date). Idempotent: an
// existing session is returned untouched. Creation applies queued schedule
// changes first, then computes expected wakes as the sum of the roster's
// per-day bucket counts and snapshots the roster.
func (db *DB) OpenSession(ctx context.Context, siteID uuid.UUID, date string) (*OpenSessionResult, error) {
	var result OpenSessionResult

	err := db.withTx(ctx, "open_session", func(tx *sql.Tx) error {
		existing, err := sessionBySiteDate(ctx, tx, siteID, date)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing != nil {
			result.Session = existing
			return nil
		}

		// Resolve the site's lineage for the session row.
		var (
			programID uuid.UUID
			companyID uuid.UUID
		)
		row := tx.QueryRowContext(ctx, `
			SELECT s.program_id, p.company_id
			FROM sites s JOIN programs p ON p.id = s.program_id
			WHERE s.id = ?`, siteID)
		if err := row.Scan(&programID, &companyID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("site %s: %w", siteID, ErrNotFound)
			}
			return fmt.Errorf("resolve site lineage: %w", err)
		}

		promoted, err := promotePendingSchedules(ctx, tx, siteID)
		if err != nil {
			return err
		}

		roster, err := assignedDevices(ctx, tx, siteID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		session := &models.Session{
			ID:        uuid.New(),
			SiteID:    siteID,
			ProgramID: programID,
			CompanyID: companyID,
			Date:      date,
			Status:    models.SessionInProgress,
			OpenedAt:  now,
			CreatedAt: now,
			UpdatedAt: now,
		}

		for _, d := range roster {
			session.ExpectedWakes += schedule.ParseOrDefault(d.WakeSchedule).BucketsPerDay()
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, site_id, program_id, company_id, date, status,
			        expected_wakes, opened_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID, session.SiteID, session.ProgramID, session.CompanyID,
			session.Date, string(session.Status), session.ExpectedWakes, session.OpenedAt,
		); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		for _, d := range roster {
			expected := schedule.ParseOrDefault(d.WakeSchedule).BucketsPerDay()
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO session_devices (session_id, device_id, expected_wakes, late_added)
				VALUES (?, ?, ?, false)`,
				session.ID, d.ID, expected); err != nil {
				return fmt.Errorf("snapshot roster device %s: %w", d.MAC, err)
			}
		}

		result.Session = session
		result.PromotedDevices = promoted
		result.Created = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Created {
		metrics.SessionsOpened.Inc()
		logging.Info().
			Str("site", siteID.String()).
			Str("date", date).
			Int("expected_wakes", result.Session.ExpectedWakes).
			Int("schedule_changes", len(result.PromotedDevices)).
			Msg("Session opened")
	}
	return &result, nil
}

// LockPolicy carries the alert thresholds evaluated at day-lock.
type LockPolicy struct {
	MinCompletionRatio     float64 // completed/expected below this raises low_completion
	DeviceFailureThreshold int     // failed images per device at or above this raises device_failures
	MinBatteryVoltage      float64 // minimum reported voltage below this raises low_battery
}

// LockSession transitions the session for (site, date) to locked and
// evaluates the day's alert conditions. Idempotent and irreversible: a
// second call returns the locked session with no alerts and no duplicates.
func (db *DB) LockSession(ctx context.Context, siteID uuid.UUID, date string, policy LockPolicy) (*models.Session, []models.Alert, error) {
	var (
		session   *models.Session
		alerts    []models.Alert
		firstLock bool
	)

	err := db.withTx(ctx, "lock_session", func(tx *sql.Tx) error {
		s, err := sessionBySiteDate(ctx, tx, siteID, date)
		if err != nil {
			return err
		}
		if s.IsLocked() {
			session = s
			return nil
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, locked_at = ?, updated_at = ?
			WHERE id = ? AND status <> ?`,
			string(models.SessionLocked), now, now, s.ID, string(models.SessionLocked),
		); err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		s.Status = models.SessionLocked
		s.LockedAt = &now
		session = s
		firstLock = true

		alerts, err = evaluateLockAlerts(ctx, tx, s, policy)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if firstLock {
		metrics.RecordSessionLocked(session.CompletenessPercent())
		for _, a := range alerts {
			metrics.RecordAlert(string(a.Kind))
		}
		logging.Info().
			Str("site", siteID.String()).
			Str("date", date).
			Float64("completeness", session.CompletenessPercent()).
			Int("alerts", len(alerts)).
			Msg("Session locked")
	}
	return session, alerts, nil
}

// evaluateLockAlerts inserts and returns the alert rows the day's data
// warrants. Runs inside the lock transaction on the first lock only.
func evaluateLockAlerts(ctx context.Context, tx *sql.Tx, s *models.Session, policy LockPolicy) ([]models.Alert, error) {
	var alerts []models.Alert

	if policy.MinCompletionRatio > 0 && s.ExpectedWakes > 0 {
		ratio := float64(s.CompletedImages) / float64(s.ExpectedWakes)
		if ratio < policy.MinCompletionRatio {
			alerts = append(alerts, models.Alert{
				ID:        uuid.New(),
				SessionID: &s.ID,
				Kind:      models.AlertLowCompletion,
				Message: fmt.Sprintf("completion %.0f%% below threshold %.0f%% (%d of %d)",
					ratio*100, policy.MinCompletionRatio*100, s.CompletedImages, s.ExpectedWakes),
			})
		}
	}

	if policy.DeviceFailureThreshold > 0 {
		rows, err := tx.QueryContext(ctx, `
			SELECT w.device_id, w.device_mac, COUNT(*)
			FROM wake_events w
			WHERE w.session_id = ? AND w.status = 'failed'
			GROUP BY w.device_id, w.device_mac
			HAVING COUNT(*) >= ?`, s.ID, policy.DeviceFailureThreshold)
		if err != nil {
			return nil, fmt.Errorf("query device failures: %w", err)
		}
		for rows.Next() {
			var (
				deviceID uuid.UUID
				mac      string
				failures int
			)
			if err := rows.Scan(&deviceID, &mac, &failures); err != nil {
				closeQuietly(rows)
				return nil, fmt.Errorf("scan device failures: %w", err)
			}
			id := deviceID
			alerts = append(alerts, models.Alert{
				ID:        uuid.New(),
				SessionID: &s.ID,
				DeviceID:  &id,
				Kind:      models.AlertDeviceFailures,
				Message:   fmt.Sprintf("device %s failed %d images", mac, failures),
			})
		}
		if err := rows.Err(); err != nil {
			closeQuietly(rows)
			return nil, err
		}
		closeWithLog(rows, "device failure rows")
	}

	if policy.MinBatteryVoltage > 0 {
		rows, err := tx.QueryContext(ctx, `
			SELECT w.device_id, w.device_mac, MIN(w.battery_voltage)
			FROM wake_events w
			WHERE w.session_id = ? AND w.battery_voltage IS NOT NULL
			GROUP BY w.device_id, w.device_mac
			HAVING MIN(w.battery_voltage) < ?`, s.ID, policy.MinBatteryVoltage)
		if err != nil {
			return nil, fmt.Errorf("query battery minima: %w", err)
		}
		for rows.Next() {
			var (
				deviceID uuid.UUID
				mac      string
				voltage  float64
			)
			if err := rows.Scan(&deviceID, &mac, &voltage); err != nil {
				closeQuietly(rows)
				return nil, fmt.Errorf("scan battery minima: %w", err)
			}
			id := deviceID
			alerts = append(alerts, models.Alert{
				ID:        uuid.New(),
				SessionID: &s.ID,
				DeviceID:  &id,
				Kind:      models.AlertLowBattery,
				Message:   fmt.Sprintf("device %s reported %.2fV, floor %.2fV", mac, voltage, policy.MinBatteryVoltage),
			})
		}
		if err := rows.Err(); err != nil {
			closeQuietly(rows)
			return nil, err
		}
		closeWithLog(rows, "battery rows")
	}

	for i := range alerts {
		if err := insertAlert(ctx, tx, &alerts[i]); err != nil {
			return nil, err
		}
	}
	return alerts, nil
}

// GetSession fetches a session by id.
func (db *DB) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	row := db.conn.QueryRowContext(ctx, sessionSelect+` WHERE id = ?`, id)
	return scanSession(row)
}

// GetSessionBySiteDate fetches the session for a site-local calendar day.
func (db *DB) GetSessionBySiteDate(ctx context.Context, siteID uuid.UUID, date string) (*models.Session, error) {
	row := db.conn.QueryRowContext(ctx, sessionSelect+` WHERE site_id = ? AND date = ?`, siteID, date)
	return scanSession(row)
}

// EnsureSessionDevice adds a device to the session roster when it was not
// snapshotted at open, marking the roster changed. Idempotent for devices
// already on the roster.
func (db *DB) EnsureSessionDevice(ctx context.Context, sessionID, deviceID uuid.UUID) error {
	return db.withTx(ctx, "ensure_session_device", func(tx *sql.Tx) error {
		var exists int
		row := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM session_devices WHERE session_id = ? AND device_id = ?`,
			sessionID, deviceID)
		if err := row.Scan(&exists); err != nil {
			return fmt.Errorf("check roster membership: %w", err)
		}
		if exists > 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_devices (session_id, device_id, expected_wakes, late_added)
			VALUES (?, ?, 0, true)`, sessionID, deviceID); err != nil {
			return fmt.Errorf("insert late roster device: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET roster_changed = true, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`, sessionID); err != nil {
			return fmt.Errorf("flag roster change: %w", err)
		}
		return nil
	})
}

// SessionAlerts returns the alerts recorded against a session.
func (db *DB) SessionAlerts(ctx context.Context, sessionID uuid.UUID) ([]models.Alert, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, session_id, device_id, kind, message, created_at
		FROM alerts WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session alerts: %w", err)
	}
	defer closeWithLog(rows, "alert rows")

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var kind string
		if err := rows.Scan(&a.ID, &a.SessionID, &a.DeviceID, &kind, &a.Message, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		a.Kind = models.AlertKind(kind)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

const sessionSelect = `
	SELECT id, site_id, program_id, company_id, date, status,
	       expected_wakes, completed_images, failed_images, extra_images,
	       roster_changed, opened_at, locked_at, created_at, updated_at
	FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s      models.Session
		status string
	)
	err := row.Scan(&s.ID, &s.SiteID, &s.ProgramID, &s.CompanyID, &s.Date, &status,
		&s.ExpectedWakes, &s.CompletedImages, &s.FailedImages, &s.ExtraImages,
		&s.RosterChanged, &s.OpenedAt, &s.LockedAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.Status = models.SessionStatus(status)
	return &s, nil
}

func sessionBySiteDate(ctx context.Context, tx *sql.Tx, siteID uuid.UUID, date string) (*models.Session, error) {
	row := tx.QueryRowContext(ctx, sessionSelect+` WHERE site_id = ? AND date = ?`, siteID, date)
	s, err := scanSession(row)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("session for site %s on %s: %w", siteID, date, ErrNotFound)
	}
	return s, err
}

// bumpSessionCounters applies atomic counter deltas inside a transaction.
// failed never goes below zero, which is what retry-by-id relies on when
// reconciling a failure recorded days earlier.
func bumpSessionCounters(ctx context.Context, tx *sql.Tx, sessionID uuid.UUID, completed, failed, extra int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET completed_images = completed_images + ?,
		    failed_images = GREATEST(failed_images + ?, 0),
		    extra_images = extra_images + ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		completed, failed, extra, sessionID)
	if err != nil {
		return fmt.Errorf("bump session counters: %w", err)
	}
	return nil
}

func insertAlert(ctx context.Context, tx *sql.Tx, a *models.Alert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO alerts (id, session_id, device_id, kind, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.DeviceID, string(a.Kind), a.Message, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}
