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

	"github.com/tomtom215/arborlink/internal/logging"
	"github.com/tomtom215/arborlink/internal/metrics"
	"github.com/tomtom215/arborlink/internal/models"
)

// GetImage fetches the image row for (device, stable name).
func (db *DB) GetImage(ctx context.Context, deviceID uuid.UUID, stableName string) (*models.Image, error) {
	row := db.conn.QueryRowContext(ctx, imageSelect+` WHERE device_id = ? AND stable_name = ?`,
		deviceID, stableName)
	return scanImage(row)
}

// GetImageByID fetches an image row by id.
func (db *DB) GetImageByID(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	row := db.conn.QueryRowContext(ctx, imageSelect+` WHERE id = ?`, id)
	return scanImage(row)
}

// CreateImage inserts the image row for a newly announced transfer and
// links it to its wake event. The (device, stable name) uniqueness
// constraint makes a duplicate insert fail; callers fetch the existing row
// instead of creating a second one (that existing row IS the retry path).
func (db *DB) CreateImage(ctx context.Context, img *models.Image) error {
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	now := time.Now().UTC()
	img.CreatedAt = now
	img.UpdatedAt = now
	if img.Status == "" {
		img.Status = models.ImagePending
	}

	return db.withTx(ctx, "create_image", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO images (id, device_id, stable_name, wake_event_id,
			        declared_size, max_chunk_size, expected_chunks, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			img.ID, img.DeviceID, img.StableName, img.WakeEventID,
			img.DeclaredSize, img.MaxChunkSize, img.ExpectedChunks, string(img.Status),
		); err != nil {
			return fmt.Errorf("insert image: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE wake_events SET image_id = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`, img.ID, img.WakeEventID); err != nil {
			return fmt.Errorf("link wake event: %w", err)
		}
		return nil
	})
}

// MarkImageReceiving records chunk progress on the image row. The
// assembler's in-memory buffer is authoritative mid-transfer; this sync
// exists so the companion timeout sweep and operators see progress.
func (db *DB) MarkImageReceiving(ctx context.Context, imageID uuid.UUID, receivedChunks int, bitmap []byte) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE images SET status = ?, received_chunks = ?, received_bitmap = ?,
		        updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN (?, ?)`,
		string(models.ImageReceiving), receivedChunks, bitmap,
		imageID, string(models.ImagePending), string(models.ImageReceiving))
	if err != nil {
		return fmt.Errorf("mark image receiving: %w", err)
	}
	return nil
}

// CompleteImage finalizes a first-time transfer: image to complete, wake
// event to complete, observation created, session counters advanced
// (extra instead of completed when the wake fell outside its window).
//
// The status transition doubles as the single-winner claim: the guarded
// UPDATE matches only non-terminal rows, so exactly one of two concurrent
// finalizations for the same buffer performs the side effects. The loser
// receives ErrImageClaimed and must treat it as a no-op.
func (db *DB) CompleteImage(ctx context.Context, imageID uuid.UUID, blobURL string, sizeBytes int64) (*models.Observation, error) {
	var obs *models.Observation

	err := db.withTx(ctx, "complete_image", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE images SET status = ?, blob_url = ?, received_chunks = expected_chunks,
			        fail_reason = NULL, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status IN (?, ?)`,
			string(models.ImageComplete), blobURL,
			imageID, string(models.ImagePending), string(models.ImageReceiving))
		if err != nil {
			return fmt.Errorf("complete image: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("image %s: %w", imageID, ErrImageClaimed)
		}

		img, err := imageByIDTx(ctx, tx, imageID)
		if err != nil {
			return err
		}
		wake, err := wakeEventByIDTx(ctx, tx, img.WakeEventID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE wake_events SET status = ?, received_at = ?, updated_at = ?
			WHERE id = ?`,
			string(models.WakeComplete), now, now, wake.ID); err != nil {
			return fmt.Errorf("complete wake event: %w", err)
		}

		obs, err = insertObservation(ctx, tx, img, wake, blobURL, sizeBytes)
		if err != nil {
			return err
		}

		if wake.Overage {
			return bumpSessionCounters(ctx, tx, wake.SessionID, 0, 0, 1)
		}
		return bumpSessionCounters(ctx, tx, wake.SessionID, 1, 0, 0)
	})
	if err != nil {
		return nil, err
	}
	return obs, nil
}

// FailImage marks a transfer terminally failed, advances the session's
// failed counter and raises an image_failed alert. Recoverable later by a
// device-initiated resend through RetryByID. Already-terminal rows return
// ErrImageClaimed without side effects.
func (db *DB) FailImage(ctx context.Context, imageID uuid.UUID, reason string) (*models.Alert, error) {
	var alert *models.Alert

	err := db.withTx(ctx, "fail_image", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE images SET status = ?, fail_reason = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status IN (?, ?)`,
			string(models.ImageFailed), reason,
			imageID, string(models.ImagePending), string(models.ImageReceiving))
		if err != nil {
			return fmt.Errorf("fail image: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("image %s: %w", imageID, ErrImageClaimed)
		}

		img, err := imageByIDTx(ctx, tx, imageID)
		if err != nil {
			return err
		}
		wake, err := wakeEventByIDTx(ctx, tx, img.WakeEventID)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE wake_events SET status = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`, string(models.WakeFailed), wake.ID); err != nil {
			return fmt.Errorf("fail wake event: %w", err)
		}

		if err := bumpSessionCounters(ctx, tx, wake.SessionID, 0, 1, 0); err != nil {
			return err
		}

		deviceID := img.DeviceID
		sessionID := wake.SessionID
		alert = &models.Alert{
			SessionID: &sessionID,
			DeviceID:  &deviceID,
			Kind:      models.AlertImageFailed,
			Message:   fmt.Sprintf("image %s failed: %s", img.StableName, reason),
		}
		return insertAlert(ctx, tx, alert)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordImageFailed(reason)
	return alert, nil
}

// RetryByIDResult is the outcome of a late-resend reconciliation.
type RetryByIDResult struct {
	Observation       *models.Observation
	OriginalSessionID uuid.UUID

	// AlreadyComplete is true when the resend duplicated a finished
	// transfer: nothing moved, the existing observation is returned.
	AlreadyComplete bool
}

// RetryByID reconciles a completed resend against the image's ORIGINAL wake
// event and session, regardless of how many days late the resend arrived.
//
// Postconditions, in order of importance:
//   - the image row id is unchanged (same row, never a duplicate)
//   - captured_at on the wake event is untouched
//   - resent_received_at is set to now and the retry counter advances
//   - the ORIGINAL session's counters move: completed+1, failed-1 floored
//     at zero (failed only moves when the image had actually been failed)
//   - exactly one observation exists for the image afterwards
//
// An already-complete image is acknowledged idempotently: no row changes,
// no counter movement.
func (db *DB) RetryByID(ctx context.Context, deviceID uuid.UUID, stableName, blobURL string, sizeBytes int64) (*RetryByIDResult, error) {
	var result RetryByIDResult

	err := db.withTx(ctx, "retry_by_id", func(tx *sql.Tx) error {
		img, err := imageByKeyTx(ctx, tx, deviceID, stableName)
		if err != nil {
			return err
		}
		wake, err := wakeEventByIDTx(ctx, tx, img.WakeEventID)
		if err != nil {
			return err
		}
		result.OriginalSessionID = wake.SessionID

		if img.Status == models.ImageComplete {
			obs, err := observationByImageTx(ctx, tx, img.ID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			result.Observation = obs
			result.AlreadyComplete = true
			return nil
		}

		wasFailed := img.Status == models.ImageFailed
		now := time.Now().UTC()

		res, err := tx.ExecContext(ctx, `
			UPDATE images SET status = ?, blob_url = ?, retry_count = retry_count + 1,
			        resent_received_at = ?, received_chunks = expected_chunks,
			        fail_reason = NULL, updated_at = ?
			WHERE id = ? AND status IN (?, ?, ?)`,
			string(models.ImageComplete), blobURL, now, now,
			img.ID, string(models.ImageFailed), string(models.ImagePending), string(models.ImageReceiving))
		if err != nil {
			return fmt.Errorf("retry image update: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("image %s: %w", img.ID, ErrImageClaimed)
		}

		// received_at moves, captured_at does not.
		if _, err := tx.ExecContext(ctx, `
			UPDATE wake_events SET status = ?, received_at = ?, updated_at = ?
			WHERE id = ?`,
			string(models.WakeComplete), now, now, wake.ID); err != nil {
			return fmt.Errorf("complete wake event: %w", err)
		}

		failedDelta := 0
		if wasFailed {
			failedDelta = -1
		}
		if err := bumpSessionCounters(ctx, tx, wake.SessionID, 1, failedDelta, 0); err != nil {
			return err
		}

		obs, err := observationByImageTx(ctx, tx, img.ID)
		if err == nil {
			result.Observation = obs
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		result.Observation, err = insertObservation(ctx, tx, img, wake, blobURL, sizeBytes)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyComplete {
		metrics.ImageRetriesCompleted.Inc()
		logging.Info().
			Str("device", deviceID.String()).
			Str("stable_name", stableName).
			Str("original_session", result.OriginalSessionID.String()).
			Msg("Late resend reconciled against original session")
	}
	return &result, nil
}

// ResendableImages lists stable names the device should be asked to resend
// from its backlog: terminally failed transfers first, then non-terminal
// transfers stale since before the cutoff (abandoned mid-send).
func (db *DB) ResendableImages(ctx context.Context, deviceID uuid.UUID, staleBefore time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT stable_name FROM images
		WHERE device_id = ?
		  AND (status = 'failed' OR (status IN ('pending', 'receiving') AND updated_at < ?))
		ORDER BY CASE WHEN status = 'failed' THEN 0 ELSE 1 END, updated_at
		LIMIT ?`, deviceID, staleBefore.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query resendable images: %w", err)
	}
	defer closeWithLog(rows, "resendable image rows")

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan resendable image: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TimeoutStaleImages fails every non-terminal image untouched since before
// the cutoff. This is the companion sweep to the in-memory buffer sweep:
// buffers free memory, this closes the books. Returns the number failed.
func (db *DB) TimeoutStaleImages(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id FROM images
		WHERE status IN ('pending', 'receiving') AND updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("query stale images: %w", err)
	}

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			closeQuietly(rows)
			return 0, fmt.Errorf("scan stale image: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		closeQuietly(rows)
		return 0, err
	}
	closeWithLog(rows, "stale image rows")

	failed := 0
	for _, id := range ids {
		if _, err := db.FailImage(ctx, id, "timeout"); err != nil {
			if errors.Is(err, ErrImageClaimed) {
				continue // completed or failed between select and claim
			}
			return failed, err
		}
		failed++
	}
	return failed, nil
}

// GetObservationByImage fetches the observation for an image, ErrNotFound
// when finalization has not happened.
func (db *DB) GetObservationByImage(ctx context.Context, imageID uuid.UUID) (*models.Observation, error) {
	var obs models.Observation
	var telemetry sql.NullString
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, image_id, wake_event_id, session_id, device_id,
		       company_id, program_id, site_id, captured_at, blob_url, size_bytes,
		       telemetry, created_at
		FROM observations WHERE image_id = ?`, imageID)
	err := row.Scan(&obs.ID, &obs.ImageID, &obs.WakeEventID, &obs.SessionID, &obs.DeviceID,
		&obs.CompanyID, &obs.ProgramID, &obs.SiteID, &obs.CapturedAt, &obs.BlobURL, &obs.SizeBytes,
		&telemetry, &obs.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get observation: %w", err)
	}
	if telemetry.Valid {
		obs.Telemetry = json.RawMessage(telemetry.String)
	}
	return &obs, nil
}

// ============================================================================
// Internal helpers
// ============================================================================

const imageSelect = `
	SELECT id, device_id, stable_name, wake_event_id, declared_size, max_chunk_size,
	       expected_chunks, received_chunks, received_bitmap, status, fail_reason,
	       retry_count, resent_received_at, blob_url, created_at, updated_at
	FROM images`

func scanImage(row rowScanner) (*models.Image, error) {
	var (
		i      models.Image
		status string
	)
	err := row.Scan(&i.ID, &i.DeviceID, &i.StableName, &i.WakeEventID,
		&i.DeclaredSize, &i.MaxChunkSize, &i.ExpectedChunks, &i.ReceivedChunks,
		&i.ReceivedBitmap, &status, &i.FailReason, &i.RetryCount,
		&i.ResentReceivedAt, &i.BlobURL, &i.CreatedAt, &i.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan image: %w", err)
	}
	i.Status = models.ImageStatus(status)
	return &i, nil
}

func imageByIDTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Image, error) {
	row := tx.QueryRowContext(ctx, imageSelect+` WHERE id = ?`, id)
	return scanImage(row)
}

func imageByKeyTx(ctx context.Context, tx *sql.Tx, deviceID uuid.UUID, stableName string) (*models.Image, error) {
	row := tx.QueryRowContext(ctx, imageSelect+` WHERE device_id = ? AND stable_name = ?`,
		deviceID, stableName)
	return scanImage(row)
}

func wakeEventByIDTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.WakeEvent, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, device_id, device_mac, session_id, site_id, program_id, company_id,
		       captured_at, received_at, wake_index, overage, telemetry, battery_voltage,
		       status, image_id, created_at, updated_at
		FROM wake_events WHERE id = ?`, id)
	return scanWakeEvent(row)
}

func observationByImageTx(ctx context.Context, tx *sql.Tx, imageID uuid.UUID) (*models.Observation, error) {
	var obs models.Observation
	var telemetry sql.NullString
	row := tx.QueryRowContext(ctx, `
		SELECT id, image_id, wake_event_id, session_id, device_id,
		       company_id, program_id, site_id, captured_at, blob_url, size_bytes,
		       telemetry, created_at
		FROM observations WHERE image_id = ?`, imageID)
	err := row.Scan(&obs.ID, &obs.ImageID, &obs.WakeEventID, &obs.SessionID, &obs.DeviceID,
		&obs.CompanyID, &obs.ProgramID, &obs.SiteID, &obs.CapturedAt, &obs.BlobURL, &obs.SizeBytes,
		&telemetry, &obs.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan observation: %w", err)
	}
	if telemetry.Valid {
		obs.Telemetry = json.RawMessage(telemetry.String)
	}
	return &obs, nil
}

// insertObservation creates the immutable analytics row for a finished
// image, carrying the wake event's verbatim telemetry and its
// device-authoritative capture timestamp.
func insertObservation(ctx context.Context, tx *sql.Tx, img *models.Image, wake *models.WakeEvent, blobURL string, sizeBytes int64) (*models.Observation, error) {
	obs := &models.Observation{
		ID:          uuid.New(),
		ImageID:     img.ID,
		WakeEventID: wake.ID,
		SessionID:   wake.SessionID,
		DeviceID:    wake.DeviceID,
		CompanyID:   wake.CompanyID,
		ProgramID:   wake.ProgramID,
		SiteID:      wake.SiteID,
		CapturedAt:  wake.CapturedAt,
		BlobURL:     blobURL,
		SizeBytes:   sizeBytes,
		Telemetry:   wake.Telemetry,
		CreatedAt:   time.Now().UTC(),
	}

	var telemetry any
	if len(obs.Telemetry) > 0 {
		telemetry = string(obs.Telemetry)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO observations (id, image_id, wake_event_id, session_id, device_id,
		        company_id, program_id, site_id, captured_at, blob_url, size_bytes,
		        telemetry, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.ID, obs.ImageID, obs.WakeEventID, obs.SessionID, obs.DeviceID,
		obs.CompanyID, obs.ProgramID, obs.SiteID, obs.CapturedAt, obs.BlobURL, obs.SizeBytes,
		telemetry, obs.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert observation: %w", err)
	}
	return obs, nil
}
