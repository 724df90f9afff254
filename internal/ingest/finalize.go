// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/arborlink/internal/database"
	"github.com/tomtom215/arborlink/internal/lineage"
	"github.com/tomtom215/arborlink/internal/logging"
	"github.com/tomtom215/arborlink/internal/metrics"
	"github.com/tomtom215/arborlink/internal/models"
)

// finalizeTransfer closes out a completed buffer. The image row's prior
// status picks the path: pending and receiving rows go through first-time
// finalization, failed and complete rows through retry reconciliation
// against their original session. Either way the device is acknowledged
// with its next wake time.
func (p *Processor) finalizeTransfer(ctx context.Context, res *lineage.Resolution, imageName string,
	data []byte, receivedAt time.Time) error {
	img, err := p.store.GetImage(ctx, res.Device.ID, imageName)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			logging.CtxError(ctx).
				Str("image", imageName).
				Msg("Completed buffer has no image row")
			return nil
		}
		return fmt.Errorf("image lookup %s: %w", imageName, err)
	}

	switch img.Status {
	case models.ImagePending, models.ImageReceiving:
		return p.completeNew(ctx, res, img, data, receivedAt)
	default:
		return p.reconcileRetry(ctx, res, img, data)
	}
}

// completeNew is the first-time finalization path: upload, conditional
// completion claim, next-wake persistence, device ack. Storage and
// persistence failures fail this one image and return nil; the retry
// request on the device's next contact recovers it.
func (p *Processor) completeNew(ctx context.Context, res *lineage.Resolution, img *models.Image,
	data []byte, receivedAt time.Time) error {
	url, err := p.upload(ctx, res, img, data)
	if err != nil {
		return p.failStored(ctx, img, "storage", err)
	}

	obs, err := p.store.CompleteImage(ctx, img.ID, url, int64(len(data)))
	if err != nil {
		if errors.Is(err, database.ErrImageClaimed) {
			// Lost the store-level claim to a concurrent consumer.
			return nil
		}
		return p.failStored(ctx, img, "storage", err)
	}

	metrics.RecordImageCompleted(int64(len(data)), receivedAt.Sub(img.CreatedAt))
	logging.CtxInfo(ctx).
		Str("image", img.StableName).
		Str("blob_url", url).
		Str("observation_id", obs.ID.String()).
		Int("bytes", len(data)).
		Msg("Image complete")

	p.ackTransfer(ctx, res, img.StableName)
	return nil
}

// reconcileRetry is the retransmission path: the row already exists as
// failed, complete, or stale from a prior day. The store reconciles the
// ORIGINAL session's counters and keeps the original capture timestamp; an
// already-complete image is acknowledged without touching anything.
func (p *Processor) reconcileRetry(ctx context.Context, res *lineage.Resolution, img *models.Image,
	data []byte) error {
	url, err := p.upload(ctx, res, img, data)
	if err != nil {
		// The row is already terminal; leave it and let the next contact
		// retry the upload.
		logging.CtxError(ctx).
			Str("image", img.StableName).
			Err(err).
			Msg("Retry upload failed")
		return nil
	}

	result, err := p.store.RetryByID(ctx, res.Device.ID, img.StableName, url, int64(len(data)))
	if err != nil {
		logging.CtxError(ctx).
			Str("image", img.StableName).
			Err(err).
			Msg("Retry reconciliation failed")
		return nil
	}

	if result.AlreadyComplete {
		logging.CtxInfo(ctx).
			Str("image", img.StableName).
			Msg("Retransmit of complete image acknowledged")
	} else {
		logging.CtxInfo(ctx).
			Str("image", img.StableName).
			Str("original_session_id", result.OriginalSessionID.String()).
			Msg("Failed image recovered by retransmit")
	}

	p.ackTransfer(ctx, res, img.StableName)
	return nil
}

// upload writes the assembled bytes to the blob store at the deterministic
// lineage path. Retries land on the same key, so re-uploads overwrite an
// identical object.
func (p *Processor) upload(ctx context.Context, res *lineage.Resolution, img *models.Image, data []byte) (string, error) {
	key := p.objectKey(res.Lineage, res.Device.MAC, img.StableName)
	url, err := p.blobs.Upload(ctx, key, data)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return url, nil
}

// failStored closes an image after a storage or persistence failure.
// Never fatal to the caller: the image stays recoverable via retry-request.
func (p *Processor) failStored(ctx context.Context, img *models.Image, reason string, cause error) error {
	logging.CtxError(ctx).
		Str("image", img.StableName).
		Err(cause).
		Msg("Finalization failed")
	if _, err := p.store.FailImage(ctx, img.ID, reason); err != nil && !errors.Is(err, database.ErrImageClaimed) {
		logging.CtxError(ctx).
			Str("image", img.StableName).
			Err(err).
			Msg("Could not record image failure")
	}
	return nil
}

// ackTransfer computes the device's next wake from its schedule in the
// site's time zone, persists it, and releases the device to sleep. Ack
// delivery failure only logs; the device falls back to its on-board
// schedule.
func (p *Processor) ackTransfer(ctx context.Context, res *lineage.Resolution, imageName string) {
	now := p.clock().In(res.SiteLocation())
	next := res.Schedule.Next(now)

	if err := p.store.SetDeviceNextWake(ctx, res.Device.ID, next.UTC()); err != nil {
		logging.CtxError(ctx).
			Err(err).
			Msg("Could not persist next wake")
	}
	if err := p.commander.AcknowledgeTransfer(ctx, res.Device.MAC, imageName, next); err != nil {
		logging.CtxWarn(ctx).
			Str("image", imageName).
			Time("next_wake", next).
			Err(err).
			Msg("Transfer ack not delivered")
		return
	}
	logging.CtxDebug(ctx).
		Str("image", imageName).
		Time("next_wake", next).
		Msg("Device released to sleep")
}
