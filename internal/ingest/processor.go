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

	"github.com/google/uuid"

	"github.com/tomtom215/arborlink/internal/assembler"
	"github.com/tomtom215/arborlink/internal/config"
	"github.com/tomtom215/arborlink/internal/database"
	"github.com/tomtom215/arborlink/internal/eventbus"
	"github.com/tomtom215/arborlink/internal/lineage"
	"github.com/tomtom215/arborlink/internal/logging"
	"github.com/tomtom215/arborlink/internal/metrics"
	"github.com/tomtom215/arborlink/internal/models"
	"github.com/tomtom215/arborlink/internal/wire"
)

// Default policy values applied when the config leaves them zero.
const (
	defaultMaxResendRequests = 3
	defaultMaxPendingImages  = 10
	defaultMaxImageBytes     = 10 << 20
	defaultImageTimeout      = 2 * time.Hour
)

// Store is the relational contract the pipeline writes through. *database.DB
// satisfies it; tests substitute an in-memory fake.
type Store interface {
	OpenSession(ctx context.Context, siteID uuid.UUID, date string) (*database.OpenSessionResult, error)
	EnsureSessionDevice(ctx context.Context, sessionID, deviceID uuid.UUID) error
	TouchDeviceContact(ctx context.Context, deviceID uuid.UUID, at time.Time) error
	SetDeviceNextWake(ctx context.Context, deviceID uuid.UUID, nextWake time.Time) error

	IngestWake(ctx context.Context, p database.IngestWakeParams) (*models.WakeEvent, error)
	UpdateWakeReceipt(ctx context.Context, wakeEventID uuid.UUID, receivedAt time.Time) error

	GetImage(ctx context.Context, deviceID uuid.UUID, stableName string) (*models.Image, error)
	CreateImage(ctx context.Context, img *models.Image) error
	MarkImageReceiving(ctx context.Context, imageID uuid.UUID, receivedChunks int, bitmap []byte) error
	CompleteImage(ctx context.Context, imageID uuid.UUID, blobURL string, sizeBytes int64) (*models.Observation, error)
	FailImage(ctx context.Context, imageID uuid.UUID, reason string) (*models.Alert, error)
	RetryByID(ctx context.Context, deviceID uuid.UUID, stableName, blobURL string, sizeBytes int64) (*database.RetryByIDResult, error)
	ResendableImages(ctx context.Context, deviceID uuid.UUID, staleBefore time.Time, limit int) ([]string, error)
}

// Resolver maps a device MAC to its assignment. *lineage.Resolver satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, deviceMAC string) (*lineage.Resolution, error)
}

// Commander delivers server-to-device messages. The MQTT gateway satisfies
// it; command failures are logged but never fail the pipeline, the device
// simply reconnects on its next wake.
type Commander interface {
	// RequestMissingChunks asks the device to resend the listed chunk IDs.
	RequestMissingChunks(ctx context.Context, deviceMAC, imageName string, missing []int) error

	// AcknowledgeTransfer confirms a stored image and releases the device
	// to deep sleep until nextWake.
	AcknowledgeTransfer(ctx context.Context, deviceMAC, imageName string, nextWake time.Time) error

	// RequestImage asks the device to retransmit a stored image by name.
	RequestImage(ctx context.Context, deviceMAC, imageName string) error
}

// Uploader stores a completed image's bytes. blob.Store satisfies it.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte) (string, error)
}

// ObjectKeyFunc builds the deterministic blob path for an image.
type ObjectKeyFunc func(lin *models.Lineage, deviceMAC, stableName string) string

// Processor runs the ingest pipeline for one deployment. All methods are
// safe for concurrent use; the assembler carries the only shared state.
type Processor struct {
	cfg       config.IngestConfig
	store     Store
	resolver  Resolver
	asm       *assembler.Assembler
	blobs     Uploader
	objectKey ObjectKeyFunc
	commander Commander

	clock func() time.Time
}

// NewProcessor wires the pipeline. Zero-valued policy fields in cfg fall
// back to the package defaults.
func NewProcessor(cfg config.IngestConfig, store Store, resolver Resolver, asm *assembler.Assembler,
	blobs Uploader, objectKey ObjectKeyFunc, commander Commander) *Processor {
	if cfg.MaxResendRequests <= 0 {
		cfg.MaxResendRequests = defaultMaxResendRequests
	}
	if cfg.MaxPendingImages <= 0 {
		cfg.MaxPendingImages = defaultMaxPendingImages
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = defaultMaxImageBytes
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = defaultImageTimeout
	}
	return &Processor{
		cfg:       cfg,
		store:     store,
		resolver:  resolver,
		asm:       asm,
		blobs:     blobs,
		objectKey: objectKey,
		commander: commander,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// HandleContact dispatches one contact by kind. It is the eventbus router's
// handler: a non-nil return requests redelivery, so malformed payloads are
// logged, counted and swallowed rather than returned.
func (p *Processor) HandleContact(ctx context.Context, c *eventbus.Contact) error {
	ctx = logging.ContextWithDeviceID(ctx, c.DeviceMAC)

	receivedAt := c.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = p.clock()
	}

	switch c.Kind {
	case wire.KindAlive.String():
		msg, err := wire.DecodeAlive(c.Payload)
		if err != nil {
			p.dropMalformed(ctx, c.Kind, err)
			return nil
		}
		return p.OnAlive(ctx, c.DeviceMAC, msg, receivedAt)

	case wire.KindMetadata.String():
		msg, err := wire.DecodeMetadata(c.Payload)
		if err != nil {
			p.dropMalformed(ctx, c.Kind, err)
			return nil
		}
		return p.OnMetadata(ctx, c.DeviceMAC, msg, c.Payload, receivedAt)

	case wire.KindChunk.String():
		msg, err := wire.DecodeChunk(c.Payload)
		if err != nil {
			p.dropMalformed(ctx, c.Kind, err)
			return nil
		}
		return p.OnChunk(ctx, c.DeviceMAC, msg, receivedAt)

	default:
		p.dropMalformed(ctx, c.Kind, fmt.Errorf("unrecognized contact kind %q", c.Kind))
		return nil
	}
}

func (p *Processor) dropMalformed(ctx context.Context, kind string, err error) {
	metrics.RecordDecodeFailure(kind)
	logging.CtxWarn(ctx).
		Str("kind", kind).
		Err(err).
		Msg("Dropping undecodable contact")
}

// OnAlive handles a wake announcement: it opens the device's session for
// the site-local day, records the contact, and when the device reports a
// backlog, issues retransmit commands for its resendable images.
func (p *Processor) OnAlive(ctx context.Context, mac string, msg *wire.Alive, receivedAt time.Time) error {
	res, err := p.resolve(ctx, mac, wire.KindAlive)
	if err != nil || res == nil {
		return err
	}

	if _, err := p.ensureSession(ctx, res, receivedAt); err != nil {
		return err
	}
	if err := p.store.TouchDeviceContact(ctx, res.Device.ID, receivedAt); err != nil {
		return fmt.Errorf("touch device %s: %w", mac, err)
	}
	metrics.RecordContact(wire.KindAlive.String(), true)

	if msg.PendingImg <= 0 {
		return nil
	}

	limit := msg.PendingImg
	if limit > p.cfg.MaxPendingImages {
		limit = p.cfg.MaxPendingImages
	}
	staleBefore := receivedAt.Add(-p.cfg.ImageTimeout)
	names, err := p.store.ResendableImages(ctx, res.Device.ID, staleBefore, limit)
	if err != nil {
		return fmt.Errorf("resendable images for %s: %w", mac, err)
	}

	for _, name := range names {
		if err := p.commander.RequestImage(ctx, mac, name); err != nil {
			logging.CtxWarn(ctx).
				Str("image", name).
				Err(err).
				Msg("Retransmit request not delivered")
			continue
		}
		metrics.ImageRetriesRequested.Inc()
	}

	logging.CtxInfo(ctx).
		Int("backlog", msg.PendingImg).
		Int("requested", len(names)).
		Msg("Device alive")
	return nil
}

// OnMetadata handles an image announcement: it records the wake event with
// verbatim telemetry, creates or refreshes the image row keyed by stable
// name, and initializes the reassembly buffer. A stable name the store
// already knows keeps its original row; only the buffer restarts, which is
// how a retransmission opens.
func (p *Processor) OnMetadata(ctx context.Context, mac string, msg *wire.Metadata, raw []byte, receivedAt time.Time) error {
	res, err := p.resolve(ctx, mac, wire.KindMetadata)
	if err != nil || res == nil {
		return err
	}

	if msg.ImageSize > p.cfg.MaxImageBytes {
		metrics.RecordContact(wire.KindMetadata.String(), false)
		logging.CtxWarn(ctx).
			Str("image", msg.ImageName).
			Int64("declared_size", msg.ImageSize).
			Int64("limit", p.cfg.MaxImageBytes).
			Msg("Rejecting oversized image announcement")
		return nil
	}

	capturedAt, err := msg.CapturedAt()
	if err != nil {
		p.dropMalformed(ctx, wire.KindMetadata.String(), err)
		return nil
	}

	sessionID, err := p.ensureSession(ctx, res, receivedAt)
	if err != nil {
		return err
	}

	existing, err := p.store.GetImage(ctx, res.Device.ID, msg.ImageName)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("image lookup %s/%s: %w", mac, msg.ImageName, err)
	}

	if existing != nil {
		return p.reopenImage(ctx, res, existing, msg, receivedAt)
	}

	localCaptured := capturedAt.In(res.SiteLocation())
	wakeIndex, overage := res.Schedule.Nearest(localCaptured, p.cfg.WakeTolerance)

	wake, err := p.store.IngestWake(ctx, database.IngestWakeParams{
		Device:         res.Device,
		Lineage:        res.Lineage,
		SessionID:      sessionID,
		CapturedAt:     capturedAt,
		ReceivedAt:     receivedAt,
		WakeIndex:      wakeIndex,
		Overage:        overage,
		Telemetry:      raw,
		BatteryVoltage: msg.BatteryVoltage,
	})
	if err != nil {
		return fmt.Errorf("ingest wake %s: %w", mac, err)
	}

	img := &models.Image{
		ID:             uuid.New(),
		DeviceID:       res.Device.ID,
		StableName:     msg.ImageName,
		WakeEventID:    wake.ID,
		DeclaredSize:   msg.ImageSize,
		MaxChunkSize:   msg.MaxChunkSize,
		ExpectedChunks: msg.TotalChunks,
		Status:         models.ImagePending,
	}
	if err := p.store.CreateImage(ctx, img); err != nil {
		return fmt.Errorf("create image %s/%s: %w", mac, msg.ImageName, err)
	}

	if msg.HasFault() {
		// The firmware flagged the capture itself; no chunks will follow.
		if _, err := p.store.FailImage(ctx, img.ID, "device_fault"); err != nil {
			logging.CtxError(ctx).
				Str("image", msg.ImageName).
				Err(err).
				Msg("Failed to close faulted capture")
		}
		metrics.RecordContact(wire.KindMetadata.String(), true)
		return nil
	}

	if err := p.asm.Init(assembler.Key{DeviceID: res.Device.ID, StableName: msg.ImageName},
		msg.TotalChunks, msg.MaxChunkSize); err != nil {
		return fmt.Errorf("init buffer %s/%s: %w", mac, msg.ImageName, err)
	}

	metrics.RecordContact(wire.KindMetadata.String(), true)
	logging.CtxInfo(ctx).
		Str("image", msg.ImageName).
		Int("wake_index", wakeIndex).
		Bool("overage", overage).
		Int("expected_chunks", msg.TotalChunks).
		Msg("Wake recorded, awaiting chunks")
	return nil
}

// reopenImage handles metadata for a stable name the store already tracks.
// The original row and wake event are kept; receipt timestamps move and a
// fresh buffer is initialized for the retransmission.
func (p *Processor) reopenImage(ctx context.Context, res *lineage.Resolution, img *models.Image,
	msg *wire.Metadata, receivedAt time.Time) error {
	if err := p.store.UpdateWakeReceipt(ctx, img.WakeEventID, receivedAt); err != nil {
		return fmt.Errorf("update wake receipt %s: %w", img.StableName, err)
	}
	if err := p.store.TouchDeviceContact(ctx, res.Device.ID, receivedAt); err != nil {
		return fmt.Errorf("touch device %s: %w", res.Device.MAC, err)
	}

	if err := p.asm.Init(assembler.Key{DeviceID: res.Device.ID, StableName: img.StableName},
		msg.TotalChunks, msg.MaxChunkSize); err != nil {
		return fmt.Errorf("init buffer %s/%s: %w", res.Device.MAC, img.StableName, err)
	}

	metrics.RecordContact(wire.KindMetadata.String(), true)
	logging.CtxInfo(ctx).
		Str("image", img.StableName).
		Str("status", string(img.Status)).
		Msg("Known image re-announced, buffer reopened")
	return nil
}

// OnChunk feeds one chunk to the assembler and acts on the outcome: a pass
// boundary with gaps requests a resend, a complete buffer is claimed and
// routed to finalization or retry reconciliation.
func (p *Processor) OnChunk(ctx context.Context, mac string, msg *wire.Chunk, receivedAt time.Time) error {
	res, err := p.resolve(ctx, mac, wire.KindChunk)
	if err != nil || res == nil {
		return err
	}

	key := assembler.Key{DeviceID: res.Device.ID, StableName: msg.ImageName}
	result, err := p.asm.Add(key, msg.ChunkID, msg.Payload)
	if err != nil {
		// Chunk without a live buffer or outside its geometry. Counted by
		// the assembler; dropping it leaves the resend path to recover.
		logging.CtxDebug(ctx).
			Str("image", msg.ImageName).
			Int("chunk", msg.ChunkID).
			Err(err).
			Msg("Chunk not applied")
		return nil
	}
	metrics.RecordContact(wire.KindChunk.String(), true)

	if result.EndOfPass && len(result.Missing) > 0 {
		return p.requestMissing(ctx, res, key, msg.ImageName, result)
	}

	if !result.Complete {
		return nil
	}

	data, ok := p.asm.Take(key)
	if !ok {
		// Another consumer won the buffer.
		return nil
	}
	return p.finalizeTransfer(ctx, res, msg.ImageName, data, receivedAt)
}

// requestMissing asks the device for the chunks a send pass skipped, or
// fails the image once the resend budget is spent. Transfer progress is
// synced to the store at each pass boundary so a restart can see how far
// an in-flight image got.
func (p *Processor) requestMissing(ctx context.Context, res *lineage.Resolution, key assembler.Key,
	imageName string, result assembler.AddResult) error {
	p.syncProgress(ctx, res, imageName, result)

	passes := p.asm.NoteResendRequest(key)
	if passes > p.cfg.MaxResendRequests {
		metrics.AssemblyResendExhausted.Inc()
		p.asm.Drop(key)
		logging.CtxWarn(ctx).
			Str("image", imageName).
			Int("passes", passes).
			Int("still_missing", len(result.Missing)).
			Msg("Resend budget exhausted")
		return p.failByName(ctx, res.Device.ID, imageName, "resend_exhausted")
	}

	if err := p.commander.RequestMissingChunks(ctx, res.Device.MAC, imageName, result.Missing); err != nil {
		logging.CtxWarn(ctx).
			Str("image", imageName).
			Err(err).
			Msg("Missing-chunk request not delivered")
		return nil
	}
	metrics.RecordMissingRequest(len(result.Missing))
	logging.CtxInfo(ctx).
		Str("image", imageName).
		Int("missing", len(result.Missing)).
		Int("pass", passes).
		Msg("Requested chunk resend")
	return nil
}

// syncProgress persists the chunk bitmap and count at a pass boundary.
// Failures only log; the authoritative source stays the buffer.
func (p *Processor) syncProgress(ctx context.Context, res *lineage.Resolution, imageName string,
	result assembler.AddResult) {
	img, err := p.store.GetImage(ctx, res.Device.ID, imageName)
	if err != nil {
		return
	}
	bitmap := receivedBitmap(result.Expected, result.Missing)
	if err := p.store.MarkImageReceiving(ctx, img.ID, result.Received, bitmap); err != nil {
		logging.CtxDebug(ctx).
			Str("image", imageName).
			Err(err).
			Msg("Progress sync skipped")
	}
}

// receivedBitmap builds the chunk-index bitset: every index set except the
// listed missing ones.
func receivedBitmap(expected int, missing []int) []byte {
	if expected <= 0 {
		return nil
	}
	bits := make([]byte, (expected+7)/8)
	for i := range bits {
		bits[i] = 0xFF
	}
	// Clear the tail past the last expected index.
	for i := expected; i < len(bits)*8; i++ {
		bits[i/8] &^= 1 << (i % 8)
	}
	for _, m := range missing {
		if m >= 0 && m < expected {
			bits[m/8] &^= 1 << (m % 8)
		}
	}
	return bits
}

// failByName marks an image failed by its stable name, tolerating a row
// another consumer already closed.
func (p *Processor) failByName(ctx context.Context, deviceID uuid.UUID, imageName, reason string) error {
	img, err := p.store.GetImage(ctx, deviceID, imageName)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("image lookup %s: %w", imageName, err)
	}
	if _, err := p.store.FailImage(ctx, img.ID, reason); err != nil && !errors.Is(err, database.ErrImageClaimed) {
		return fmt.Errorf("fail image %s: %w", imageName, err)
	}
	return nil
}

// OnBufferExpired closes out images whose buffers the sweep evicted. Wired
// as the sweeper callback.
func (p *Processor) OnBufferExpired(ctx context.Context, keys []assembler.Key) {
	for _, key := range keys {
		if err := p.failByName(ctx, key.DeviceID, key.StableName, "timeout"); err != nil {
			logging.CtxError(ctx).
				Str("image", key.StableName).
				Err(err).
				Msg("Failed to close timed-out transfer")
		}
	}
}

// resolve looks up the device's assignment, failing closed: an unassigned
// device's contact is counted and dropped with a nil error so the router
// never redelivers it. Only store errors propagate.
func (p *Processor) resolve(ctx context.Context, mac string, kind wire.MessageKind) (*lineage.Resolution, error) {
	res, err := p.resolver.Resolve(ctx, mac)
	if err != nil {
		if errors.Is(err, lineage.ErrDeviceNotAssigned) {
			metrics.RecordContact(kind.String(), false)
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}

// ensureSession opens (or fetches) the session covering the device's
// site-local day and puts the device on its roster. Queued schedule
// promotions applied by a day-open invalidate the lineage cache through
// the session scheduler, not here.
func (p *Processor) ensureSession(ctx context.Context, res *lineage.Resolution, receivedAt time.Time) (uuid.UUID, error) {
	date := receivedAt.In(res.SiteLocation()).Format(models.DateFormat)
	opened, err := p.store.OpenSession(ctx, res.Lineage.SiteID, date)
	if err != nil {
		return uuid.Nil, fmt.Errorf("open session %s/%s: %w", res.Lineage.SiteName, date, err)
	}
	if err := p.store.EnsureSessionDevice(ctx, opened.Session.ID, res.Device.ID); err != nil {
		return uuid.Nil, fmt.Errorf("ensure roster %s: %w", res.Device.MAC, err)
	}
	return opened.Session.ID, nil
}
