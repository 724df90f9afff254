// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/arborlink/internal/assembler"
	"github.com/tomtom215/arborlink/internal/blob"
	"github.com/tomtom215/arborlink/internal/config"
	"github.com/tomtom215/arborlink/internal/eventbus"
	"github.com/tomtom215/arborlink/internal/lineage"
	"github.com/tomtom215/arborlink/internal/models"
	"github.com/tomtom215/arborlink/internal/schedule"
	"github.com/tomtom215/arborlink/internal/wire"
)

const (
	testMAC   = "AABBCCDDEEFF"
	testImage = "image_1777881612.jpg"
)

type pipeline struct {
	proc     *Processor
	store    *fakeStore
	cmd      *fakeCommander
	uploader *fakeUploader
	asm      *assembler.Assembler
	res      *lineage.Resolution
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	siteID := uuid.New()
	res := &lineage.Resolution{
		Device: &models.Device{
			ID:           uuid.New(),
			MAC:          testMAC,
			SiteID:       &siteID,
			WakeSchedule: "8,16",
		},
		Lineage: &models.Lineage{
			CompanyID:   uuid.New(),
			CompanyName: "GreenLeaf Research",
			ProgramID:   uuid.New(),
			ProgramName: "Basil Trial 7",
			SiteID:      siteID,
			SiteName:    "Greenhouse North",
			Timezone:    "UTC",
		},
		Schedule: schedule.ParseOrDefault("8,16"),
	}

	store := newFakeStore()
	cmd := newFakeCommander()
	uploader := newFakeUploader()
	asm := assembler.New()

	cfg := config.IngestConfig{
		WakeTolerance:     time.Hour,
		ImageTimeout:      2 * time.Hour,
		MaxResendRequests: 3,
		MaxPendingImages:  10,
		MaxImageBytes:     1 << 20,
	}
	proc := NewProcessor(cfg, store, &fakeResolver{res: res}, asm, uploader, blob.ObjectKey, cmd)

	return &pipeline{proc: proc, store: store, cmd: cmd, uploader: uploader, asm: asm, res: res}
}

func (p *pipeline) metadata(totalChunks, chunkSize int, size int64) *wire.Metadata {
	return &wire.Metadata{
		DeviceID:         testMAC,
		CaptureTimestamp: "2026-05-04T08:02:00Z",
		ImageName:        testImage,
		ImageSize:        size,
		MaxChunkSize:     chunkSize,
		TotalChunks:      totalChunks,
	}
}

func receivedAt() time.Time {
	return time.Date(2026, 5, 4, 8, 2, 30, 0, time.UTC)
}

func TestHandleContactDropsMalformed(t *testing.T) {
	p := newPipeline(t)

	c := eventbus.NewContact(wire.KindMetadata, testMAC, "ESP32CAM/AABBCCDDEEFF/data",
		[]byte(`{"total_chunks_count": "not a number"`), receivedAt())
	if err := p.proc.HandleContact(context.Background(), c); err != nil {
		t.Fatalf("HandleContact: %v", err)
	}
	if p.store.openCalls != 0 {
		t.Error("malformed contact reached the store")
	}
}

func TestHandleContactDispatchesAlive(t *testing.T) {
	p := newPipeline(t)

	c := eventbus.NewContact(wire.KindAlive, testMAC, "device/AABBCCDDEEFF/status",
		[]byte(`{"device_id":"AABBCCDDEEFF","status":"alive","pendingImg":0}`), receivedAt())
	if err := p.proc.HandleContact(context.Background(), c); err != nil {
		t.Fatalf("HandleContact: %v", err)
	}
	if p.store.openCalls != 1 {
		t.Errorf("openCalls = %d, want 1", p.store.openCalls)
	}
	if len(p.store.touched) != 1 {
		t.Errorf("device contact touched %d times, want 1", len(p.store.touched))
	}
}

func TestOnAliveUnassignedDeviceFailsClosed(t *testing.T) {
	p := newPipeline(t)
	p.proc.resolver = &fakeResolver{err: lineage.ErrDeviceNotAssigned}

	err := p.proc.OnAlive(context.Background(), testMAC,
		&wire.Alive{DeviceID: testMAC, Status: "alive", PendingImg: 3}, receivedAt())
	if err != nil {
		t.Fatalf("OnAlive: %v", err)
	}
	if p.store.openCalls != 0 {
		t.Error("unassigned device opened a session")
	}
	if len(p.cmd.imageRequests) != 0 {
		t.Error("unassigned device received commands")
	}
}

func TestOnAliveBacklogRequestsResendableImages(t *testing.T) {
	p := newPipeline(t)
	p.store.resendable = []string{"image_a.jpg", "image_b.jpg"}

	err := p.proc.OnAlive(context.Background(), testMAC,
		&wire.Alive{DeviceID: testMAC, Status: "alive", PendingImg: 5}, receivedAt())
	if err != nil {
		t.Fatalf("OnAlive: %v", err)
	}

	if len(p.cmd.imageRequests) != 2 {
		t.Fatalf("imageRequests = %v, want 2 entries", p.cmd.imageRequests)
	}
	if p.cmd.imageRequests[0] != "image_a.jpg" || p.cmd.imageRequests[1] != "image_b.jpg" {
		t.Errorf("imageRequests = %v", p.cmd.imageRequests)
	}
	if p.store.resendableLimit != 5 {
		t.Errorf("resendable limit = %d, want backlog depth 5", p.store.resendableLimit)
	}
}

func TestOnAliveBacklogCappedPerContact(t *testing.T) {
	p := newPipeline(t)

	err := p.proc.OnAlive(context.Background(), testMAC,
		&wire.Alive{DeviceID: testMAC, Status: "alive", PendingImg: 50}, receivedAt())
	if err != nil {
		t.Fatalf("OnAlive: %v", err)
	}
	if p.store.resendableLimit != 10 {
		t.Errorf("resendable limit = %d, want cap 10", p.store.resendableLimit)
	}
}

func TestOnMetadataRecordsWakeWithinWindow(t *testing.T) {
	p := newPipeline(t)

	// Schedule "8,16", capture 08:02: first bucket, inside tolerance.
	err := p.proc.OnMetadata(context.Background(), testMAC, p.metadata(3, 8192, 20000),
		[]byte(`{"temperature":22.5}`), receivedAt())
	if err != nil {
		t.Fatalf("OnMetadata: %v", err)
	}

	if len(p.store.wakes) != 1 {
		t.Fatalf("wake events = %d, want 1", len(p.store.wakes))
	}
	for _, wake := range p.store.wakes {
		if wake.WakeIndex != 1 {
			t.Errorf("WakeIndex = %d, want 1", wake.WakeIndex)
		}
		if wake.Overage {
			t.Error("capture 08:02 against schedule 8,16 flagged overage")
		}
	}

	img := p.store.image(testImage)
	if img == nil {
		t.Fatal("image row not created")
	}
	if img.Status != models.ImagePending {
		t.Errorf("image status = %s, want pending", img.Status)
	}
	if img.ExpectedChunks != 3 {
		t.Errorf("ExpectedChunks = %d, want 3", img.ExpectedChunks)
	}
	if p.asm.Len() != 1 {
		t.Errorf("active buffers = %d, want 1", p.asm.Len())
	}
}

func TestOnMetadataMidWindowCaptureIsOverage(t *testing.T) {
	p := newPipeline(t)

	msg := p.metadata(3, 8192, 20000)
	msg.CaptureTimestamp = "2026-05-04T13:30:00Z" // 2.5h from the nearest bucket at 16:00

	err := p.proc.OnMetadata(context.Background(), testMAC, msg, []byte(`{}`),
		time.Date(2026, 5, 4, 13, 30, 30, 0, time.UTC))
	if err != nil {
		t.Fatalf("OnMetadata: %v", err)
	}
	for _, wake := range p.store.wakes {
		if !wake.Overage {
			t.Error("capture 13:30 against schedule 8,16 not flagged overage")
		}
	}
}

func TestOnMetadataOversizedRejected(t *testing.T) {
	p := newPipeline(t)

	msg := p.metadata(3, 8192, 2<<20) // above the 1MB test ceiling
	if err := p.proc.OnMetadata(context.Background(), testMAC, msg, []byte(`{}`), receivedAt()); err != nil {
		t.Fatalf("OnMetadata: %v", err)
	}
	if len(p.store.wakes) != 0 {
		t.Error("oversized announcement created a wake event")
	}
	if p.store.image(testImage) != nil {
		t.Error("oversized announcement created an image row")
	}
}

func TestOnMetadataDeviceFaultFailsImage(t *testing.T) {
	p := newPipeline(t)

	msg := p.metadata(3, 8192, 20000)
	msg.Error = "3"

	if err := p.proc.OnMetadata(context.Background(), testMAC, msg, []byte(`{}`), receivedAt()); err != nil {
		t.Fatalf("OnMetadata: %v", err)
	}

	img := p.store.image(testImage)
	if img == nil {
		t.Fatal("faulted capture has no image row")
	}
	if img.Status != models.ImageFailed {
		t.Errorf("image status = %s, want failed", img.Status)
	}
	if p.store.failed[testImage] != "device_fault" {
		t.Errorf("fail reason = %q, want device_fault", p.store.failed[testImage])
	}
	if p.asm.Len() != 0 {
		t.Error("faulted capture got a reassembly buffer")
	}
	// The wake event still exists and is accounted failed.
	if len(p.store.wakes) != 1 {
		t.Errorf("wake events = %d, want 1", len(p.store.wakes))
	}
}

func TestOnMetadataKnownImageKeepsOriginalRow(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if err := p.proc.OnMetadata(ctx, testMAC, p.metadata(3, 8192, 20000), []byte(`{}`), receivedAt()); err != nil {
		t.Fatalf("first OnMetadata: %v", err)
	}
	first := p.store.image(testImage)

	later := receivedAt().Add(72 * time.Hour)
	if err := p.proc.OnMetadata(ctx, testMAC, p.metadata(3, 8192, 20000), []byte(`{}`), later); err != nil {
		t.Fatalf("second OnMetadata: %v", err)
	}

	if len(p.store.wakes) != 1 {
		t.Errorf("wake events = %d, want the original only", len(p.store.wakes))
	}
	second := p.store.image(testImage)
	if second.ID != first.ID {
		t.Error("re-announcement replaced the image row")
	}
	if got, ok := p.store.receipts[first.WakeEventID]; !ok || !got.Equal(later) {
		t.Errorf("wake receipt = %v, want %v", got, later)
	}
}

func TestOnChunkWithoutBufferDropped(t *testing.T) {
	p := newPipeline(t)

	err := p.proc.OnChunk(context.Background(), testMAC,
		&wire.Chunk{DeviceID: testMAC, ImageName: testImage, ChunkID: 0, Payload: []byte("x")},
		receivedAt())
	if err != nil {
		t.Fatalf("OnChunk: %v", err)
	}
}

func TestOnChunkGapTriggersMissingRequest(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if err := p.proc.OnMetadata(ctx, testMAC, p.metadata(10, 4, 40), []byte(`{}`), receivedAt()); err != nil {
		t.Fatalf("OnMetadata: %v", err)
	}

	// Device sends 0..9 but chunk 3 is lost.
	for _, idx := range []int{0, 1, 2, 4, 5, 6, 7, 8, 9} {
		chunk := &wire.Chunk{DeviceID: testMAC, ImageName: testImage, ChunkID: idx, Payload: []byte{byte(idx)}}
		if err := p.proc.OnChunk(ctx, testMAC, chunk, receivedAt()); err != nil {
			t.Fatalf("OnChunk(%d): %v", idx, err)
		}
	}

	missing, ok := p.cmd.missingRequests[testImage]
	if !ok {
		t.Fatal("no missing-chunk request sent")
	}
	if len(missing) != 1 || missing[0] != 3 {
		t.Errorf("missing = %v, want [3]", missing)
	}

	// Pass-boundary progress sync landed in the store.
	img := p.store.image(testImage)
	if img.Status != models.ImageReceiving {
		t.Errorf("image status = %s, want receiving", img.Status)
	}
	if img.ReceivedChunks != 9 {
		t.Errorf("ReceivedChunks = %d, want 9", img.ReceivedChunks)
	}
}

func TestResendPassBurnsOneBudgetUnit(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if err := p.proc.OnMetadata(ctx, testMAC, p.metadata(6, 4, 24), []byte(`{}`), receivedAt()); err != nil {
		t.Fatalf("OnMetadata: %v", err)
	}

	send := func(idx int) {
		t.Helper()
		chunk := &wire.Chunk{DeviceID: testMAC, ImageName: testImage, ChunkID: idx, Payload: []byte{byte(idx)}}
		if err := p.proc.OnChunk(ctx, testMAC, chunk, receivedAt()); err != nil {
			t.Fatalf("OnChunk(%d): %v", idx, err)
		}
	}

	// First pass loses 1..4.
	send(0)
	send(5)
	if p.cmd.missingCalls != 1 {
		t.Fatalf("missing-chunk commands after first pass = %d, want 1", p.cmd.missingCalls)
	}

	// The device delivers the requested gaps. Each arriving chunk is part
	// of the same pass: no further commands, no budget spent, and the image
	// completes well inside the default budget of 3 passes.
	send(1)
	send(2)
	send(3)
	if p.cmd.missingCalls != 1 {
		t.Errorf("gap-filling chunks triggered %d extra missing-chunk commands", p.cmd.missingCalls-1)
	}
	if reason, failed := p.store.failed[testImage]; failed {
		t.Fatalf("image failed %q during a single resend pass", reason)
	}

	send(4)
	img := p.store.image(testImage)
	if img.Status != models.ImageComplete {
		t.Errorf("image status = %s after resend pass, want complete", img.Status)
	}
}

func TestResendBudgetExhaustedFailsImage(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.proc.cfg.MaxResendRequests = 1

	if err := p.proc.OnMetadata(ctx, testMAC, p.metadata(3, 4, 12), []byte(`{}`), receivedAt()); err != nil {
		t.Fatalf("OnMetadata: %v", err)
	}

	send := func(idx int) {
		t.Helper()
		chunk := &wire.Chunk{DeviceID: testMAC, ImageName: testImage, ChunkID: idx, Payload: []byte{byte(idx)}}
		if err := p.proc.OnChunk(ctx, testMAC, chunk, receivedAt()); err != nil {
			t.Fatalf("OnChunk(%d): %v", idx, err)
		}
	}

	// First pass: only the final chunk arrives, one resend round granted.
	send(2)
	if _, ok := p.cmd.missingRequests[testImage]; !ok {
		t.Fatal("first gap did not request a resend")
	}

	// The resend pass for [0 1] loses chunk 0 again; its highest requested
	// index ends the pass still short, and the budget of 1 is spent.
	send(1)
	if p.store.failed[testImage] != "resend_exhausted" {
		t.Errorf("fail reason = %q, want resend_exhausted", p.store.failed[testImage])
	}
	if p.asm.Len() != 0 {
		t.Error("exhausted buffer not dropped")
	}
}

func TestOnBufferExpiredFailsImages(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if err := p.proc.OnMetadata(ctx, testMAC, p.metadata(3, 8192, 20000), []byte(`{}`), receivedAt()); err != nil {
		t.Fatalf("OnMetadata: %v", err)
	}
	img := p.store.image(testImage)

	p.proc.OnBufferExpired(ctx, []assembler.Key{{DeviceID: p.res.Device.ID, StableName: testImage}})

	if p.store.failed[testImage] != "timeout" {
		t.Errorf("fail reason = %q, want timeout", p.store.failed[testImage])
	}
	if p.store.image(testImage).ID != img.ID {
		t.Error("timeout replaced the image row")
	}
}

func TestReceivedBitmap(t *testing.T) {
	bits := receivedBitmap(10, []int{3})
	if len(bits) != 2 {
		t.Fatalf("bitmap length = %d, want 2", len(bits))
	}
	for i := 0; i < 10; i++ {
		set := bits[i/8]&(1<<(i%8)) != 0
		if i == 3 && set {
			t.Error("missing index 3 marked received")
		}
		if i != 3 && !set {
			t.Errorf("received index %d not set", i)
		}
	}
	// Tail bits past the expected count stay clear.
	for i := 10; i < 16; i++ {
		if bits[i/8]&(1<<(i%8)) != 0 {
			t.Errorf("tail bit %d set", i)
		}
	}
}
