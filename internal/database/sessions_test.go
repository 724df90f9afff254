// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package database

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/arborlink/internal/models"
)

func TestOpenSessionIdempotent(t *testing.T) {
	db := setupTestDB(t)
	f := setupFixture(t, db)
	ctx := context.Background()

	again, err := db.OpenSession(ctx, f.SiteID, f.Date)
	if err != nil {
		t.Fatalf("OpenSession (second call): %v", err)
	}
	if again.Created {
		t.Error("second OpenSession reported Created for an existing session")
	}
	if again.Session.ID != f.Session.ID {
		t.Errorf("session id = %s, want the original %s", again.Session.ID, f.Session.ID)
	}
}

func TestOpenSessionExpectedWakesFromSchedule(t *testing.T) {
	db := setupTestDB(t)
	f := setupFixture(t, db)
	ctx := context.Background()

	// Fixture device wakes at 8 and 16: two buckets. Add a second device
	// on a four-hour interval: six buckets.
	secondID, err := db.RegisterDevice(ctx, "112233445566", "every 4 hours")
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if err := db.AssignDevice(ctx, secondID, f.SiteID); err != nil {
		t.Fatalf("AssignDevice: %v", err)
	}

	opened, err := db.OpenSession(ctx, f.SiteID, "2026-05-05")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if opened.Session.ExpectedWakes != 8 {
		t.Errorf("expected_wakes = %d, want 8 (2 + 6)", opened.Session.ExpectedWakes)
	}
}

func TestOpenSessionPromotesQueuedSchedule(t *testing.T) {
	db := setupTestDB(t)
	f := setupFixture(t, db)
	ctx := context.Background()

	// Queue a change mid-day; it must not touch the open session, only the
	// next day-open.
	if err := db.QueueScheduleChange(ctx, f.Device.ID, "every 6 hours"); err != nil {
		t.Fatalf("QueueScheduleChange: %v", err)
	}

	device, err := db.GetDeviceByMAC(ctx, f.Device.MAC)
	if err != nil {
		t.Fatalf("GetDeviceByMAC: %v", err)
	}
	if device.WakeSchedule != "8,16" {
		t.Fatalf("wake_schedule changed mid-day to %q", device.WakeSchedule)
	}
	if device.PendingSchedule == nil || *device.PendingSchedule != "every 6 hours" {
		t.Fatal("pending_schedule not queued")
	}

	opened, err := db.OpenSession(ctx, f.SiteID, "2026-05-05")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if len(opened.PromotedDevices) != 1 || opened.PromotedDevices[0] != f.Device.MAC {
		t.Errorf("promoted = %v, want [%s]", opened.PromotedDevices, f.Device.MAC)
	}
	if opened.Session.ExpectedWakes != 4 {
		t.Errorf("expected_wakes = %d, want 4 (every 6 hours)", opened.Session.ExpectedWakes)
	}

	device, err = db.GetDeviceByMAC(ctx, f.Device.MAC)
	if err != nil {
		t.Fatalf("GetDeviceByMAC: %v", err)
	}
	if device.WakeSchedule != "every 6 hours" {
		t.Errorf("wake_schedule = %q, want the promoted schedule", device.WakeSchedule)
	}
	if device.PendingSchedule != nil {
		t.Error("pending_schedule not cleared after promotion")
	}
}

func TestLockSessionIdempotent(t *testing.T) {
	db := setupTestDB(t)
	f := setupFixture(t, db)
	ctx := context.Background()

	policy := LockPolicy{}
	locked, _, err := db.LockSession(ctx, f.SiteID, f.Date, policy)
	if err != nil {
		t.Fatalf("LockSession: %v", err)
	}
	if locked.Status != models.SessionLocked {
		t.Fatalf("status = %s, want locked", locked.Status)
	}
	if locked.LockedAt == nil {
		t.Fatal("locked_at not set")
	}

	again, alerts, err := db.LockSession(ctx, f.SiteID, f.Date, policy)
	if err != nil {
		t.Fatalf("LockSession (second call): %v", err)
	}
	if again.Status != models.SessionLocked {
		t.Errorf("status = %s after second lock, want locked", again.Status)
	}
	if len(alerts) != 0 {
		t.Errorf("second lock produced %d alerts, want 0", len(alerts))
	}

	stored, err := db.SessionAlerts(ctx, f.Session.ID)
	if err != nil {
		t.Fatalf("SessionAlerts: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("stored alerts = %d, want 0 with an empty policy", len(stored))
	}
}

func TestLockSessionLowCompletionAlert(t *testing.T) {
	db := setupTestDB(t)
	f := setupFixture(t, db)
	ctx := context.Background()

	// Nothing completed out of two expected wakes.
	_, alerts, err := db.LockSession(ctx, f.SiteID, f.Date, LockPolicy{MinCompletionRatio: 0.9})
	if err != nil {
		t.Fatalf("LockSession: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Kind != models.AlertLowCompletion {
		t.Errorf("kind = %s, want low_completion", alerts[0].Kind)
	}
}

func TestLockSessionDeviceFailureAlert(t *testing.T) {
	db := setupTestDB(t)
	f := setupFixture(t, db)
	ctx := context.Background()

	base := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		wake := f.ingestWake(t, base.Add(time.Duration(i)*time.Hour), nil)
		img := f.createImage(t, wake, "image_"+wake.ID.String()+".jpg")
		if _, err := db.FailImage(ctx, img.ID, "chunk timeout"); err != nil {
			t.Fatalf("FailImage: %v", err)
		}
	}

	_, alerts, err := db.LockSession(ctx, f.SiteID, f.Date, LockPolicy{DeviceFailureThreshold: 2})
	if err != nil {
		t.Fatalf("LockSession: %v", err)
	}

	found := false
	for _, a := range alerts {
		if a.Kind == models.AlertDeviceFailures {
			found = true
			if a.DeviceID == nil || *a.DeviceID != f.Device.ID {
				t.Errorf("device_failures alert not scoped to the failing device")
			}
		}
	}
	if !found {
		t.Error("no device_failures alert at threshold")
	}
}

func TestLockSessionLowBatteryAlert(t *testing.T) {
	db := setupTestDB(t)
	f := setupFixture(t, db)
	ctx := context.Background()

	voltage := 3.12
	f.ingestWake(t, time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC), &voltage)

	_, alerts, err := db.LockSession(ctx, f.SiteID, f.Date, LockPolicy{MinBatteryVoltage: 3.3})
	if err != nil {
		t.Fatalf("LockSession: %v", err)
	}

	found := false
	for _, a := range alerts {
		if a.Kind == models.AlertLowBattery {
			found = true
		}
	}
	if !found {
		t.Error("no low_battery alert for a 3.12V report against a 3.3V floor")
	}
}

func TestEnsureSessionDeviceFlagsRosterChange(t *testing.T) {
	db := setupTestDB(t)
	f := setupFixture(t, db)
	ctx := context.Background()

	lateID, err := db.RegisterDevice(ctx, "665544332211", "8,16")
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if err := db.AssignDevice(ctx, lateID, f.SiteID); err != nil {
		t.Fatalf("AssignDevice: %v", err)
	}

	if err := db.EnsureSessionDevice(ctx, f.Session.ID, lateID); err != nil {
		t.Fatalf("EnsureSessionDevice: %v", err)
	}
	// Repeat call is a no-op.
	if err := db.EnsureSessionDevice(ctx, f.Session.ID, lateID); err != nil {
		t.Fatalf("EnsureSessionDevice (repeat): %v", err)
	}

	session, err := db.GetSession(ctx, f.Session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !session.RosterChanged {
		t.Error("roster_changed not flagged after a late device joined")
	}
	// Expected wakes stay as snapshotted at open.
	if session.ExpectedWakes != f.Session.ExpectedWakes {
		t.Errorf("expected_wakes moved from %d to %d on late add",
			f.Session.ExpectedWakes, session.ExpectedWakes)
	}
}

func TestLockedSessionAccountingIdentity(t *testing.T) {
	db := setupTestDB(t)
	f := setupFixture(t, db)
	ctx := context.Background()

	// Four wake events with every outcome the books can hold: a clean
	// completion, a failure later reconciled by retry, a failure that
	// stays failed, and an overage completion.
	wakeComplete := f.ingestWake(t, time.Date(2026, 5, 4, 8, 0, 12, 0, time.UTC), nil)
	imgComplete := f.createImage(t, wakeComplete, "image_1777881612.jpg")
	if _, err := db.CompleteImage(ctx, imgComplete.ID, "minio://a", 48213); err != nil {
		t.Fatalf("CompleteImage: %v", err)
	}

	wakeRetried := f.ingestWake(t, time.Date(2026, 5, 4, 8, 1, 0, 0, time.UTC), nil)
	imgRetried := f.createImage(t, wakeRetried, "image_1777881660.jpg")
	if _, err := db.FailImage(ctx, imgRetried.ID, "chunk timeout"); err != nil {
		t.Fatalf("FailImage: %v", err)
	}
	if _, err := db.RetryByID(ctx, f.Device.ID, "image_1777881660.jpg", "minio://b", 48213); err != nil {
		t.Fatalf("RetryByID: %v", err)
	}

	wakeFailed := f.ingestWake(t, time.Date(2026, 5, 4, 16, 0, 30, 0, time.UTC), nil)
	imgFailed := f.createImage(t, wakeFailed, "image_1777910430.jpg")
	if _, err := db.FailImage(ctx, imgFailed.ID, "resend_exhausted"); err != nil {
		t.Fatalf("FailImage: %v", err)
	}

	captured := time.Date(2026, 5, 4, 12, 30, 0, 0, time.UTC)
	wakeExtra, err := db.IngestWake(ctx, IngestWakeParams{
		Device:     f.Device,
		Lineage:    f.Lineage,
		SessionID:  f.Session.ID,
		CapturedAt: captured,
		ReceivedAt: captured.Add(20 * time.Second),
		WakeIndex:  1,
		Overage:    true,
	})
	if err != nil {
		t.Fatalf("IngestWake (overage): %v", err)
	}
	imgExtra := f.createImage(t, wakeExtra, "image_1777897800.jpg")
	if _, err := db.CompleteImage(ctx, imgExtra.ID, "minio://c", 1024); err != nil {
		t.Fatalf("CompleteImage (overage): %v", err)
	}

	locked, _, err := db.LockSession(ctx, f.SiteID, f.Date, LockPolicy{})
	if err != nil {
		t.Fatalf("LockSession: %v", err)
	}
	if locked.Status != models.SessionLocked {
		t.Fatalf("status = %s, want locked", locked.Status)
	}

	if locked.CompletedImages != 2 || locked.FailedImages != 1 || locked.ExtraImages != 1 {
		t.Errorf("counters = (completed %d, failed %d, extra %d), want (2, 1, 1)",
			locked.CompletedImages, locked.FailedImages, locked.ExtraImages)
	}

	// The locked books balance: every ingested wake event is accounted
	// exactly once across completed, failed and extra.
	total, err := db.CountSessionWakeEvents(ctx, f.Session.ID)
	if err != nil {
		t.Fatalf("CountSessionWakeEvents: %v", err)
	}
	sum := locked.CompletedImages + locked.FailedImages + locked.ExtraImages
	if sum != total {
		t.Errorf("completed+failed+extra = %d, want the %d ingested wake events", sum, total)
	}
}
