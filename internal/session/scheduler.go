// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

// Package session drives the daily session lifecycle. A scheduler ticks on
// a fixed interval and, for every site in its own time zone, opens today's
// session shortly after local midnight and locks yesterday's once the lock
// delay has passed. Lazy open in the ingest path stays as the fallback for
// a scheduler that was down at midnight. The same tick runs the companion
// image timeout sweep that closes out transfers abandoned mid-flight.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/arborlink/internal/config"
	"github.com/tomtom215/arborlink/internal/database"
	"github.com/tomtom215/arborlink/internal/logging"
	"github.com/tomtom215/arborlink/internal/models"
)

// Defaults applied when the config leaves policy fields zero.
const (
	defaultCheckInterval          = time.Minute
	defaultLockDelay              = 2 * time.Hour
	defaultMinCompletionRatio     = 0.8
	defaultDeviceFailureThreshold = 2
	defaultMinBatteryVoltage      = 3.40
	defaultImageTimeout           = 2 * time.Hour
)

// Store is the relational surface the scheduler works against. *database.DB
// satisfies it.
type Store interface {
	ListSites(ctx context.Context) ([]database.Site, error)
	OpenSession(ctx context.Context, siteID uuid.UUID, date string) (*database.OpenSessionResult, error)
	GetSessionBySiteDate(ctx context.Context, siteID uuid.UUID, date string) (*models.Session, error)
	LockSession(ctx context.Context, siteID uuid.UUID, date string, policy database.LockPolicy) (*models.Session, []models.Alert, error)
	TimeoutStaleImages(ctx context.Context, cutoff time.Time) (int, error)
}

// Invalidator drops cached lineage resolutions after a day-open promoted
// queued schedule changes. *lineage.Resolver satisfies it.
type Invalidator interface {
	Invalidate(deviceMAC string)
}

// Scheduler is a supervised service running the day-open/day-lock loop.
type Scheduler struct {
	store        Store
	invalidator  Invalidator
	policy       database.LockPolicy
	interval     time.Duration
	lockDelay    time.Duration
	imageTimeout time.Duration

	clock func() time.Time
}

// New builds a scheduler from the session and ingest policy sections.
func New(store Store, invalidator Invalidator, sessionCfg config.SessionConfig, imageTimeout time.Duration) *Scheduler {
	if sessionCfg.CheckInterval <= 0 {
		sessionCfg.CheckInterval = defaultCheckInterval
	}
	if sessionCfg.LockDelay <= 0 {
		sessionCfg.LockDelay = defaultLockDelay
	}
	if sessionCfg.MinCompletionRatio <= 0 {
		sessionCfg.MinCompletionRatio = defaultMinCompletionRatio
	}
	if sessionCfg.DeviceFailureThreshold <= 0 {
		sessionCfg.DeviceFailureThreshold = defaultDeviceFailureThreshold
	}
	if sessionCfg.MinBatteryVoltage <= 0 {
		sessionCfg.MinBatteryVoltage = defaultMinBatteryVoltage
	}
	if imageTimeout <= 0 {
		imageTimeout = defaultImageTimeout
	}
	return &Scheduler{
		store:       store,
		invalidator: invalidator,
		policy: database.LockPolicy{
			MinCompletionRatio:     sessionCfg.MinCompletionRatio,
			DeviceFailureThreshold: sessionCfg.DeviceFailureThreshold,
			MinBatteryVoltage:      sessionCfg.MinBatteryVoltage,
		},
		interval:     sessionCfg.CheckInterval,
		lockDelay:    sessionCfg.LockDelay,
		imageTimeout: imageTimeout,
		clock:        func() time.Time { return time.Now().UTC() },
	}
}

// Serve runs the lifecycle loop until the context is canceled. An immediate
// tick on startup catches a midnight missed while the process was down.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.Tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// String names the service in supervisor logs.
func (s *Scheduler) String() string {
	return "session-scheduler"
}

// Tick runs one pass: the image timeout sweep, then per-site day-open and
// day-lock. Per-site errors are logged and do not stop the pass.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock()

	if swept, err := s.store.TimeoutStaleImages(ctx, now.Add(-s.imageTimeout)); err != nil {
		logging.CtxError(ctx).Err(err).Msg("Image timeout sweep failed")
	} else if swept > 0 {
		logging.CtxInfo(ctx).Int("images", swept).Msg("Timed out stale transfers")
	}

	sites, err := s.store.ListSites(ctx)
	if err != nil {
		logging.CtxError(ctx).Err(err).Msg("Site listing failed")
		return
	}

	for i := range sites {
		if err := s.tickSite(ctx, &sites[i], now); err != nil {
			logging.CtxError(ctx).
				Str("site", sites[i].Name).
				Err(err).
				Msg("Session lifecycle pass failed")
		}
	}
}

// tickSite opens today's session for one site and locks yesterday's once
// the site-local clock is past the lock delay.
func (s *Scheduler) tickSite(ctx context.Context, site *database.Site, now time.Time) error {
	local := now.In(site.Location())
	today := local.Format(models.DateFormat)

	opened, err := s.store.OpenSession(ctx, site.ID, today)
	if err != nil {
		return fmt.Errorf("open session %s: %w", today, err)
	}
	if opened.Created {
		logging.CtxInfo(ctx).
			Str("site", site.Name).
			Str("date", today).
			Int("expected_wakes", opened.Session.ExpectedWakes).
			Msg("Session opened")
	}
	for _, mac := range opened.PromotedDevices {
		s.invalidator.Invalidate(mac)
	}

	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, site.Location())
	if local.Sub(midnight) < s.lockDelay {
		return nil
	}

	yesterday := local.AddDate(0, 0, -1).Format(models.DateFormat)
	prev, err := s.store.GetSessionBySiteDate(ctx, site.ID, yesterday)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup session %s: %w", yesterday, err)
	}
	if prev.Status == models.SessionLocked {
		return nil
	}

	locked, alerts, err := s.store.LockSession(ctx, site.ID, yesterday, s.policy)
	if err != nil {
		return fmt.Errorf("lock session %s: %w", yesterday, err)
	}
	logging.CtxInfo(ctx).
		Str("site", site.Name).
		Str("date", yesterday).
		Float64("completeness", locked.CompletenessPercent()).
		Int("alerts", len(alerts)).
		Msg("Session locked")
	return nil
}
