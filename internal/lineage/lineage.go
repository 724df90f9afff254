// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

// Package lineage resolves device identifiers to their organizational chain.
//
// Every wake event and image row carries the full company/program/site chain
// of the device that produced it, resolved at ingestion time from the active
// site assignment. Resolution fails closed: a device that is unknown or has
// no active assignment produces no wake event, only a logged and counted
// contact. Successful resolutions are cached with a short TTL so a device's
// burst of chunk traffic costs one store lookup, not hundreds.
package lineage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/arborlink/internal/cache"
	"github.com/tomtom215/arborlink/internal/logging"
	"github.com/tomtom215/arborlink/internal/metrics"
	"github.com/tomtom215/arborlink/internal/models"
	"github.com/tomtom215/arborlink/internal/schedule"
)

// ErrDeviceNotAssigned is returned when a device is unknown or has no
// active site assignment. Callers must not create wake events for it.
var ErrDeviceNotAssigned = errors.New("device has no active site assignment")

// cacheType labels this resolver's entries in the shared cache metrics.
const cacheType = "lineage"

// DefaultTTL is the cache lifetime for successful resolutions. Five minutes
// keeps a device's whole transfer window on one lookup while letting
// assignment changes surface without a restart.
const DefaultTTL = 5 * time.Minute

// Store provides the active-assignment lookup backing the resolver.
type Store interface {
	// ActiveAssignment returns the device row and its lineage chain for a
	// normalized MAC. Both results are nil (with a nil error) when the
	// device is unknown or currently unassigned.
	ActiveAssignment(ctx context.Context, mac string) (*models.Device, *models.Lineage, error)
}

// Resolution is the outcome of a successful lookup: the device row plus its
// full organizational chain and parsed wake schedule.
type Resolution struct {
	Device  *models.Device
	Lineage *models.Lineage

	// Schedule is parsed from the device's wake schedule expression, falling
	// back to the fixed interval default when the expression is unparseable.
	Schedule schedule.Schedule
}

// SiteLocation returns the site's time zone location, UTC when unresolvable.
func (r *Resolution) SiteLocation() *time.Location {
	return r.Lineage.Location()
}

// Resolver caches store-backed assignment lookups by normalized MAC.
type Resolver struct {
	store Store
	cache *cache.Cache[*Resolution]
}

// NewResolver creates a resolver over the given store. A ttl of zero or
// less selects DefaultTTL.
func NewResolver(store Store, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{
		store: store,
		cache: cache.New[*Resolution](ttl),
	}
}

// Resolve returns the device's resolution, from cache when fresh.
//
// Negative results are never cached: an operator assigning a device in the
// field should see its next contact succeed immediately. Only store errors
// are distinguishable from ErrDeviceNotAssigned.
func (r *Resolver) Resolve(ctx context.Context, deviceMAC string) (*Resolution, error) {
	mac := models.NormalizeMAC(deviceMAC)
	if mac == "" {
		return nil, fmt.Errorf("empty device identifier: %w", ErrDeviceNotAssigned)
	}

	if res, ok := r.cache.Get(mac); ok {
		metrics.CacheHits.WithLabelValues(cacheType).Inc()
		return res, nil
	}
	metrics.CacheMisses.WithLabelValues(cacheType).Inc()

	device, lin, err := r.store.ActiveAssignment(ctx, mac)
	if err != nil {
		return nil, fmt.Errorf("assignment lookup for %s: %w", mac, err)
	}
	if device == nil || lin == nil || !device.IsAssigned() {
		logging.CtxWarn(ctx).
			Str("device", mac).
			Msg("Contact from device without active assignment")
		return nil, ErrDeviceNotAssigned
	}

	res := &Resolution{
		Device:   device,
		Lineage:  lin,
		Schedule: schedule.ParseOrDefault(device.WakeSchedule),
	}
	r.cache.Set(mac, res)
	metrics.CacheSize.WithLabelValues(cacheType).Set(float64(r.cache.Len()))

	return res, nil
}

// Invalidate drops any cached resolution for the device. The session
// day-open path calls this after applying a queued schedule change so the
// device's next contact sees the new schedule.
func (r *Resolver) Invalidate(deviceMAC string) {
	r.cache.Delete(models.NormalizeMAC(deviceMAC))
}

// InvalidateAll drops every cached resolution, for bulk roster changes.
func (r *Resolver) InvalidateAll() {
	r.cache.Clear()
}
