// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package assembler

import (
	"context"
	"time"

	"github.com/tomtom215/arborlink/internal/logging"
)

// Sweeper is the suture service that periodically evicts idle buffers.
// Eviction frees memory; the swept keys are handed to the callback so the
// ingest layer can close out the corresponding image rows.
type Sweeper struct {
	assembler *Assembler
	interval  time.Duration
	ttl       time.Duration
	onSwept   func(context.Context, []Key)
}

// NewSweeper creates a sweeper ticking at interval and evicting buffers
// idle longer than ttl. onSwept may be nil.
func NewSweeper(a *Assembler, interval, ttl time.Duration, onSwept func(context.Context, []Key)) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Sweeper{assembler: a, interval: interval, ttl: ttl, onSwept: onSwept}
}

// Serve implements suture.Service. Blocks until context cancellation.
func (s *Sweeper) Serve(ctx context.Context) error {
	logging.Info().
		Dur("interval", s.interval).
		Dur("buffer_ttl", s.ttl).
		Msg("Starting assembly buffer sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Assembly buffer sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			swept := s.assembler.Sweep(s.ttl)
			if len(swept) == 0 {
				continue
			}
			logging.Warn().
				Int("buffers", len(swept)).
				Dur("buffer_ttl", s.ttl).
				Msg("Evicted idle assembly buffers")
			if s.onSwept != nil {
				s.onSwept(ctx, swept)
			}
		}
	}
}

// String names the service in supervisor logs.
func (s *Sweeper) String() string {
	return "assembly-sweeper"
}
