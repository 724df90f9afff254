// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core tables. All columns live in the initial
// CREATE TABLE statements; post-release changes go through migrations.go.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("execute query: %s: %w", query, err)
		}
	}
	return nil
}

func tableCreationQueries() []string {
	return []string{
		// Organizational hierarchy. Administration of these rows is a
		// downstream concern; ingestion only reads them to resolve lineage.
		`CREATE TABLE IF NOT EXISTS companies (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS programs (
			id UUID PRIMARY KEY,
			company_id UUID NOT NULL,
			name TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS sites (
			id UUID PRIMARY KEY,
			program_id UUID NOT NULL,
			name TEXT NOT NULL,
			timezone TEXT NOT NULL DEFAULT 'UTC',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Devices are never deleted. The MAC is the natural key firmware
		// reports; pending_schedule holds a queued expression promoted at
		// the next day-open.
		`CREATE TABLE IF NOT EXISTS devices (
			id UUID PRIMARY KEY,
			mac TEXT NOT NULL UNIQUE,
			wake_schedule TEXT NOT NULL DEFAULT 'every 12 hours',
			pending_schedule TEXT,
			pending_schedule_since TIMESTAMP,
			last_contact_at TIMESTAMP,
			next_wake_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// At most one active assignment per device; history rows keep
		// active=false with an unassigned_at timestamp.
		`CREATE TABLE IF NOT EXISTS device_assignments (
			id UUID PRIMARY KEY,
			device_id UUID NOT NULL,
			site_id UUID NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			assigned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			unassigned_at TIMESTAMP
		)`,

		// One session per site per site-local calendar day. Counters are
		// mutated only inside contract transactions; status is monotonic
		// pending -> in_progress -> locked.
		`CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			site_id UUID NOT NULL,
			program_id UUID NOT NULL,
			company_id UUID NOT NULL,
			date TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			expected_wakes INTEGER NOT NULL DEFAULT 0,
			completed_images INTEGER NOT NULL DEFAULT 0,
			failed_images INTEGER NOT NULL DEFAULT 0,
			extra_images INTEGER NOT NULL DEFAULT 0,
			roster_changed BOOLEAN NOT NULL DEFAULT false,
			opened_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			locked_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (site_id, date)
		)`,

		// Roster snapshot taken at day-open; devices ingesting into a
		// session they were not snapshotted into arrive late_added with
		// expected_wakes 0.
		`CREATE TABLE IF NOT EXISTS session_devices (
			session_id UUID NOT NULL,
			device_id UUID NOT NULL,
			expected_wakes INTEGER NOT NULL DEFAULT 0,
			late_added BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (session_id, device_id)
		)`,

		// captured_at is device-authoritative and written exactly once;
		// received_at moves forward on every contact including resends.
		`CREATE TABLE IF NOT EXISTS wake_events (
			id UUID PRIMARY KEY,
			device_id UUID NOT NULL,
			device_mac TEXT NOT NULL,
			session_id UUID NOT NULL,
			site_id UUID NOT NULL,
			program_id UUID NOT NULL,
			company_id UUID NOT NULL,
			captured_at TIMESTAMP NOT NULL,
			received_at TIMESTAMP NOT NULL,
			wake_index INTEGER NOT NULL DEFAULT 1,
			overage BOOLEAN NOT NULL DEFAULT false,
			telemetry TEXT,
			battery_voltage DOUBLE,
			status TEXT NOT NULL DEFAULT 'pending',
			image_id UUID,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// One row per (device, stable_name). Retries update this row,
		// never insert a second; the UNIQUE constraint is the idempotency
		// backstop for redelivered metadata.
		`CREATE TABLE IF NOT EXISTS images (
			id UUID PRIMARY KEY,
			device_id UUID NOT NULL,
			stable_name TEXT NOT NULL,
			wake_event_id UUID NOT NULL,
			declared_size BIGINT NOT NULL DEFAULT 0,
			max_chunk_size INTEGER NOT NULL DEFAULT 0,
			expected_chunks INTEGER NOT NULL DEFAULT 0,
			received_chunks INTEGER NOT NULL DEFAULT 0,
			received_bitmap BLOB,
			status TEXT NOT NULL DEFAULT 'pending',
			fail_reason TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			resent_received_at TIMESTAMP,
			blob_url TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (device_id, stable_name)
		)`,

		// Exactly one observation per completed image, enforced by the
		// UNIQUE constraint. Rows are immutable after insert.
		`CREATE TABLE IF NOT EXISTS observations (
			id UUID PRIMARY KEY,
			image_id UUID NOT NULL UNIQUE,
			wake_event_id UUID NOT NULL,
			session_id UUID NOT NULL,
			device_id UUID NOT NULL,
			company_id UUID NOT NULL,
			program_id UUID NOT NULL,
			site_id UUID NOT NULL,
			captured_at TIMESTAMP NOT NULL,
			blob_url TEXT NOT NULL,
			size_bytes BIGINT NOT NULL DEFAULT 0,
			telemetry TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id UUID PRIMARY KEY,
			session_id UUID,
			device_id UUID,
			kind TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
}

// createIndexes creates secondary indexes for the pipeline's hot lookups.
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_assignments_device_active ON device_assignments (device_id, active)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_site_date ON sessions (site_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions (status)`,
		`CREATE INDEX IF NOT EXISTS idx_wake_events_session ON wake_events (session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_wake_events_device ON wake_events (device_id, captured_at)`,
		`CREATE INDEX IF NOT EXISTS idx_images_device_name ON images (device_id, stable_name)`,
		`CREATE INDEX IF NOT EXISTS idx_images_status ON images (status, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_session ON observations (session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_session ON alerts (session_id)`,
	}

	for _, query := range indexes {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("execute query: %s: %w", query, err)
		}
	}
	return nil
}
