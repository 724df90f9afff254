// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package database

import (
	"errors"
	"io"

	"github.com/tomtom215/arborlink/internal/logging"
)

var (
	// ErrNotFound is returned when a row lookup matches nothing.
	ErrNotFound = errors.New("row not found")

	// ErrSessionLocked is returned when a mutation targets a session whose
	// books are already closed and the mutation cannot be reconciled (raw
	// counter writes; retry-by-id deliberately bypasses this).
	ErrSessionLocked = errors.New("session is locked")

	// ErrImageClaimed is returned when a conditional image status
	// transition matched no row: another finalizer won the claim.
	ErrImageClaimed = errors.New("image already claimed")

	// ErrObservationExists is returned when an observation insert hits the
	// per-image uniqueness constraint.
	ErrObservationExists = errors.New("observation already exists for image")
)

// closeQuietly closes a resource and explicitly ignores any error.
// Used in error paths where Close() failures are not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}

// closeWithLog closes a resource and logs any error. Used on success paths
// where a failed close should be visible but not fatal.
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}
