// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package ingest

import "errors"

var (
	// ErrImageTooLarge is returned when metadata declares an image above
	// the configured size ceiling. The contact is dropped, not retried.
	ErrImageTooLarge = errors.New("declared image size exceeds limit")

	// ErrUnknownImage is returned when a completed buffer has no image row
	// behind it, which indicates the metadata insert was lost.
	ErrUnknownImage = errors.New("no image row for completed buffer")
)
