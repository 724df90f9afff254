// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package wire

import "errors"

// ErrUnknownMessage is returned when a data-topic payload matches neither
// the metadata nor the chunk shape.
var ErrUnknownMessage = errors.New("unknown message shape")

// ErrEmptyPayload is returned when a chunk arrives with no payload bytes.
var ErrEmptyPayload = errors.New("chunk payload is empty")

// ErrNotAlive is returned when a status message carries a status other
// than "alive".
var ErrNotAlive = errors.New("status message is not an alive announcement")
