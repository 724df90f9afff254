// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/arborlink/internal/config"
	"github.com/tomtom215/arborlink/internal/logging"
)

// JetStreamContext is the slice of jetstream.JetStream the initializer
// uses, separated for tests.
type JetStreamContext interface {
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// StreamInitializer creates or updates the contact stream before the
// publisher and subscribers start, so first-boot and config-change paths
// are identical.
type StreamInitializer struct {
	js  JetStreamContext
	cfg *config.NATSConfig
}

// NewStreamInitializer dials the server and wraps its JetStream context.
func NewStreamInitializer(url string, cfg *config.NATSConfig) (*StreamInitializer, error) {
	nc, err := natsgo.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect for stream init: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return &StreamInitializer{js: js, cfg: cfg}, nil
}

// NewStreamInitializerWithContext builds an initializer around an existing
// JetStream context. Used by tests.
func NewStreamInitializerWithContext(js JetStreamContext, cfg *config.NATSConfig) *StreamInitializer {
	return &StreamInitializer{js: js, cfg: cfg}
}

// StreamConfig builds the contact stream configuration from the NATS
// settings: file storage, age-limited retention, dedup window matching
// the publisher's message-id tracking.
func (s *StreamInitializer) StreamConfig() jetstream.StreamConfig {
	retention := time.Duration(s.cfg.StreamRetentionDays) * 24 * time.Hour
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectWildcard},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      retention,
		MaxBytes:    s.cfg.MaxStore,
		Duplicates:  2 * time.Minute,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		AllowDirect: true,
	}
}

// EnsureStream creates the stream or reconciles an existing one to the
// current configuration. Idempotent.
func (s *StreamInitializer) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	streamCfg := s.StreamConfig()

	_, err := s.js.Stream(ctx, StreamName)
	if err == nil {
		stream, err := s.js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("update stream %s: %w", StreamName, err)
		}
		logging.Debug().Str("stream", StreamName).Msg("Contact stream updated")
		return stream, nil
	}

	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err := s.js.CreateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", StreamName, err)
		}
		logging.Info().
			Str("stream", StreamName).
			Dur("max_age", streamCfg.MaxAge).
			Msg("Contact stream created")
		return stream, nil
	}

	return nil, fmt.Errorf("check stream %s: %w", StreamName, err)
}

// IsHealthy reports whether the stream is queryable, for the readiness
// probe.
func (s *StreamInitializer) IsHealthy(ctx context.Context) bool {
	_, err := s.js.Stream(ctx, StreamName)
	return err == nil
}
