// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

// Command server runs the Arborlink ingestion service: MQTT gateway,
// contact pipeline, chunk assembly, session scheduler, and the
// operational HTTP surface, all under one supervisor tree.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/arborlink/internal/api"
	"github.com/tomtom215/arborlink/internal/assembler"
	"github.com/tomtom215/arborlink/internal/blob"
	"github.com/tomtom215/arborlink/internal/config"
	"github.com/tomtom215/arborlink/internal/database"
	"github.com/tomtom215/arborlink/internal/devicegw"
	"github.com/tomtom215/arborlink/internal/ingest"
	"github.com/tomtom215/arborlink/internal/lineage"
	"github.com/tomtom215/arborlink/internal/logging"
	"github.com/tomtom215/arborlink/internal/session"
	"github.com/tomtom215/arborlink/internal/supervisor"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("broker", cfg.MQTT.BrokerURL).
		Str("db_path", cfg.Database.Path).
		Bool("blob_enabled", cfg.Blob.Enabled).
		Msg("Starting Arborlink")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Object storage for completed images. Accounting proceeds without it.
	var uploader ingest.Uploader = blob.Noop{}
	if cfg.Blob.Enabled {
		store, err := blob.New(ctx, &cfg.Blob)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize blob storage")
		}
		uploader = store
		logging.Info().
			Str("endpoint", cfg.Blob.Endpoint).
			Str("bucket", cfg.Blob.Bucket).
			Msg("Blob storage initialized")
	} else {
		logging.Warn().Msg("Blob storage disabled - completed images will not be persisted")
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	resolver := lineage.NewResolver(db, 0)

	asm := assembler.New()

	// The contact pipeline: embedded JetStream by default, inline dispatch
	// when the pipeline is disabled.
	pipeline, err := initPipeline(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize contact pipeline")
	}
	defer pipeline.Close()

	var gateway *devicegw.Gateway
	var commander ingest.Commander = nopCommander{}
	if cfg.MQTT.Enabled {
		gateway = devicegw.NewGateway(cfg.MQTT, pipeline.ContactPublisher())
		commander = gateway.Commander()
	} else {
		logging.Warn().Msg("MQTT gateway disabled - no device traffic will be ingested")
	}

	processor := ingest.NewProcessor(cfg.Ingest, db, resolver, asm,
		uploader, blob.ObjectKey, commander)
	pipeline.SetHandler(processor.HandleContact)

	sweepInterval := cfg.Ingest.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	bufferTTL := cfg.Ingest.BufferTTL
	if bufferTTL <= 0 {
		bufferTTL = 30 * time.Minute
	}
	sweeper := assembler.NewSweeper(asm, sweepInterval, bufferTTL, processor.OnBufferExpired)

	scheduler := session.New(db, resolver, cfg.Session, cfg.Ingest.ImageTimeout)

	checks := map[string]api.Check{
		"database": db.Ping,
	}
	for name, check := range pipeline.Checks() {
		checks[name] = check
	}
	if gateway != nil {
		checks["mqtt"] = func(context.Context) error {
			if !gateway.Connected() {
				return errors.New("not connected to broker")
			}
			return nil
		}
	}
	httpServer := api.New(cfg.Server, checks)

	if gateway != nil {
		tree.AddDeviceService(gateway)
	}
	tree.AddDataService(scheduler)
	tree.AddDataService(sweeper)
	if router := pipeline.Router(); router != nil {
		tree.AddMessagingService(router)
	}
	tree.AddAPIService(httpServer)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Arborlink stopped")
}

// nopCommander swallows device commands when the MQTT gateway is
// disabled. The pipeline still accounts whatever contacts arrive through
// other paths.
type nopCommander struct{}

func (nopCommander) RequestMissingChunks(context.Context, string, string, []int) error {
	return nil
}

func (nopCommander) AcknowledgeTransfer(context.Context, string, string, time.Time) error {
	return nil
}

func (nopCommander) RequestImage(context.Context, string, string) error {
	return nil
}
