// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/arborlink/internal/api"
	"github.com/tomtom215/arborlink/internal/config"
	"github.com/tomtom215/arborlink/internal/devicegw"
	"github.com/tomtom215/arborlink/internal/eventbus"
	"github.com/tomtom215/arborlink/internal/logging"
)

// contactPipeline is the path from the MQTT gateway to the ingest
// processor. With NATS enabled contacts flow through a durable JetStream
// stream and the Watermill router; with NATS disabled they dispatch
// inline, trading restart durability for zero moving parts.
type contactPipeline struct {
	server     *eventbus.EmbeddedServer
	stream     *eventbus.StreamInitializer
	publisher  *eventbus.Publisher
	subscriber *eventbus.Subscriber
	router     *eventbus.Router

	inline *inlineDispatcher
}

func initPipeline(ctx context.Context, cfg *config.Config) (*contactPipeline, error) {
	if !cfg.NATS.Enabled {
		logging.Warn().Msg("Contact pipeline disabled - contacts dispatch inline without durability")
		return &contactPipeline{inline: &inlineDispatcher{}}, nil
	}

	p := &contactPipeline{}

	url := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		server, err := eventbus.NewEmbeddedServer(&cfg.NATS)
		if err != nil {
			return nil, err
		}
		p.server = server
		url = server.ClientURL()
	}

	stream, err := eventbus.NewStreamInitializer(url, &cfg.NATS)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.stream = stream
	if _, err := stream.EnsureStream(ctx); err != nil {
		p.Close()
		return nil, err
	}

	logger := eventbus.NewLoggerAdapter()

	publisher, err := eventbus.NewPublisher(url, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.publisher = publisher

	subscriber, err := eventbus.NewSubscriber(&cfg.NATS, url, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.subscriber = subscriber

	router, err := eventbus.NewRouter(&cfg.NATS, subscriber, publisher.Messages(), logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.router = router

	logging.Info().Str("url", url).Msg("Contact pipeline initialized")
	return p, nil
}

// ContactPublisher is what the MQTT gateway publishes into.
func (p *contactPipeline) ContactPublisher() devicegw.ContactPublisher {
	if p.inline != nil {
		return p.inline
	}
	return p.publisher
}

// SetHandler registers the ingest processor as the pipeline consumer.
func (p *contactPipeline) SetHandler(h eventbus.ContactHandler) {
	if p.inline != nil {
		p.inline.setHandler(h)
		return
	}
	p.router.AddContactHandler("ingest", h)
}

// Router returns the supervised consumer, nil in inline mode.
func (p *contactPipeline) Router() *eventbus.Router {
	return p.router
}

// Checks returns the pipeline's readiness checks.
func (p *contactPipeline) Checks() map[string]api.Check {
	checks := make(map[string]api.Check)
	if p.server != nil {
		checks["nats"] = func(context.Context) error {
			if !p.server.IsRunning() {
				return errors.New("embedded server not running")
			}
			return nil
		}
	}
	if p.stream != nil {
		checks["stream"] = func(ctx context.Context) error {
			if !p.stream.IsHealthy(ctx) {
				return errors.New("contact stream unavailable")
			}
			return nil
		}
	}
	return checks
}

// Close tears the pipeline down in consumer-to-server order.
func (p *contactPipeline) Close() {
	if p.router != nil {
		if err := p.router.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing contact router")
		}
	}
	if p.subscriber != nil {
		if err := p.subscriber.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing pipeline subscriber")
		}
	}
	if p.publisher != nil {
		if err := p.publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing pipeline publisher")
		}
	}
	if p.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.server.Shutdown(ctx); err != nil {
			logging.Error().Err(err).Msg("Error stopping embedded NATS server")
		}
	}
}

// inlineDispatcher hands contacts straight to the handler. The handler is
// registered after the gateway is built, so access is guarded.
type inlineDispatcher struct {
	mu      sync.RWMutex
	handler eventbus.ContactHandler
}

func (d *inlineDispatcher) setHandler(h eventbus.ContactHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// PublishContact implements devicegw.ContactPublisher.
func (d *inlineDispatcher) PublishContact(c *eventbus.Contact) error {
	d.mu.RLock()
	h := d.handler
	d.mu.RUnlock()
	if h == nil {
		return errors.New("no contact handler registered")
	}
	return h(context.Background(), c)
}
