// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/tomtom215/arborlink/internal/config"
	"github.com/tomtom215/arborlink/internal/metrics"
)

// ContactHandler processes one decoded contact. Returning an error nacks
// the message: it retries with backoff and parks on the poison queue once
// retries exhaust.
type ContactHandler func(ctx context.Context, c *Contact) error

// Router wraps the Watermill router with the pipeline's middleware stack:
// panic recovery, exponential backoff retry, and a poison queue for
// contacts that can never process.
type Router struct {
	router *message.Router
	sub    *Subscriber
}

// NewRouter builds the router. poisonPublisher receives messages that
// exhausted their retries; pass nil to disable the poison queue (failed
// messages then rely on JetStream redelivery alone).
func NewRouter(cfg *config.NATSConfig, sub *Subscriber, poisonPublisher message.Publisher, logger watermill.LoggerAdapter) (*Router, error) {
	if logger == nil {
		logger = NewLoggerAdapter()
	}

	closeTimeout := cfg.RouterCloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = 30 * time.Second
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: closeTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	// Outermost first: poison catches what retry gives up on, recoverer
	// turns handler panics into errors the retry sees.
	if cfg.RouterPoisonQueueEnabled && poisonPublisher != nil {
		topic := cfg.RouterPoisonQueueTopic
		if topic == "" {
			topic = "contacts.poison"
		}
		poison, err := middleware.PoisonQueue(poisonPublisher, topic)
		if err != nil {
			return nil, fmt.Errorf("create poison queue: %w", err)
		}
		router.AddMiddleware(func(h message.HandlerFunc) message.HandlerFunc {
			return poison(func(msg *message.Message) ([]*message.Message, error) {
				out, err := h(msg)
				if err != nil {
					metrics.RecordNATSPoison()
				}
				return out, err
			})
		})
	}

	retryCount := cfg.RouterRetryCount
	if retryCount <= 0 {
		retryCount = 5
	}
	retryInterval := cfg.RouterRetryInitialInterval
	if retryInterval <= 0 {
		retryInterval = time.Second
	}
	router.AddMiddleware(middleware.Retry{
		MaxRetries:      retryCount,
		InitialInterval: retryInterval,
		MaxInterval:     time.Minute,
		Multiplier:      2.0,
		Logger:          logger,
	}.Middleware)

	router.AddMiddleware(middleware.Recoverer)

	return &Router{router: router, sub: sub}, nil
}

// AddContactHandler registers a consumer for the contact wildcard. The
// raw message is decoded once here; handlers see the envelope.
func (r *Router) AddContactHandler(name string, handler ContactHandler) {
	r.router.AddNoPublisherHandler(name, SubjectWildcard, r.sub.Messages(),
		func(msg *message.Message) error {
			metrics.RecordNATSConsume()
			start := time.Now()

			contact, err := ContactFromMessage(msg)
			if err != nil {
				metrics.RecordNATSParseFailed()
				return err
			}

			if err := handler(msg.Context(), contact); err != nil {
				return err
			}
			metrics.RecordNATSProcessed()
			metrics.RecordNATSProcessingDuration(time.Since(start))
			return nil
		})
}

// Serve implements suture.Service: runs the router until context
// cancellation.
func (r *Router) Serve(ctx context.Context) error {
	return r.router.Run(ctx)
}

// String names the service in supervisor logs.
func (r *Router) String() string {
	return "contact-router"
}

// Running returns a channel closed once the router is running, for
// readiness checks.
func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

// Close stops the router outside supervisor control.
func (r *Router) Close() error {
	return r.router.Close()
}
