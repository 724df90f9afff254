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
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/arborlink/internal/config"
)

// Subscriber consumes the contact stream durably. Queue-group consumption
// load-balances across the configured subscriber count; unacked messages
// redeliver after the ack wait, which is what gives ingestion its
// crash-resume behavior.
type Subscriber struct {
	subscriber message.Subscriber
}

// NewSubscriber builds a durable JetStream subscriber bound to the
// contact stream. Binding is required because the consumed topic is the
// contacts wildcard, and stream names cannot contain wildcards.
func NewSubscriber(cfg *config.NATSConfig, url string, logger watermill.LoggerAdapter) (*Subscriber, error) {
	if logger == nil {
		logger = NewLoggerAdapter()
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("Pipeline subscriber disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("Pipeline subscriber reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	subscribers := cfg.SubscribersCount
	if subscribers <= 0 {
		subscribers = 4
	}

	subOpts := []natsgo.SubOpt{
		natsgo.MaxDeliver(5),
		natsgo.MaxAckPending(subscribers * 64),
		natsgo.AckWait(30 * time.Second),
		natsgo.DeliverNew(),
		natsgo.BindStream(StreamName),
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: subscribers,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     cfg.RouterCloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    false,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.DurableName,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create pipeline subscriber: %w", err)
	}

	return &Subscriber{subscriber: sub}, nil
}

// Subscribe returns the message channel for a topic. The channel closes
// on context cancellation or Close.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.subscriber.Subscribe(ctx, topic)
}

// Messages exposes the underlying Watermill subscriber for router wiring.
func (s *Subscriber) Messages() message.Subscriber {
	return s.subscriber
}

// Close drains and shuts down the subscriber.
func (s *Subscriber) Close() error {
	return s.subscriber.Close()
}
