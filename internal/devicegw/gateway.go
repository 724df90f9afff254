// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package devicegw

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tomtom215/arborlink/internal/config"
	"github.com/tomtom215/arborlink/internal/eventbus"
	"github.com/tomtom215/arborlink/internal/logging"
	"github.com/tomtom215/arborlink/internal/metrics"
	"github.com/tomtom215/arborlink/internal/wire"
)

const (
	defaultKeepAlive            = 60 * time.Second
	defaultConnectTimeout       = 30 * time.Second
	defaultReconnectMaxInterval = 2 * time.Minute
)

// ContactPublisher forwards an inbound device message to the event stream.
// The eventbus publisher satisfies it.
type ContactPublisher interface {
	PublishContact(c *eventbus.Contact) error
}

// Gateway bridges the MQTT fleet topics onto the contact stream.
type Gateway struct {
	cfg       config.MQTTConfig
	publisher ContactPublisher
	client    mqtt.Client

	clock func() time.Time
}

// NewGateway builds the gateway without connecting; Serve connects.
func NewGateway(cfg config.MQTTConfig, publisher ContactPublisher) *Gateway {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectMaxInterval <= 0 {
		cfg.ReconnectMaxInterval = defaultReconnectMaxInterval
	}

	g := &Gateway{
		cfg:       cfg,
		publisher: publisher,
		clock:     func() time.Time { return time.Now().UTC() },
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(cfg.CleanSession).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(cfg.ReconnectMaxInterval).
		SetOrderMatters(false).
		SetOnConnectHandler(g.onConnect).
		SetConnectionLostHandler(g.onConnectionLost).
		SetReconnectingHandler(g.onReconnecting)

	g.client = mqtt.NewClient(opts)
	return g
}

// Serve connects to the broker and blocks until the context is canceled.
// Paho owns reconnection; subscriptions are re-established by the
// on-connect handler after every reconnect.
func (g *Gateway) Serve(ctx context.Context) error {
	if token := g.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to broker %s: %w", g.cfg.BrokerURL, token.Error())
	}

	<-ctx.Done()

	g.client.Disconnect(250)
	metrics.SetMQTTConnected(false)
	return ctx.Err()
}

// String names the service in supervisor logs.
func (g *Gateway) String() string {
	return "mqtt-gateway"
}

// Connected reports broker connectivity, for the readiness probe.
func (g *Gateway) Connected() bool {
	return g.client.IsConnectionOpen()
}

func (g *Gateway) onConnect(client mqtt.Client) {
	metrics.SetMQTTConnected(true)
	logging.Info().
		Str("broker", g.cfg.BrokerURL).
		Msg("MQTT broker connected")

	qos := byte(g.cfg.QoS)
	for _, filter := range []string{wire.StatusTopicFilter, wire.DataTopicFilter} {
		if token := client.Subscribe(filter, qos, g.onMessage); token.Wait() && token.Error() != nil {
			logging.Error().
				Str("filter", filter).
				Err(token.Error()).
				Msg("Subscribe failed, will retry on reconnect")
		}
	}
}

func (g *Gateway) onConnectionLost(_ mqtt.Client, err error) {
	metrics.SetMQTTConnected(false)
	logging.Warn().Err(err).Msg("MQTT broker connection lost")
}

func (g *Gateway) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	metrics.MQTTReconnects.Inc()
}

// onMessage is the paho receive callback. It classifies and forwards; all
// decoding and store I/O happens downstream of the stream so a slow
// consumer never blocks the broker connection.
func (g *Gateway) onMessage(_ mqtt.Client, msg mqtt.Message) {
	g.forward(msg.Topic(), msg.Payload())
}

// forward wraps one raw device message in a Contact and publishes it.
func (g *Gateway) forward(topic string, payload []byte) {
	mac, err := wire.DeviceIDFromTopic(topic)
	if err != nil {
		metrics.RecordDecodeFailure("topic")
		logging.Warn().
			Str("topic", topic).
			Msg("Message on unrecognized topic")
		return
	}

	kind := wire.Classify(payload)
	if kind == wire.KindUnknown {
		metrics.RecordDecodeFailure(kind.String())
		logging.Warn().
			Str("topic", topic).
			Str("device", mac).
			Int("bytes", len(payload)).
			Msg("Unclassifiable device message")
		return
	}

	contact := eventbus.NewContact(kind, mac, topic, payload, g.clock())
	if err := g.publisher.PublishContact(contact); err != nil {
		logging.Error().
			Str("device", mac).
			Str("kind", kind.String()).
			Err(err).
			Msg("Contact not published to stream")
		return
	}

	logging.Debug().
		Str("device", mac).
		Str("kind", kind.String()).
		Int("bytes", len(payload)).
		Msg("Contact forwarded")
}
