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
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/arborlink/internal/cache"
	"github.com/tomtom215/arborlink/internal/config"
	"github.com/tomtom215/arborlink/internal/logging"
	"github.com/tomtom215/arborlink/internal/metrics"
	"github.com/tomtom215/arborlink/internal/wire"
)

const (
	defaultCommandRate  = 2.0
	defaultCommandBurst = 5

	publishTimeout = 10 * time.Second

	// limiterCapacity bounds the per-device limiter cache; devices idle
	// past the TTL simply get a fresh full bucket.
	limiterCapacity = 4096
	limiterTTL      = time.Hour
)

// publisherClient is the slice of the paho client the commander publishes
// through. mqtt.Client satisfies it.
type publisherClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Commander publishes server-to-device messages on the per-device command
// and ack topics. A device mid-transfer keeps its radio up waiting for
// these, so delivery is rate limited per device rather than globally and
// guarded by a circuit breaker against a wedged broker.
type Commander struct {
	client   publisherClient
	qos      byte
	limiters *cache.LRU[*rate.Limiter]
	breaker  *gobreaker.CircuitBreaker[struct{}]

	commandRate  float64
	commandBurst int
}

// NewCommander builds the return path over an existing broker connection.
func NewCommander(cfg config.MQTTConfig, client publisherClient) *Commander {
	if cfg.CommandRate <= 0 {
		cfg.CommandRate = defaultCommandRate
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = defaultCommandBurst
	}

	settings := gobreaker.Settings{
		Name: "device-commands",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Command circuit breaker state change")
		},
	}

	return &Commander{
		client:       client,
		qos:          byte(cfg.QoS),
		limiters:     cache.NewLRU[*rate.Limiter](limiterCapacity, limiterTTL),
		breaker:      gobreaker.NewCircuitBreaker[struct{}](settings),
		commandRate:  cfg.CommandRate,
		commandBurst: cfg.CommandBurst,
	}
}

// Commander returns the return path bound to the gateway's broker
// connection.
func (g *Gateway) Commander() *Commander {
	return NewCommander(g.cfg, g.client)
}

// RequestMissingChunks asks the device to resend the listed chunk IDs.
func (c *Commander) RequestMissingChunks(ctx context.Context, deviceMAC, imageName string, missing []int) error {
	return c.publish(ctx, deviceMAC, wire.AckTopic(deviceMAC), "missing_chunks",
		wire.NewMissingChunksAck(imageName, missing))
}

// AcknowledgeTransfer confirms a stored image and carries the next wake
// time that releases the device to deep sleep.
func (c *Commander) AcknowledgeTransfer(ctx context.Context, deviceMAC, imageName string, nextWake time.Time) error {
	return c.publish(ctx, deviceMAC, wire.AckTopic(deviceMAC), "ack_ok",
		wire.NewTransferAck(imageName, nextWake))
}

// RequestImage asks the device to retransmit a stored image by name.
func (c *Commander) RequestImage(ctx context.Context, deviceMAC, imageName string) error {
	return c.publish(ctx, deviceMAC, wire.CmdTopic(deviceMAC), "send_image",
		wire.NewSendImageCommand(imageName))
}

// RequestCapture triggers an immediate capture while the device is awake.
func (c *Commander) RequestCapture(ctx context.Context, deviceMAC string) error {
	return c.publish(ctx, deviceMAC, wire.CmdTopic(deviceMAC), "capture_image",
		wire.NewCaptureCommand())
}

// PushNextWake sends an updated wake time outside the ack path, for a
// schedule change that lands while the device is still connected.
func (c *Commander) PushNextWake(ctx context.Context, deviceMAC string, nextWake time.Time) error {
	return c.publish(ctx, deviceMAC, wire.CmdTopic(deviceMAC), "next_wake",
		wire.NewNextWakeCommand(nextWake))
}

func (c *Commander) publish(ctx context.Context, deviceMAC, topic, command string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", command, err)
	}

	limiter := c.limiters.GetOrAdd(deviceMAC, func() *rate.Limiter {
		return rate.NewLimiter(rate.Limit(c.commandRate), c.commandBurst)
	})
	if !limiter.Allow() {
		metrics.CommandRateLimited.Inc()
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit %s for %s: %w", command, deviceMAC, err)
		}
	}

	_, err = c.breaker.Execute(func() (struct{}, error) {
		token := c.client.Publish(topic, c.qos, false, payload)
		if !token.WaitTimeout(publishTimeout) {
			return struct{}{}, fmt.Errorf("publish %s to %s timed out", command, topic)
		}
		return struct{}{}, token.Error()
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", command, topic, err)
	}

	metrics.RecordCommand(command)
	logging.Debug().
		Str("device", deviceMAC).
		Str("command", command).
		Str("topic", topic).
		Msg("Command published")
	return nil
}
