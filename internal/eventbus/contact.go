// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package eventbus

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/tomtom215/arborlink/internal/wire"
)

// Stream and subject layout. One stream carries every device contact;
// subjects encode kind and device so consumers can filter server-side.
const (
	StreamName = "DEVICE_CONTACTS"

	// SubjectWildcard matches every contact subject for stream binding
	// and the router's catch-all consumer.
	SubjectWildcard = "contacts.>"
)

// Metadata keys on contact messages.
const (
	MetaDeviceMAC  = "device_mac"
	MetaKind       = "kind"
	MetaReceivedAt = "received_at"
)

// Contact is the pipeline envelope for one raw device transmission. The
// payload crosses the bus verbatim; decoding happens once, in the ingest
// consumer, so a firmware quirk poisons one message instead of the
// gateway.
type Contact struct {
	Kind       string          `json:"kind"` // alive | metadata | chunk
	DeviceMAC  string          `json:"device_mac"`
	Topic      string          `json:"topic"` // original MQTT topic
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewContact wraps a raw MQTT payload in an envelope.
func NewContact(kind wire.MessageKind, deviceMAC, topic string, payload []byte, receivedAt time.Time) *Contact {
	raw := make([]byte, len(payload))
	copy(raw, payload)
	return &Contact{
		Kind:       kind.String(),
		DeviceMAC:  deviceMAC,
		Topic:      topic,
		ReceivedAt: receivedAt.UTC(),
		Payload:    raw,
	}
}

// Subject returns the JetStream subject for this contact:
// contacts.{kind}.{mac}.
func (c *Contact) Subject() string {
	return "contacts." + c.Kind + "." + c.DeviceMAC
}

// ToMessage serializes the contact into a Watermill message with routing
// metadata. The message UUID doubles as the JetStream dedup id.
func (c *Contact) ToMessage() (*message.Message, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal contact: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set(MetaDeviceMAC, c.DeviceMAC)
	msg.Metadata.Set(MetaKind, c.Kind)
	msg.Metadata.Set(MetaReceivedAt, c.ReceivedAt.Format(time.RFC3339Nano))
	return msg, nil
}

// ContactFromMessage deserializes a pipeline message back into a Contact.
func ContactFromMessage(msg *message.Message) (*Contact, error) {
	var c Contact
	if err := json.Unmarshal(msg.Payload, &c); err != nil {
		return nil, fmt.Errorf("unmarshal contact %s: %w", msg.UUID, err)
	}
	if c.DeviceMAC == "" {
		return nil, fmt.Errorf("contact %s: missing device mac", msg.UUID)
	}
	return &c, nil
}
