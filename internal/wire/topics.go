// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package wire

import (
	"fmt"
	"strings"
)

// Topic layout used by the fleet. The MAC address occupies the middle
// segment on every topic; the data topic keeps the legacy "ESP32CAM"
// prefix burned into firmware.
const (
	// StatusTopicFilter subscribes to alive announcements from all devices.
	StatusTopicFilter = "device/+/status"

	// DataTopicFilter subscribes to metadata and chunk messages from all devices.
	DataTopicFilter = "ESP32CAM/+/data"

	statusPrefix = "device/"
	dataPrefix   = "ESP32CAM/"
)

// StatusTopic returns the alive topic for a device.
func StatusTopic(deviceID string) string {
	return fmt.Sprintf("device/%s/status", deviceID)
}

// DataTopic returns the metadata/chunk topic for a device.
func DataTopic(deviceID string) string {
	return fmt.Sprintf("ESP32CAM/%s/data", deviceID)
}

// CmdTopic returns the server-to-device command topic for a device.
func CmdTopic(deviceID string) string {
	return fmt.Sprintf("device/%s/cmd", deviceID)
}

// AckTopic returns the server-to-device acknowledgment topic for a device.
func AckTopic(deviceID string) string {
	return fmt.Sprintf("device/%s/ack", deviceID)
}

// DeviceIDFromTopic extracts the device MAC from any fleet topic
// (status, data, cmd or ack). The MAC is always the middle of exactly
// three segments.
func DeviceIDFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] == "" {
		return "", fmt.Errorf("topic %q does not match a device topic", topic)
	}
	return parts[1], nil
}

// IsStatusTopic reports whether the topic carries alive announcements.
func IsStatusTopic(topic string) bool {
	return strings.HasPrefix(topic, statusPrefix) && strings.HasSuffix(topic, "/status")
}

// IsDataTopic reports whether the topic carries metadata or chunk messages.
func IsDataTopic(topic string) bool {
	return strings.HasPrefix(topic, dataPrefix) && strings.HasSuffix(topic, "/data")
}
