// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package wire

import "testing"

func TestTopicBuilders(t *testing.T) {
	const mac = "B8F862F9CFB8"

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"status", StatusTopic(mac), "device/B8F862F9CFB8/status"},
		{"data", DataTopic(mac), "ESP32CAM/B8F862F9CFB8/data"},
		{"cmd", CmdTopic(mac), "device/B8F862F9CFB8/cmd"},
		{"ack", AckTopic(mac), "device/B8F862F9CFB8/ack"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("topic = %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestDeviceIDFromTopic(t *testing.T) {
	tests := []struct {
		name     string
		topic    string
		expected string
		wantErr  bool
	}{
		{"status topic", "device/B8F862F9CFB8/status", "B8F862F9CFB8", false},
		{"data topic", "ESP32CAM/24DCC3A7250C/data", "24DCC3A7250C", false},
		{"cmd topic", "device/B8F862F9CFB8/cmd", "B8F862F9CFB8", false},
		{"ack topic", "device/B8F862F9CFB8/ack", "B8F862F9CFB8", false},
		{"too few segments", "device/status", "", true},
		{"too many segments", "device/B8F862F9CFB8/status/extra", "", true},
		{"empty middle segment", "device//status", "", true},
		{"empty topic", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeviceIDFromTopic(tt.topic)
			if tt.wantErr {
				if err == nil {
					t.Errorf("DeviceIDFromTopic(%q) should fail", tt.topic)
				}
				return
			}
			if err != nil {
				t.Fatalf("DeviceIDFromTopic(%q) error = %v", tt.topic, err)
			}
			if got != tt.expected {
				t.Errorf("DeviceIDFromTopic(%q) = %q, want %q", tt.topic, got, tt.expected)
			}
		})
	}
}

func TestTopicPredicates(t *testing.T) {
	tests := []struct {
		topic    string
		isStatus bool
		isData   bool
	}{
		{"device/B8F862F9CFB8/status", true, false},
		{"ESP32CAM/B8F862F9CFB8/data", false, true},
		{"device/B8F862F9CFB8/cmd", false, false},
		{"device/B8F862F9CFB8/ack", false, false},
		{"other/B8F862F9CFB8/status", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		if got := IsStatusTopic(tt.topic); got != tt.isStatus {
			t.Errorf("IsStatusTopic(%q) = %v, want %v", tt.topic, got, tt.isStatus)
		}
		if got := IsDataTopic(tt.topic); got != tt.isData {
			t.Errorf("IsDataTopic(%q) = %v, want %v", tt.topic, got, tt.isData)
		}
	}
}
