// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package blob

import (
	"context"
	"strings"
	"testing"

	"github.com/tomtom215/arborlink/internal/models"
)

func TestObjectKeyDeterministic(t *testing.T) {
	lineage := &models.Lineage{
		CompanyName: "GreenLeaf Research",
		ProgramName: "Basil Trial 7",
		SiteName:    "Greenhouse North",
	}

	key := ObjectKey(lineage, "AABBCCDDEEFF", "image_1777881612.jpg")
	want := "images/greenleaf-research/basil-trial-7/greenhouse-north/AABBCCDDEEFF/image_1777881612.jpg"
	if key != want {
		t.Errorf("key = %q, want %q", key, want)
	}

	// Same inputs, same key: a retransmit lands on the original object.
	if again := ObjectKey(lineage, "AABBCCDDEEFF", "image_1777881612.jpg"); again != key {
		t.Errorf("key not deterministic: %q vs %q", again, key)
	}
}

func TestObjectKeySlugging(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"GreenLeaf Research", "greenleaf-research"},
		{"  padded  ", "padded"},
		{"Ümlauts & Symbols!", "mlauts--symbols"},
		{"", "unknown"},
		{"???", "unknown"},
	}
	for _, tt := range tests {
		if got := slug(tt.in); got != tt.want {
			t.Errorf("slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNoopUploader(t *testing.T) {
	var u Uploader = Noop{}

	url, err := u.Upload(context.Background(), "images/a/b/c/d/e.jpg", []byte("jpeg"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(url, "noop://") {
		t.Errorf("url = %q, want noop:// prefix", url)
	}
}
