// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

// Package schedule parses device wake-schedule expressions and computes the
// wake buckets they imply.
//
// Two syntaxes are accepted, modeling the two firmware configurations in the
// field:
//
//   - enumerated hours: "8,16" wakes at 08:00 and 16:00 site-local
//   - fixed interval:   "every 4 hours" wakes at 00:00, 04:00, ... site-local
//
// All computations are pure. Times are interpreted in the location of the
// timestamps passed in; callers convert to site-local time first.
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/arborlink/internal/logging"
)

// Kind discriminates the two schedule syntaxes.
type Kind int

const (
	// KindHours is an enumerated-hours schedule ("8,16").
	KindHours Kind = iota
	// KindInterval is a fixed-interval schedule ("every 4 hours").
	KindInterval
)

const (
	// DefaultInterval is the conservative fallback applied when an
	// expression cannot be parsed.
	DefaultInterval = 12 * time.Hour

	// DefaultTolerance is the default window around a bucket within which a
	// capture is considered on-schedule.
	DefaultTolerance = time.Hour

	day = 24 * time.Hour
)

// Schedule is the parsed form of a wake-schedule expression.
// The zero value is not valid; construct via Parse, ParseOrDefault, or Default.
type Schedule struct {
	kind     Kind
	hours    []int
	interval time.Duration
	expr     string
}

// Default returns the fallback schedule (every 12 hours).
func Default() Schedule {
	return Schedule{
		kind:     KindInterval,
		interval: DefaultInterval,
		expr:     "every 12 hours",
	}
}

// Parse parses a wake-schedule expression.
//
// Enumerated hours: comma-separated integers 0-23, e.g. "8,16" or "0, 6, 12, 18".
// Fixed interval: "every N hours" or "every N minutes", 1 minute to 24 hours.
func Parse(expr string) (Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return Schedule{}, fmt.Errorf("empty schedule expression")
	}

	if strings.HasPrefix(strings.ToLower(trimmed), "every ") {
		return parseInterval(trimmed)
	}
	return parseHours(trimmed)
}

// ParseOrDefault parses an expression, falling back to the default 12-hour
// interval on any parse failure. The failure is logged, never returned:
// a device with a malformed schedule must still be ingestible.
func ParseOrDefault(expr string) Schedule {
	s, err := Parse(expr)
	if err != nil {
		logging.Warn().
			Str("expression", expr).
			Err(err).
			Msg("unparseable wake schedule, falling back to 12h interval")
		return Default()
	}
	return s
}

func parseHours(expr string) (Schedule, error) {
	parts := strings.Split(expr, ",")
	seen := make(map[int]bool, len(parts))
	hours := make([]int, 0, len(parts))

	for _, part := range parts {
		h, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid hour %q: %w", part, err)
		}
		if h < 0 || h > 23 {
			return Schedule{}, fmt.Errorf("hour %d out of range 0-23", h)
		}
		if !seen[h] {
			seen[h] = true
			hours = append(hours, h)
		}
	}

	sort.Ints(hours)
	return Schedule{kind: KindHours, hours: hours, expr: expr}, nil
}

func parseInterval(expr string) (Schedule, error) {
	fields := strings.Fields(strings.ToLower(expr))
	if len(fields) != 3 {
		return Schedule{}, fmt.Errorf("interval expression must be \"every N hours|minutes\", got %q", expr)
	}

	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid interval count %q: %w", fields[1], err)
	}
	if n <= 0 {
		return Schedule{}, fmt.Errorf("interval count must be positive, got %d", n)
	}

	var interval time.Duration
	switch fields[2] {
	case "hour", "hours":
		interval = time.Duration(n) * time.Hour
	case "minute", "minutes":
		interval = time.Duration(n) * time.Minute
	default:
		return Schedule{}, fmt.Errorf("unknown interval unit %q", fields[2])
	}

	if interval > day {
		return Schedule{}, fmt.Errorf("interval %s exceeds 24 hours", interval)
	}

	return Schedule{kind: KindInterval, interval: interval, expr: expr}, nil
}

// Kind returns the schedule's syntax kind.
func (s Schedule) Kind() Kind {
	return s.kind
}

// String returns the original expression the schedule was parsed from.
func (s Schedule) String() string {
	return s.expr
}

// BucketsPerDay returns the number of expected wakes per calendar day.
func (s Schedule) BucketsPerDay() int {
	if s.kind == KindHours {
		return len(s.hours)
	}
	n := int(day / s.interval)
	if day%s.interval != 0 {
		n++
	}
	return n
}

// Buckets returns the expected wake timestamps for the calendar day containing
// date, in date's location, in ascending order.
func (s Schedule) Buckets(date time.Time) []time.Time {
	year, month, dayOfMonth := date.Date()
	loc := date.Location()
	midnight := time.Date(year, month, dayOfMonth, 0, 0, 0, 0, loc)

	if s.kind == KindHours {
		buckets := make([]time.Time, len(s.hours))
		for i, h := range s.hours {
			buckets[i] = time.Date(year, month, dayOfMonth, h, 0, 0, 0, loc)
		}
		return buckets
	}

	buckets := make([]time.Time, 0, s.BucketsPerDay())
	for t := midnight; t.Before(midnight.Add(day)); t = t.Add(s.interval) {
		buckets = append(buckets, t)
	}
	return buckets
}

// Nearest snaps a capture timestamp to its closest expected wake bucket.
// It returns the 1-based index of that bucket within its own day's bucket
// list, and an overage flag that is true when the capture falls outside
// tolerance of every bucket. Buckets of the adjacent days are considered so
// that a capture shortly before midnight snaps to the next morning's first
// bucket instead of being forced onto the previous evening.
func (s Schedule) Nearest(captured time.Time, tolerance time.Duration) (int, bool) {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	bestIndex := 1
	bestDistance := time.Duration(-1)

	for _, dayOffset := range []int{-1, 0, 1} {
		buckets := s.Buckets(captured.AddDate(0, 0, dayOffset))
		for i, bucket := range buckets {
			d := captured.Sub(bucket)
			if d < 0 {
				d = -d
			}
			if bestDistance < 0 || d < bestDistance {
				bestDistance = d
				bestIndex = i + 1
			}
		}
	}

	return bestIndex, bestDistance > tolerance
}

// Next returns the first expected wake bucket strictly after now, rolling to
// the following day when now is past the day's last bucket.
func (s Schedule) Next(now time.Time) time.Time {
	for _, bucket := range s.Buckets(now) {
		if bucket.After(now) {
			return bucket
		}
	}
	return s.Buckets(now.AddDate(0, 0, 1))[0]
}
