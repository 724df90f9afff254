// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package assembler

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/arborlink/internal/metrics"
)

// shardCount spreads buffer keys across independent locks. Power of two so
// the hash maps to a shard with a mask.
const shardCount = 32

var (
	// ErrUnknownBuffer is returned for chunks whose image was never
	// announced (no metadata contact reached Init, or the buffer was
	// already taken or swept).
	ErrUnknownBuffer = errors.New("assembler: no buffer for key")

	// ErrIndexOutOfRange is returned for chunk indices outside
	// [0, expected).
	ErrIndexOutOfRange = errors.New("assembler: chunk index out of range")
)

// Key identifies one in-flight image transfer.
type Key struct {
	DeviceID   uuid.UUID
	StableName string
}

func (k Key) String() string {
	return k.DeviceID.String() + "/" + k.StableName
}

// AddResult reports what one chunk did to its buffer.
type AddResult struct {
	// Complete is true when every expected chunk has been received. The
	// caller should Take the buffer and finalize.
	Complete bool

	// Duplicate is true when the index had already been received. The
	// payload is ignored; the first write wins.
	Duplicate bool

	// EndOfPass is true when the last chunk of the current send pass has
	// been seen but gaps remain: the initial full send ends at the final
	// ordinal, a resend pass at the highest index it was asked for. One
	// report per pass; the caller requests only the indices in Missing.
	EndOfPass bool

	// Missing is the sorted gap list, populated when EndOfPass is true.
	Missing []int

	// Received and Expected are the buffer's progress counters.
	Received int
	Expected int
}

// buffer holds one image's chunks. All fields are guarded by mu.
type buffer struct {
	mu sync.Mutex

	expected  int
	chunkSize int
	chunks    [][]byte
	received  int

	// passEnd is the index whose arrival marks the end of the current send
	// pass: expected-1 for the initial full send, then the highest missing
	// index handed out with each EndOfPass report.
	passEnd int

	resendPasses int
	startedAt    time.Time
	lastTouched  time.Time
	taken        bool
}

func (b *buffer) missingLocked() []int {
	var gaps []int
	for i := 0; i < b.expected; i++ {
		if b.chunks[i] == nil {
			gaps = append(gaps, i)
		}
	}
	return gaps
}

type shard struct {
	mu      sync.RWMutex
	buffers map[Key]*buffer
}

// Assembler is the concurrent reassembly store.
type Assembler struct {
	shards [shardCount]*shard
	clock  func() time.Time
}

// New creates an empty assembler.
func New() *Assembler {
	a := &Assembler{clock: func() time.Time { return time.Now().UTC() }}
	for i := range a.shards {
		a.shards[i] = &shard{buffers: make(map[Key]*buffer)}
	}
	return a
}

func (a *Assembler) shardFor(key Key) *shard {
	h := fnv.New32a()
	_, _ = h.Write(key.DeviceID[:])
	_, _ = h.Write([]byte(key.StableName))
	return a.shards[h.Sum32()&(shardCount-1)]
}

// Init announces a transfer and sizes its buffer. Idempotent: a
// re-announcement of an in-flight key with the same geometry keeps the
// chunks already received, so a device resuming after a failed pass does
// not start from zero. A geometry change discards the old chunks.
func (a *Assembler) Init(key Key, expectedChunks, chunkSize int) error {
	if expectedChunks <= 0 {
		return fmt.Errorf("assembler: expected chunks must be positive, got %d", expectedChunks)
	}

	s := a.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := a.clock()
	if b, ok := s.buffers[key]; ok {
		b.mu.Lock()
		if b.expected == expectedChunks && !b.taken {
			// Resume: keep received chunks, restart pass detection at the
			// final ordinal since the device retransmits a full pass.
			b.passEnd = b.expected - 1
			b.lastTouched = now
			b.mu.Unlock()
			return nil
		}
		b.mu.Unlock()
		// Geometry changed or buffer already handed off: start over.
	}

	s.buffers[key] = &buffer{
		expected:    expectedChunks,
		chunkSize:   chunkSize,
		chunks:      make([][]byte, expectedChunks),
		passEnd:     expectedChunks - 1,
		startedAt:   now,
		lastTouched: now,
	}
	metrics.AssemblyActiveBuffers.Inc()
	return nil
}

// Add applies one chunk to its buffer.
func (a *Assembler) Add(key Key, index int, payload []byte) (AddResult, error) {
	s := a.shardFor(key)
	s.mu.RLock()
	b, ok := s.buffers[key]
	s.mu.RUnlock()
	if !ok {
		metrics.RecordChunk("unknown_image")
		return AddResult{}, fmt.Errorf("%w: %s", ErrUnknownBuffer, key)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.taken {
		metrics.RecordChunk("unknown_image")
		return AddResult{}, fmt.Errorf("%w: %s already finalized", ErrUnknownBuffer, key)
	}
	if index < 0 || index >= b.expected {
		metrics.RecordChunk("out_of_range")
		return AddResult{}, fmt.Errorf("%w: %d of %d for %s", ErrIndexOutOfRange, index, b.expected, key)
	}

	b.lastTouched = a.clock()

	result := AddResult{Expected: b.expected}
	if b.chunks[index] != nil {
		result.Duplicate = true
		result.Received = b.received
		result.Complete = b.received == b.expected
		metrics.RecordChunk("duplicate")
		return result, nil
	}

	stored := make([]byte, len(payload))
	copy(stored, payload)
	b.chunks[index] = stored
	b.received++

	result.Received = b.received
	result.Complete = b.received == b.expected
	if !result.Complete && index == b.passEnd {
		result.EndOfPass = true
		result.Missing = b.missingLocked()
		b.passEnd = result.Missing[len(result.Missing)-1]
	}
	metrics.RecordChunk("accepted")
	return result, nil
}

// Missing returns the sorted gap list. Also the explicit completeness probe
// for a metadata re-announcement: an empty list on a live buffer means
// everything already arrived.
func (a *Assembler) Missing(key Key) ([]int, error) {
	s := a.shardFor(key)
	s.mu.RLock()
	b, ok := s.buffers[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBuffer, key)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.taken {
		return nil, fmt.Errorf("%w: %s already finalized", ErrUnknownBuffer, key)
	}
	return b.missingLocked(), nil
}

// Take removes a complete buffer and returns its chunks concatenated in
// index order. Single winner: the buffer is marked taken under its lock and
// deleted, so a second concurrent caller gets (nil, false) and must not
// finalize. Incomplete buffers are left in place.
func (a *Assembler) Take(key Key) ([]byte, bool) {
	s := a.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buffers[key]
	if !ok {
		return nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.taken || b.received != b.expected {
		return nil, false
	}
	b.taken = true
	delete(s.buffers, key)
	metrics.AssemblyActiveBuffers.Dec()
	metrics.AssemblyDuration.Observe(a.clock().Sub(b.startedAt).Seconds())

	size := 0
	for _, c := range b.chunks {
		size += len(c)
	}
	out := make([]byte, 0, size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out, true
}

// Drop discards a buffer without finalizing, freeing its memory. Used when
// the image is failed.
func (a *Assembler) Drop(key Key) {
	s := a.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buffers[key]; ok {
		b.mu.Lock()
		b.taken = true
		b.mu.Unlock()
		delete(s.buffers, key)
		metrics.AssemblyActiveBuffers.Dec()
	}
}

// NoteResendRequest advances the buffer's resend-pass counter and returns
// the new count. The caller fails the image once the count passes its
// configured maximum.
func (a *Assembler) NoteResendRequest(key Key) int {
	s := a.shardFor(key)
	s.mu.RLock()
	b, ok := s.buffers[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.resendPasses++
	return b.resendPasses
}

// Len reports the number of in-flight buffers.
func (a *Assembler) Len() int {
	n := 0
	for _, s := range a.shards {
		s.mu.RLock()
		n += len(s.buffers)
		s.mu.RUnlock()
	}
	return n
}

// Sweep removes buffers untouched since before the idle cutoff and returns
// the keys removed. Memory reclamation only: the caller closes out the
// corresponding image rows.
func (a *Assembler) Sweep(idle time.Duration) []Key {
	cutoff := a.clock().Add(-idle)

	var swept []Key
	for _, s := range a.shards {
		s.mu.Lock()
		for key, b := range s.buffers {
			b.mu.Lock()
			stale := b.lastTouched.Before(cutoff)
			if stale {
				b.taken = true
			}
			b.mu.Unlock()
			if stale {
				delete(s.buffers, key)
				swept = append(swept, key)
				metrics.AssemblyActiveBuffers.Dec()
				metrics.AssemblyTimeouts.Inc()
			}
		}
		s.mu.Unlock()
	}
	return swept
}
