// counter.go: Atomic ID and sequence generation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"fmt"
	"sync/atomic"

	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// Sequence is a thread-safe monotonic counter used wherever the runtime
// needs cheap unique ordinals (provider identities, scope numbering,
// snapshot versions).
type Sequence struct {
	value atomic.Int64
}

// Next returns the next value in the sequence, starting at 1.
func (s *Sequence) Next() int64 {
	return s.value.Add(1)
}

// Current returns the most recently issued value without advancing.
func (s *Sequence) Current() int64 {
	return s.value.Load()
}

// NewCorrelationID returns a globally unique correlation identifier for a
// routed request. UUIDs are used rather than sequence numbers so IDs stay
// meaningful across process restarts and between runtimes.
func NewCorrelationID() string {
	return uuid.NewString()
}

// newScopeID produces a registry-local scope identifier. Scope IDs only
// need to be unique within one registry, so a timestamped ordinal is
// enough and avoids UUID cost on the resolve path.
func newScopeID(seq *Sequence) string {
	return fmt.Sprintf("scope_%d_%d", timecache.CachedTimeNano(), seq.Next())
}
