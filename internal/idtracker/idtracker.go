// Package idtracker implements the dense bitset over the 64-bit OSM ID
// space used to record which nodes are referenced by accepted ways (load
// pass 1) and which nodes have already been emitted during extraction.
//
// The canonical C implementation this is grounded on (original_source's
// idtracker.c) reaches for a Roaring bitmap because it must stay cheap on a
// sparse, filtered load. Go has no equivalent of mmap's lazy-commit paging
// without cgo, so instead of allocating the full ~2^34-bit array up front
// this tracker grows in fixed-size word segments on demand: memory use
// tracks the highest ID actually set, which gives the same practical
// sparseness the original gets from the OS, without needing a compressed
// container format. See DESIGN.md for the Open Question this resolves.
package idtracker

import (
	"github.com/pkg/errors"

	"osmstore/internal/errs"
)

const (
	bitsPerWord  = 64
	segmentWords = 1 << 16 // 64Ki words = 512 KiB per segment, ~4.2M IDs
	segmentBits  = segmentWords * bitsPerWord
)

// Tracker is a growable bitset over uint64 IDs, capped at MaxID.
type Tracker struct {
	MaxID    uint64
	segments [][]uint64
}

// New creates a Tracker that rejects any id >= maxID.
func New(maxID uint64) *Tracker {
	return &Tracker{MaxID: maxID}
}

// Set marks id as present and reports whether it was already set.
func (t *Tracker) Set(id uint64) (bool, error) {
	if id >= t.MaxID {
		return false, errors.Wrapf(errs.CapacityExceeded, "id %d exceeds configured maximum %d", id, t.MaxID)
	}

	segIdx := id / segmentBits
	for int(segIdx) >= len(t.segments) {
		t.segments = append(t.segments, nil)
	}
	if t.segments[segIdx] == nil {
		t.segments[segIdx] = make([]uint64, segmentWords)
	}

	bitInSeg := id % segmentBits
	word := bitInSeg / bitsPerWord
	bit := bitInSeg % bitsPerWord
	mask := uint64(1) << bit

	seg := t.segments[segIdx]
	wasSet := seg[word]&mask != 0
	seg[word] |= mask
	return wasSet, nil
}

// Contains reports whether id has been marked. Out-of-range IDs are simply
// not contained, matching the "contains(0) returns false" boundary case for
// a freshly created tracker.
func (t *Tracker) Contains(id uint64) bool {
	if id >= t.MaxID {
		return false
	}

	segIdx := id / segmentBits
	if int(segIdx) >= len(t.segments) || t.segments[segIdx] == nil {
		return false
	}

	bitInSeg := id % segmentBits
	word := bitInSeg / bitsPerWord
	bit := bitInSeg % bitsPerWord
	return t.segments[segIdx][word]&(uint64(1)<<bit) != 0
}

// Reset clears all bits, as required at the start of each extraction.
func (t *Tracker) Reset() {
	t.segments = nil
}
