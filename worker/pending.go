// Copyright 2015 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package worker

import (
	"bytes"

	"golang.org/x/exp/slices"
)

// PendingRange is one pending-delete-range entry (spec.md §3): a region
// logically evicted but physically retained until no live snapshot
// could observe it.
type PendingRange struct {
	RegionID     uint64
	Start, End   []byte
	StaleSeq     uint64
}

func overlaps(aStart, aEnd, bStart, bEnd []byte) bool {
	// aEnd/bEnd == nil means "unbounded".
	if aEnd != nil && bytes.Compare(bStart, aEnd) >= 0 {
		return false
	}
	if bEnd != nil && bytes.Compare(aStart, bEnd) >= 0 {
		return false
	}
	return true
}

func unionKey(a, b []byte, takeMax bool) []byte {
	if a == nil || b == nil {
		return nil // unbounded wins
	}
	if takeMax {
		if bytes.Compare(a, b) >= 0 {
			return a
		}
		return b
	}
	if bytes.Compare(a, b) <= 0 {
		return a
	}
	return b
}

// PendingRangeMap is the sorted, pairwise-disjoint set of pending-delete
// ranges. It is owned exclusively by the region worker's single
// goroutine (spec.md §5), so no internal locking is needed.
type PendingRangeMap struct {
	entries []PendingRange // kept sorted by Start
}

// NewPendingRangeMap returns an empty map.
func NewPendingRangeMap() *PendingRangeMap {
	return &PendingRangeMap{}
}

// Len returns the number of entries currently tracked.
func (m *PendingRangeMap) Len() int { return len(m.entries) }

// Entries returns a snapshot slice of the current entries, sorted by
// Start. Callers must not mutate the result.
func (m *PendingRangeMap) Entries() []PendingRange {
	return append([]PendingRange(nil), m.entries...)
}

// Insert adds a new pending range, draining (and returning) every
// existing entry that overlaps [start, end) first, so that the new
// entry absorbs their union and the invariant of pairwise range-disjoint
// entries (spec.md §8 property 7) is maintained.
func (m *PendingRangeMap) Insert(regionID uint64, start, end []byte, staleSeq uint64) (drained []PendingRange) {
	kept := m.entries[:0:0]
	mergedStart, mergedEnd := start, end
	mergedStale := staleSeq
	for _, e := range m.entries {
		if overlaps(mergedStart, mergedEnd, e.Start, e.End) {
			drained = append(drained, e)
			mergedStart = unionKey(mergedStart, e.Start, false)
			mergedEnd = unionKey(mergedEnd, e.End, true)
			if e.StaleSeq > mergedStale {
				mergedStale = e.StaleSeq
			}
			continue
		}
		kept = append(kept, e)
	}
	kept = append(kept, PendingRange{RegionID: regionID, Start: mergedStart, End: mergedEnd, StaleSeq: mergedStale})
	slices.SortFunc(kept, func(a, b PendingRange) bool { return bytes.Compare(a.Start, b.Start) < 0 })
	m.entries = kept
	return drained
}

// Reinsert adds back an entry that was removed from the map but could
// not be reclaimed (the stale sweep calls it when a reclaim fails),
// merging it into whatever now overlaps it, exactly as Insert does.
func (m *PendingRangeMap) Reinsert(e PendingRange) {
	m.Insert(e.RegionID, e.Start, e.End, e.StaleSeq)
}

// RemoveOverlapping drops (without reinserting anything) every entry
// overlapping [start, end), returning what it removed. A region that is
// re-applied reclaims its key range, so any pending-delete entry still
// scheduled against that range is stale and must be cleared before the
// new snapshot is ingested, or a later sweep could delete live data
// (spec.md §4.6).
func (m *PendingRangeMap) RemoveOverlapping(start, end []byte) []PendingRange {
	var removed []PendingRange
	kept := m.entries[:0:0]
	for _, e := range m.entries {
		if overlaps(start, end, e.Start, e.End) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed
}

// RemoveStale removes and returns up to limit entries whose StaleSeq is
// strictly less than oldestLiveSnapshotSeq, the stale-sweep's selection
// step (spec.md §4.6).
func (m *PendingRangeMap) RemoveStale(oldestLiveSnapshotSeq uint64, limit int) []PendingRange {
	var out []PendingRange
	kept := m.entries[:0:0]
	for _, e := range m.entries {
		if len(out) < limit && e.StaleSeq < oldestLiveSnapshotSeq {
			out = append(out, e)
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return out
}
