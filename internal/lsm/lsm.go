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

// Package lsm declares the surface this module consumes from the
// persistent LSM-tree engine. spec.md §1 places the engine itself out
// of scope ("external collaborator"); only the interface lives here.
package lsm

import (
	"context"

	"github.com/tikv/rangecache/internal/base"
)

// DeleteStrategy selects how delete_ranges_cfs should reclaim a range.
type DeleteStrategy uint8

const (
	DeleteFiles DeleteStrategy = iota
	DeleteByKey
	DeleteByRange
	DeleteByWriter
	DeleteBlobs
)

// CompactionLevel describes one level's file population for a CF,
// enough for ingest_maybe_slowdown_writes-style stall checks and for
// write-stall-aware throttling in the region worker.
type CompactionLevel struct {
	Level        int
	NumFiles      int
	SmallestKey   []byte
	LargestKey    []byte
	TargetFileSize int64
}

// DeleteRange is one (cf, [start, end)) pair to reclaim.
type DeleteRange struct {
	CF    base.CF
	Start []byte
	End   []byte
}

// Engine is the subset of the LSM engine's API the region cache and
// region worker depend on. A concrete implementation lives outside this
// module (spec.md §1's "persistent LSM engine" collaborator).
type Engine interface {
	// GetLatestSequenceNumber returns the engine's current write
	// sequence number, used to stamp new snapshots.
	GetLatestSequenceNumber() uint64

	// GetOldestSnapshotSequenceNumber returns the oldest sequence number
	// still visible to any live snapshot known to the engine, or false
	// if none is known (the region worker treats that as MaxUint64).
	GetOldestSnapshotSequenceNumber() (uint64, bool)

	// IngestMaybeSlowdownWrites reports whether cf's level-0 file count
	// exceeds level's configured slowdown threshold.
	IngestMaybeSlowdownWrites(cf base.CF, level int) bool

	// DeleteRangesCFs reclaims the given ranges using strategy.
	DeleteRangesCFs(ctx context.Context, strategy DeleteStrategy, ranges []DeleteRange) error

	// CompactRangeCF requests a manual compaction of [start, end) in cf.
	CompactRangeCF(ctx context.Context, cf base.CF, start, end []byte) error

	// IngestFiles bulk-loads already-built SST files into cf, the
	// primitive the region worker's Apply task uses to materialise an
	// incoming snapshot.
	IngestFiles(ctx context.Context, cf base.CF, paths []string) error

	// LevelFiles reports per-level file metadata for cf. No code in this
	// module calls it.
	LevelFiles(cf base.CF) []CompactionLevel
}
