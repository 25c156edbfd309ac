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

package rangecache

import "time"

// Options configures the region cache and region worker. Config file
// parsing and operator CLIs are explicitly out of scope (spec.md §1);
// callers build an Options value directly, the way pebble.Options is
// built directly rather than through a flag parser.
type Options struct {
	// SnapApplyBatchSize bounds how many apply tasks the region worker
	// drains from its queue per tick.
	SnapApplyBatchSize int

	// UseDeleteRange selects range-tombstone deletion over
	// writer/ingestion-based deletion for non-lock CFs during the stale
	// sweep (the lock CF is always deleted by key).
	UseDeleteRange bool

	// SnapApplyCopySymlink, if true, symlinks snapshot files into the
	// engine's ingest directory instead of copying them.
	SnapApplyCopySymlink bool

	// RegionWorkerTickInterval is how often the region worker's main
	// loop wakes to process queued tasks and check write-stall.
	RegionWorkerTickInterval time.Duration

	// CleanStaleRangesTick is how many worker ticks elapse between
	// stale-range sweeps.
	CleanStaleRangesTick int

	// SnapGeneratorPoolSize bounds concurrent snapshot-file staging
	// (e.g. from a shared S3 bucket via internal/vfs.S3FS).
	SnapGeneratorPoolSize int
}

// CleanupMaxRegionCount bounds how many pending-delete-range entries a
// single stale sweep pass processes (spec.md §4.6).
const CleanupMaxRegionCount = 64

// EnsureDefaults fills in zero-valued fields with the teacher-style
// defaults and returns the same Options for chaining.
func (o *Options) EnsureDefaults() *Options {
	if o.SnapApplyBatchSize <= 0 {
		o.SnapApplyBatchSize = 4
	}
	if o.RegionWorkerTickInterval <= 0 {
		o.RegionWorkerTickInterval = 500 * time.Millisecond
	}
	if o.CleanStaleRangesTick <= 0 {
		o.CleanStaleRangesTick = 10
	}
	if o.SnapGeneratorPoolSize <= 0 {
		o.SnapGeneratorPoolSize = 2
	}
	return o
}
