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

package base

import "github.com/cockroachdb/errors"

// Sentinel errors returned by the region cache read path. Callers should
// compare with errors.Is, since an error returned across package
// boundaries may be wrapped with additional context via errors.Wrapf.
var (
	// ErrTooOldRead is returned when a snapshot is requested at a
	// read timestamp below the region's current safe point.
	ErrTooOldRead = errors.New("rangecache: read timestamp below region safe point")

	// ErrEpochNotMatch is returned when a caller's region epoch has been
	// superseded by a split, merge or transfer that the caller has not
	// yet observed.
	ErrEpochNotMatch = errors.New("rangecache: region epoch does not match")

	// ErrNotCached is returned when a region is not currently in the
	// Cached state (it may be Pending, Loading, being evicted, or
	// already removed).
	ErrNotCached = errors.New("rangecache: region is not cached")

	// ErrBoundaryNotSet is returned when an iterator is constructed
	// without both a lower and an upper bound.
	ErrBoundaryNotSet = errors.New("rangecache: iterator requires both bounds")

	// ErrRangeOutOfSnapshot is returned when requested iterator bounds
	// fall outside the owning region's [start, end) range.
	ErrRangeOutOfSnapshot = errors.New("rangecache: iterator bounds exceed region range")

	// ErrAbort is returned to an apply task's caller when the task was
	// cooperatively cancelled via its shared status.
	ErrAbort = errors.New("rangecache: apply aborted")

	// ErrMissingSnapshotFile is returned when the region worker cannot
	// locate a snapshot file referenced by an apply task.
	ErrMissingSnapshotFile = errors.New("rangecache: snapshot file missing")

	// ErrIO wraps failures surfaced by the LSM engine during apply or
	// deletion. Use errors.Wrap(base.ErrIO, ...) to attach detail.
	ErrIO = errors.New("rangecache: lsm i/o failure")
)
