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

package skl

import "sync/atomic"

// EpochManager implements the memory-reclamation bookkeeping described
// in spec.md's design notes: readers pin the current global epoch for
// the duration of exactly one skiplist operation (one seek/next/prev
// call, never across a user callback), and a writer that wants to know
// whether a DeleteRange has become physically safe to treat as final
// waits until every reader pinned at (or before) the delete's epoch has
// unpinned.
//
// This is the Go-native analogue of the crossbeam epoch scheme the
// original Rust source relies on. Go's garbage collector frees node
// memory once nothing references it; EpochManager's job is purely to
// let a writer observe "no active reader predates my delete", not to
// free memory itself.
type EpochManager struct {
	global  atomic.Uint64
	active  [epochBuckets]atomic.Int64
}

const epochBuckets = 64

// Guard represents one pinned epoch. Callers must call Unpin exactly
// once, and must not hold a Guard across anything that can block
// indefinitely (a user callback, I/O, ...).
type Guard struct {
	mgr   *EpochManager
	epoch uint64
}

// NewEpochManager returns a manager starting at epoch 0.
func NewEpochManager() *EpochManager {
	return &EpochManager{}
}

// Pin records that the calling goroutine may observe the skiplist's
// current state until Unpin is called.
func (m *EpochManager) Pin() *Guard {
	e := m.global.Load()
	m.active[e%epochBuckets].Add(1)
	return &Guard{mgr: m, epoch: e}
}

// Unpin releases the pin acquired by Pin.
func (g *Guard) Unpin() {
	g.mgr.active[g.epoch%epochBuckets].Add(-1)
}

// Advance bumps the global epoch. A writer calls this after completing a
// DeleteRange so that Quiescent can later observe whether readers from
// before the delete have drained.
func (m *EpochManager) Advance() uint64 {
	return m.global.Add(1)
}

// Quiescent reports whether every reader pinned at epoch (or any epoch
// that maps to the same bucket, within the last lap of the counter) has
// since unpinned. A false negative (reporting not-quiescent when it
// actually is) is safe -- it only delays cleanup -- so the bucketed
// approximation used here never needs to be exact.
func (m *EpochManager) Quiescent(epoch uint64) bool {
	return m.active[epoch%epochBuckets].Load() == 0
}
