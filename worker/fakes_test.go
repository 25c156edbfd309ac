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
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/tikv/rangecache/internal/base"
	"github.com/tikv/rangecache/internal/lsm"
)

var errPlannedFailure = errors.New("worker: planned test failure")

// fakeEngine is a minimal lsm.Engine double for tests that don't need a
// real persistent store.
type fakeEngine struct {
	mu sync.Mutex

	stalledCF base.CF // set to an out-of-range value to disable stall
	oldestSeq uint64
	haveOldest bool
	latestSeq uint64

	deleted []lsm.DeleteRange
	failNextDelete error
}

func (f *fakeEngine) GetLatestSequenceNumber() uint64 { return f.latestSeq }

func (f *fakeEngine) GetOldestSnapshotSequenceNumber() (uint64, bool) {
	return f.oldestSeq, f.haveOldest
}

func (f *fakeEngine) IngestMaybeSlowdownWrites(cf base.CF, _ int) bool {
	return cf == f.stalledCF
}

func (f *fakeEngine) DeleteRangesCFs(_ context.Context, _ lsm.DeleteStrategy, ranges []lsm.DeleteRange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextDelete != nil {
		err := f.failNextDelete
		f.failNextDelete = nil
		return err
	}
	f.deleted = append(f.deleted, ranges...)
	return nil
}

func (f *fakeEngine) CompactRangeCF(context.Context, base.CF, []byte, []byte) error { return nil }

func (f *fakeEngine) IngestFiles(context.Context, base.CF, []string) error { return nil }

func (f *fakeEngine) LevelFiles(base.CF) []lsm.CompactionLevel { return nil }
