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
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tikv/rangecache/internal/base"
	"github.com/tikv/rangecache/internal/lsm"
	"github.com/tikv/rangecache/internal/log"
	"github.com/tikv/rangecache/internal/store"
)

// cleanupMaxRegionCount bounds how many pending-delete-range entries a
// single stale sweep pass processes (spec.md §4.6).
const cleanupMaxRegionCount = 64

// staleSweep implements spec.md §4.6's sweep: select up to
// cleanupMaxRegionCount entries whose StaleSeq predates the oldest live
// snapshot the LSM engine still knows about, then reclaim them
// file-level, then key/range-level, then blob-level. The worker runs it
// on its periodic tick (every sweepEveryTicks ticks); handling a destroy
// does not trigger a sweep by itself. Errors are logged and swallowed --
// the sweep is best-effort -- and an entry whose reclaim fails is
// reinserted into pending, once every reclaim has finished, so the next
// sweep retries it.
func staleSweep(ctx context.Context, pending *PendingRangeMap, engine lsm.Engine, st *store.Store, useDeleteRange bool, logger log.Logger) {
	oldest := engineOldestSnapshotSeq(engine)
	due := pending.RemoveStale(oldest, cleanupMaxRegionCount)
	if len(due) == 0 {
		return
	}

	var (
		mu     sync.Mutex
		failed []PendingRange
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range due {
		e := e
		g.Go(func() error {
			if err := reclaimRange(gctx, e, engine, st, useDeleteRange); err != nil {
				logger.Errorf("worker: reclaim region %d [%x,%x): %v", e.RegionID, e.Start, e.End, err)
				mu.Lock()
				failed = append(failed, e)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // errors are already logged per-range above; never propagated
	for _, e := range failed {
		pending.Reinsert(e)
	}
}

func engineOldestSnapshotSeq(engine lsm.Engine) uint64 {
	if seq, ok := engine.GetOldestSnapshotSequenceNumber(); ok {
		return seq
	}
	return math.MaxUint64
}

// reclaimRange runs the three-tier delete spec.md §4.6 describes:
// file-level range-delete first, then a CF-appropriate key/range
// tombstone delete (the lock CF is always deleted by-key; others use
// range-tombstones only if useDeleteRange is set, otherwise an
// ingestion-based compaction takes care of it), then blob-file delete.
func reclaimRange(ctx context.Context, e PendingRange, engine lsm.Engine, st *store.Store, useDeleteRange bool) error {
	ranges := make([]lsm.DeleteRange, 0, len(base.AllCFs))
	for _, cf := range base.AllCFs {
		ranges = append(ranges, lsm.DeleteRange{CF: cf, Start: e.Start, End: e.End})
	}

	if err := engine.DeleteRangesCFs(ctx, lsm.DeleteFiles, ranges); err != nil {
		return err
	}

	for _, cf := range base.AllCFs {
		strategy := lsm.DeleteByWriter
		switch {
		case cf == base.CFLock:
			strategy = lsm.DeleteByKey
		case useDeleteRange:
			strategy = lsm.DeleteByRange
		}
		if err := engine.DeleteRangesCFs(ctx, strategy, []lsm.DeleteRange{{CF: cf, Start: e.Start, End: e.End}}); err != nil {
			return err
		}
		// The in-memory cache mirrors every physical CF delete so that
		// no live snapshot at or below e.StaleSeq could still observe
		// cached entries the LSM just discarded.
		st.DeleteRange(cf, e.Start, e.End)
	}

	if err := engine.DeleteRangesCFs(ctx, lsm.DeleteBlobs, ranges); err != nil {
		return err
	}
	return nil
}
