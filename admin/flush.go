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

package admin

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tikv/rangecache/internal/base"
	"github.com/tikv/rangecache/internal/lsm"
	"github.com/tikv/rangecache/internal/log"
	"github.com/tikv/rangecache/region"
)

// FlushCallback runs once a region's tablet has been flushed (or the
// flush failed). It does not run when ScheduleFlush refuses to start a
// flush. The gateway's BatchSplit handler
// re-proposes its admin request from here, with the PRE_FLUSH_FINISHED
// flag set, the same two-phase dance as the original's on_flush_finish
// closure.
type FlushCallback func(err error)

// FlushScheduler runs each region's tablet-flush request on its own
// goroutine (flushing an LSM tablet can block on I/O, so it must never
// run on the caller's goroutine), guarding re-entrancy with a per-region
// tablet_being_flushed latch.
type FlushScheduler struct {
	engine lsm.Engine
	logger log.Logger

	mu      sync.Mutex
	latches map[uint64]*atomic.Bool

	wg sync.WaitGroup
}

// NewFlushScheduler constructs a scheduler backed by engine.
func NewFlushScheduler(engine lsm.Engine, logger log.Logger) *FlushScheduler {
	if logger == nil {
		logger = log.Nop
	}
	return &FlushScheduler{
		engine:  engine,
		logger:  logger,
		latches: make(map[uint64]*atomic.Bool),
	}
}

func (s *FlushScheduler) latchFor(regionID uint64) *atomic.Bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.latches[regionID]
	if !ok {
		l = &atomic.Bool{}
		s.latches[regionID] = l
	}
	return l
}

// TabletBeingFlushed reports whether desc's region currently has a
// flush in flight. The gateway's BatchSplit handler must check this
// before scheduling a second flush for the same region.
func (s *FlushScheduler) TabletBeingFlushed(desc region.Descriptor) bool {
	return s.latchFor(desc.ID).Load()
}

// ScheduleFlush starts flushing desc's region tablet in the background.
// It returns ErrTabletBeingFlushed immediately (without starting
// anything) if a flush for this region is already in flight, matching
// the original's "if self.tablet_being_flushed() { return }" early-out.
// cb runs once the flush completes (or fails); ctx bounds how long the
// flush may run so shutdown stays cooperative even though there is no
// intrinsic timeout.
func (s *FlushScheduler) ScheduleFlush(ctx context.Context, desc region.Descriptor, cb FlushCallback) error {
	latch := s.latchFor(desc.ID)
	if !latch.CompareAndSwap(false, true) {
		return ErrTabletBeingFlushed
	}

	s.logger.Infof("admin: scheduling tablet flush for region %d", desc.ID)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer latch.Store(false)
		err := flushAllCFs(ctx, s.engine, desc)
		if err != nil {
			s.logger.Errorf("admin: flush region %d: %v", desc.ID, err)
		}
		if cb != nil {
			cb(err)
		}
	}()
	return nil
}

// flushAllCFs requests a manual compaction of desc's key range across
// every column family, the closest this module's Engine surface offers
// to "flush this tablet's memtables" (spec.md doesn't model memtables
// directly, so a compaction of the region's whole key range stands in
// for it).
func flushAllCFs(ctx context.Context, engine lsm.Engine, desc region.Descriptor) error {
	for _, cf := range base.AllCFs {
		if err := engine.CompactRangeCF(ctx, cf, desc.StartKey, desc.EndKey); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until every scheduled flush has completed, for orderly
// shutdown.
func (s *FlushScheduler) Wait() {
	s.wg.Wait()
}
