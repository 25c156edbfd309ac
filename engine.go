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

import (
	"context"

	"github.com/tikv/rangecache/admin"
	"github.com/tikv/rangecache/internal/lsm"
	"github.com/tikv/rangecache/internal/log"
	"github.com/tikv/rangecache/internal/stats"
	"github.com/tikv/rangecache/internal/store"
	"github.com/tikv/rangecache/internal/vfs"
	"github.com/tikv/rangecache/region"
	"github.com/tikv/rangecache/worker"
)

// queueLenLimitFactor bounds the region worker's write-stall timeout
// escape hatch (its queue-length threshold) as a multiple of
// Options.SnapApplyBatchSize, since spec.md gives the worker no
// separate knob for it.
const queueLenLimitFactor = 16

// Engine is the region cache's public surface: the region manager, the
// per-CF store, the region worker that applies and destroys regions in
// the background, and the admin gateway's tablet-flush scheduler, all
// assembled from a single Options value -- the way pebble.Open builds
// a *pebble.DB from a *pebble.Options.
type Engine struct {
	opts    Options
	manager *region.Manager
	store   *store.Store
	worker  *worker.Worker
	flush   *admin.FlushScheduler
	agg     *stats.Aggregate
	logger  log.Logger
}

// NewEngine assembles an Engine from opts (copied and defaulted via
// EnsureDefaults, leaving the caller's value untouched) and lsmEngine,
// the persistent LSM engine collaborator spec.md §1 places outside this
// module.
func NewEngine(opts Options, lsmEngine lsm.Engine, logger log.Logger) *Engine {
	opts.EnsureDefaults()
	if logger == nil {
		logger = log.Nop
	}

	manager := region.NewManager()
	st := store.New()
	queueLenLimit := opts.SnapApplyBatchSize * queueLenLimitFactor
	w := worker.New(manager, lsmEngine, st, logger,
		opts.RegionWorkerTickInterval, opts.CleanStaleRangesTick, opts.UseDeleteRange,
		queueLenLimit, opts.SnapApplyBatchSize, opts.SnapGeneratorPoolSize)

	return &Engine{
		opts:    opts,
		manager: manager,
		store:   st,
		worker:  w,
		flush:   admin.NewFlushScheduler(lsmEngine, logger),
		agg:     stats.NewAggregate(nil),
		logger:  logger,
	}
}

// Start launches the background region worker.
func (e *Engine) Start(ctx context.Context) { e.worker.Start(ctx) }

// Stop shuts the region worker down and waits for any in-flight tablet
// flushes to finish draining.
func (e *Engine) Stop() {
	e.worker.Stop()
	e.flush.Wait()
}

// Manager returns the engine's region manager.
func (e *Engine) Manager() *region.Manager { return e.manager }

// Worker returns the engine's region worker, e.g. to submit ApplyTask/
// DestroyTask requests from the Raft apply loop.
func (e *Engine) Worker() *worker.Worker { return e.worker }

// FlushScheduler returns the engine's tablet-flush scheduler, the
// collaborator an admin.Gateway schedules BatchSplit flushes through.
func (e *Engine) FlushScheduler() *admin.FlushScheduler { return e.flush }

// OpenSnapshot pins a read view of desc at readTS/snapSeq, registering
// it with the region manager and the worker's destroy-notification
// path.
func (e *Engine) OpenSnapshot(desc region.Descriptor, readTS, snapSeq uint64) (*region.Snapshot, error) {
	return region.Open(e.manager, e.worker, desc, readTS, snapSeq)
}

// NewReader builds a Reader over snap using the engine's shared store
// and stats aggregate.
func (e *Engine) NewReader(snap *region.Snapshot) *Reader {
	return NewReader(e.store, snap, e.agg)
}

// NewSnapshotFile wires Options.SnapApplyCopySymlink into a concrete
// raft.SnapshotFile: name, staged under stageDir and resolved through
// fs, is either symlinked or copied into dest when the worker applies
// it.
func (e *Engine) NewSnapshotFile(fs vfs.FS, stageDir, dest, name string) *vfs.SnapshotFile {
	return &vfs.SnapshotFile{
		FS:          fs,
		StageDir:    stageDir,
		Dest:        dest,
		Name:        name,
		CopySymlink: e.opts.SnapApplyCopySymlink,
	}
}
