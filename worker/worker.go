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

// Package worker implements the region worker: the single-consumer task
// queue that applies incoming region snapshots and destroys evicted
// ones, coalescing their key ranges into a pending-delete-range map and
// sweeping it as snapshots age out (spec.md §4.6).
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tikv/rangecache/internal/base"
	"github.com/tikv/rangecache/internal/lsm"
	"github.com/tikv/rangecache/internal/log"
	"github.com/tikv/rangecache/internal/raft"
	"github.com/tikv/rangecache/internal/store"
	"github.com/tikv/rangecache/region"
)

// taskQueueCap bounds the worker's inbox; NotifyDestroy and SubmitApply
// must never block the caller (a snapshot Close, or a Raft apply
// thread), so sends past this capacity are dropped and logged rather
// than blocking.
const taskQueueCap = 4096

// ApplyTask asks the worker to materialise an incoming region snapshot:
// stage its files into the LSM engine via IngestFiles, then register the
// region as Cached. Status is updated at every check_abort point so a
// concurrent RequestCancel is observed promptly.
type ApplyTask struct {
	ID     uuid.UUID
	Desc   region.Descriptor
	PeerID uint64
	Files  []raft.SnapshotFile
	Status *JobStatus

	// AppliedIndex and TruncatedIndex are stamped into the ApplyState
	// record persisted to the raft CF once the snapshot has been
	// ingested (spec.md §6).
	AppliedIndex   uint64
	TruncatedIndex uint64

	// PreApply, if set, runs before overlapping pending ranges are
	// cleared and the snapshot files are staged, and may return an error
	// to abort the apply (spec.md §4.6's pre-apply hook, used e.g. to
	// validate a snapshot's checksum).
	PreApply func(region.Descriptor) error
}

// DestroyTask asks the worker to reclaim a region's key range. It is
// produced either directly (an explicit evict-to-destroy transition) or
// via NotifyDestroy, the callback region.Snapshot.Close invokes once the
// last outstanding snapshot on a PendingEvict region drops.
type DestroyTask struct {
	Desc     region.Descriptor
	StaleSeq uint64
}

type task struct {
	apply   *ApplyTask
	destroy *DestroyTask
}

// Worker is the region worker: a single goroutine draining a task queue,
// coalescing destroy ranges into a PendingRangeMap, and periodically
// sweeping stale ones out of the LSM engine.
type Worker struct {
	manager *region.Manager
	engine  lsm.Engine
	store   *store.Store
	logger  log.Logger

	tickInterval    time.Duration
	sweepEveryTicks int
	useDeleteRange  bool
	queueLenLimit   int
	batchSize       int
	stagePoolSize   int

	tasks   chan task
	pending *PendingRangeMap

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Worker. tickInterval, sweepEveryTicks, useDeleteRange
// and queueLenLimit mirror spec.md §4.6's region-worker configuration
// knobs; batchSize bounds how many queued tasks drainQueued processes
// per tick (Options.SnapApplyBatchSize) and stagePoolSize bounds how
// many of an ApplyTask's snapshot files are staged concurrently
// (Options.SnapGeneratorPoolSize). The caller typically derives all six
// from an EnsureDefaults'd Options.
func New(manager *region.Manager, engine lsm.Engine, st *store.Store, logger log.Logger, tickInterval time.Duration, sweepEveryTicks int, useDeleteRange bool, queueLenLimit, batchSize, stagePoolSize int) *Worker {
	if logger == nil {
		logger = log.Nop
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	if stagePoolSize <= 0 {
		stagePoolSize = 1
	}
	return &Worker{
		manager:         manager,
		engine:          engine,
		store:           st,
		logger:          logger,
		tickInterval:    tickInterval,
		sweepEveryTicks: sweepEveryTicks,
		useDeleteRange:  useDeleteRange,
		queueLenLimit:   queueLenLimit,
		batchSize:       batchSize,
		stagePoolSize:   stagePoolSize,
		tasks:           make(chan task, taskQueueCap),
		pending:         NewPendingRangeMap(),
	}
}

// Start launches the worker's single consumer goroutine. It returns
// immediately; call Stop to shut it down.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker loop to exit and waits for it to drain.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// SubmitApply enqueues t. Non-blocking: if the queue is full the task is
// rejected and its status moved to JobFailed.
func (w *Worker) SubmitApply(t *ApplyTask) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	select {
	case w.tasks <- task{apply: t}:
	default:
		w.logger.Errorf("worker: apply queue full, dropping task for region %d", t.Desc.ID)
		if t.Status != nil {
			t.Status.Store(JobFailed)
		}
	}
}

// SubmitDestroy enqueues a destroy request directly, bypassing the
// snapshot-close notification path (used for regions evicted with no
// outstanding snapshots).
func (w *Worker) SubmitDestroy(t DestroyTask) {
	select {
	case w.tasks <- task{destroy: &t}:
	default:
		w.logger.Errorf("worker: destroy queue full, dropping region %d", t.Desc.ID)
	}
}

// NotifyDestroy implements region.DestroyNotifier. It must not block: the
// enqueue is a non-blocking channel send, matching Snapshot.Close's
// contract that the worker handoff never performs I/O inline.
func (w *Worker) NotifyDestroy(desc region.Descriptor) {
	seq := w.engine.GetLatestSequenceNumber()
	w.SubmitDestroy(DestroyTask{Desc: desc, StaleSeq: seq})
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-w.tasks:
			w.handle(ctx, t)
		case <-ticker.C:
			ticks++
			w.drainQueued(ctx)
			if w.sweepEveryTicks <= 0 || ticks%w.sweepEveryTicks == 0 {
				staleSweep(ctx, w.pending, w.engine, w.store, w.useDeleteRange, w.logger)
			}
		}
	}
}

// drainQueued processes up to batchSize tasks that arrived between
// ticks without waiting for another queue receive, so a burst of
// Destroy/Apply tasks doesn't wait a full tick to start, while still
// bounding how much work one tick can absorb (Options.SnapApplyBatchSize).
func (w *Worker) drainQueued(ctx context.Context) {
	for i := 0; i < w.batchSize; i++ {
		select {
		case t := <-w.tasks:
			w.handle(ctx, t)
		default:
			return
		}
	}
}

func (w *Worker) handle(ctx context.Context, t task) {
	switch {
	case t.apply != nil:
		w.handleApply(ctx, t.apply)
	case t.destroy != nil:
		w.handleDestroy(t.destroy)
	}
}

// handleApply runs an ApplyTask through the check_abort points spec.md
// §5 describes: on pickup, before staging, and before the final ingest. A write
// stall on any CF defers the task back onto the queue rather than
// blocking the single worker goroutine.
func (w *Worker) handleApply(ctx context.Context, t *ApplyTask) {
	status := t.Status
	if status == nil {
		status = NewJobStatus()
	}
	if status.IsCancelling() {
		status.Store(JobCancelled)
		return
	}
	status.Store(JobRunning)

	if shouldDeferApply(w.engine) && !canApplyOnTimeout(false, len(w.tasks), w.queueLenLimit) {
		w.SubmitApply(t)
		return
	}

	if t.PreApply != nil {
		if err := t.PreApply(t.Desc); err != nil {
			w.logger.Errorf("worker: pre-apply region %d: %v", t.Desc.ID, err)
			status.Store(JobFailed)
			return
		}
	}

	if status.IsCancelling() {
		status.Store(JobCancelled)
		return
	}

	// Clear out any pending-delete entry left over a previous eviction
	// of this same key range: the region is live again, so that entry
	// no longer describes reclaimable space (spec.md §4.6).
	w.pending.RemoveOverlapping(t.Desc.StartKey, t.Desc.EndKey)

	paths, err := w.stageFiles(ctx, t.Files)
	if err != nil {
		w.logger.Errorf("worker: stage snapshot files for region %d: %v", t.Desc.ID, err)
		status.Store(JobFailed)
		return
	}

	if status.IsCancelling() {
		status.Store(JobCancelled)
		return
	}

	if err := w.ingestAll(ctx, paths); err != nil {
		w.logger.Errorf("worker: ingest region %d: %v", t.Desc.ID, err)
		status.Store(JobFailed)
		return
	}

	w.persistRegionState(t)
	w.manager.AddRegion(t.Desc, region.Cached)
	status.Store(JobFinished)
}

// stageFiles applies every one of an ApplyTask's snapshot files,
// staging at most stagePoolSize of them concurrently
// (Options.SnapGeneratorPoolSize), and returns their resolved paths in
// input order for IngestFiles.
func (w *Worker) stageFiles(ctx context.Context, files []raft.SnapshotFile) ([]string, error) {
	paths := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, w.stagePoolSize)
	for i, f := range files {
		i, f := i, f
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			if err := f.Apply(gctx); err != nil {
				return err
			}
			paths[i] = f.Path()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// persistRegionState writes the raft-CF records once a snapshot has
// been ingested: RegionLocalState under RegionStateKey and ApplyState
// under ApplyStateKey. Both go into the in-memory store's raft CF only;
// nothing is written to the LSM engine, so the records are not durable.
func (w *Worker) persistRegionState(t *ApplyTask) {
	seq := w.engine.GetLatestSequenceNumber()
	regionState := raft.RegionLocalState{
		RegionID: t.Desc.ID,
		ConfVer:  t.Desc.Epoch.ConfVer,
		Version:  t.Desc.Epoch.Version,
		StartKey: t.Desc.StartKey,
		EndKey:   t.Desc.EndKey,
	}
	w.store.Put(base.CFRaft, raft.RegionStateKey(t.Desc.ID), seq, regionState.Marshal())

	applyState := raft.ApplyState{
		RegionID:       t.Desc.ID,
		AppliedIndex:   t.AppliedIndex,
		TruncatedIndex: t.TruncatedIndex,
	}
	w.store.Put(base.CFRaft, raft.ApplyStateKey(t.Desc.ID), seq, applyState.Marshal())
}

// ingestAll bulk-loads paths into every column family. A real snapshot
// splits its SST files per CF; this module treats the incoming file set
// as already CF-partitioned by the Raft snapshot layer and simply
// forwards it, one IngestFiles call per CF.
func (w *Worker) ingestAll(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	for _, cf := range base.AllCFs {
		if err := w.engine.IngestFiles(ctx, cf, paths); err != nil {
			return err
		}
	}
	return nil
}

// handleDestroy coalesces t into the pending-delete-range map, merging
// any overlapping entries it drains, then finalises the region's removal
// from the manager (spec.md §4.3's Evicting -> removed transition).
func (w *Worker) handleDestroy(t *DestroyTask) {
	w.pending.Insert(t.Desc.ID, t.Desc.StartKey, t.Desc.EndKey, t.StaleSeq)
	if err := w.manager.OnEvent(region.DestroyEvent{ID: t.Desc.ID}); err != nil {
		w.logger.Errorf("worker: destroy region %d: %v", t.Desc.ID, err)
	}
}
