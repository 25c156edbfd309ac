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

package region

import "sync"

// DestroyNotifier is the region worker's side of the snapshot-drop
// handoff: Close calls it, synchronously, after deregistering from the
// Manager, for every region that just became physically deletable.
// Implementations (worker.Worker) must not block or perform I/O here --
// they enqueue a task and return.
type DestroyNotifier interface {
	NotifyDestroy(desc Descriptor)
}

// Snapshot is a reference-counted read view pinned at (region,
// read-timestamp, sequence-number). It is exclusively owned by its
// reader: Close deregisters it from the Manager and, if that was the
// last snapshot blocking a pending evict, asynchronously schedules the
// now-deletable region(s) for physical reclamation.
//
// The snapshot never holds a strong reference to the worker or the
// region it reads -- only the Manager (by id lookup) and the
// DestroyNotifier it was constructed with -- so the snapshot/worker
// cycle spec.md's design notes call out never forms a retain cycle.
type Snapshot struct {
	once sync.Once

	mgr      *Manager
	notifier DestroyNotifier

	Desc    Descriptor
	ReadTS  uint64
	SnapSeq uint64
}

// Open constructs a Snapshot pinned at (desc.ID, desc.Epoch, readTS),
// registering it with mgr. snapSeq is the LSM sequence number visible
// to this snapshot (supplied by the caller, typically
// lsm.Engine.GetLatestSequenceNumber() at open time).
func Open(mgr *Manager, notifier DestroyNotifier, desc Descriptor, readTS, snapSeq uint64) (*Snapshot, error) {
	if err := mgr.RegionSnapshot(desc.ID, desc.Epoch, readTS); err != nil {
		return nil, err
	}
	return &Snapshot{
		mgr:      mgr,
		notifier: notifier,
		Desc:     desc,
		ReadTS:   readTS,
		SnapSeq:  snapSeq,
	}, nil
}

// Close deregisters the snapshot. It is idempotent and never blocks on
// I/O: the worker handoff is a non-blocking enqueue performed by
// notifier.NotifyDestroy.
func (s *Snapshot) Close() {
	s.once.Do(func() {
		deletable := s.mgr.RemoveRegionSnapshot(SnapshotMeta{RegionID: s.Desc.ID, ReadTS: s.ReadTS})
		for _, id := range deletable {
			desc := s.Desc
			if id != s.Desc.ID {
				// Only relevant once cascading evictions are modeled;
				// today RemoveRegionSnapshot only ever returns this
				// snapshot's own region.
				if d, ok := s.mgr.Descriptor(id); ok {
					desc = d
				}
			}
			if s.notifier != nil {
				s.notifier.NotifyDestroy(desc)
			}
		}
	})
}
