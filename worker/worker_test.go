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
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tikv/rangecache/internal/base"
	"github.com/tikv/rangecache/internal/log"
	"github.com/tikv/rangecache/internal/raft"
	"github.com/tikv/rangecache/internal/store"
	"github.com/tikv/rangecache/region"
)

type fakeSnapshotFile struct {
	path string
}

func (f *fakeSnapshotFile) Path() string                        { return f.path }
func (f *fakeSnapshotFile) Exists(context.Context) (bool, error) { return true, nil }
func (f *fakeSnapshotFile) Apply(context.Context) error          { return nil }

func newTestWorker(engine *fakeEngine) (*Worker, *region.Manager) {
	mgr := region.NewManager()
	w := New(mgr, engine, store.New(), log.Nop, 10*time.Millisecond, 1, true, 8, 4, 2)
	return w, mgr
}

func TestWorkerApplyRegistersRegionAsCached(t *testing.T) {
	engine := &fakeEngine{stalledCF: 255}
	w, mgr := newTestWorker(engine)
	w.Start(context.Background())
	defer w.Stop()

	desc := region.Descriptor{ID: 1, Epoch: region.Epoch{ConfVer: 1, Version: 1}, StartKey: []byte("a"), EndKey: []byte("z")}
	status := NewJobStatus()
	w.SubmitApply(&ApplyTask{Desc: desc, Files: []raft.SnapshotFile{&fakeSnapshotFile{path: "/tmp/x.sst"}}, Status: status})

	require.Eventually(t, func() bool {
		st, ok := mgr.State(1)
		return ok && st == region.Cached
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		it := w.store.CF(base.CFRaft).NewIter()
		it.SeekGE(base.EncodeSeek(raft.RegionStateKey(1), base.MaxSequenceNumber))
		if !it.Valid() {
			return false
		}
		uk, _, _ := base.Decode(it.Key())
		if !bytes.Equal(uk, raft.RegionStateKey(1)) {
			return false
		}
		got, err := raft.UnmarshalRegionLocalState(it.Value())
		require.NoError(t, err)
		require.Equal(t, desc.StartKey, got.StartKey)
		require.Equal(t, desc.EndKey, got.EndKey)
		return true
	}, time.Second, time.Millisecond, "apply must persist a RegionLocalState record to the raft CF")
}

// A region re-applied over a key range still pending deletion from a
// prior eviction must clear that pending entry, or a later sweep could
// delete the live data this apply just ingested.
func TestWorkerApplyClearsOverlappingPendingRange(t *testing.T) {
	engine := &fakeEngine{stalledCF: 255}
	w, mgr := newTestWorker(engine)

	desc := region.Descriptor{ID: 7, Epoch: region.Epoch{ConfVer: 1, Version: 1}, StartKey: []byte("a"), EndKey: []byte("m")}
	w.pending.Insert(7, desc.StartKey, desc.EndKey, 5)
	require.Equal(t, 1, w.pending.Len())

	w.Start(context.Background())
	defer w.Stop()

	w.SubmitApply(&ApplyTask{Desc: desc, Files: []raft.SnapshotFile{&fakeSnapshotFile{path: "/tmp/y.sst"}}})

	require.Eventually(t, func() bool {
		st, ok := mgr.State(7)
		return ok && st == region.Cached
	}, time.Second, time.Millisecond)
	require.Equal(t, 0, w.pending.Len())
}

func TestWorkerDestroyCoalescesPendingRangeAndRemovesRegion(t *testing.T) {
	engine := &fakeEngine{stalledCF: 255}
	w, mgr := newTestWorker(engine)
	w.Start(context.Background())
	defer w.Stop()

	desc := region.Descriptor{ID: 2, Epoch: region.Epoch{ConfVer: 1, Version: 1}, StartKey: []byte("a"), EndKey: []byte("m")}
	mgr.AddRegion(desc, region.Cached)
	require.NoError(t, mgr.OnEvent(region.EvictEvent{ID: 2}))

	w.SubmitDestroy(DestroyTask{Desc: desc, StaleSeq: 5})

	require.Eventually(t, func() bool {
		_, ok := mgr.State(2)
		return !ok
	}, time.Second, time.Millisecond)
	require.Equal(t, 1, w.pending.Len())
}

func TestWorkerNotifyDestroyIsNonBlocking(t *testing.T) {
	engine := &fakeEngine{stalledCF: 255, latestSeq: 42}
	w, _ := newTestWorker(engine)
	desc := region.Descriptor{ID: 3, Epoch: region.Epoch{ConfVer: 1, Version: 1}, StartKey: []byte("a"), EndKey: []byte("z")}

	done := make(chan struct{})
	go func() {
		w.NotifyDestroy(desc)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyDestroy blocked")
	}
}
