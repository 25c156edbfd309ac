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

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tikv/rangecache/internal/base"
)

func testDesc(id uint64) Descriptor {
	return Descriptor{ID: id, Epoch: Epoch{ConfVer: 1, Version: 1}, StartKey: []byte("a"), EndKey: []byte("z")}
}

func TestRegionSnapshotRequiresCached(t *testing.T) {
	m := NewManager()
	m.AddRegion(testDesc(1), Loading)
	err := m.RegionSnapshot(1, Epoch{ConfVer: 1, Version: 1}, 5)
	require.ErrorIs(t, err, base.ErrNotCached)
}

func TestRegionSnapshotRejectsStaleEpoch(t *testing.T) {
	m := NewManager()
	m.AddRegion(testDesc(1), Cached)
	err := m.RegionSnapshot(1, Epoch{ConfVer: 1, Version: 2}, 5)
	require.ErrorIs(t, err, base.ErrEpochNotMatch)
}

func TestRegionSnapshotRejectsReadBelowSafePoint(t *testing.T) {
	m := NewManager()
	m.AddRegion(testDesc(1), Cached)
	require.True(t, m.SetSafePoint(1, 10))
	err := m.RegionSnapshot(1, Epoch{ConfVer: 1, Version: 1}, 5)
	require.ErrorIs(t, err, base.ErrTooOldRead)
}

func TestSafePointIsMonotone(t *testing.T) {
	m := NewManager()
	m.AddRegion(testDesc(1), Cached)
	require.True(t, m.SetSafePoint(1, 10))
	require.False(t, m.SetSafePoint(1, 5))
	sp, ok := m.SafePoint(1)
	require.True(t, ok)
	require.Equal(t, uint64(10), sp)
}

// S4: evicting a region with an outstanding snapshot must wait for that
// snapshot to be released before it becomes physically deletable.
func TestEvictWithOutstandingSnapshotParksInPendingEvict(t *testing.T) {
	m := NewManager()
	desc := testDesc(1)
	m.AddRegion(desc, Cached)

	require.NoError(t, m.RegionSnapshot(1, desc.Epoch, 1))
	require.Equal(t, int64(1), m.OutstandingSnapshots(1))

	require.NoError(t, m.OnEvent(EvictEvent{ID: 1}))
	st, ok := m.State(1)
	require.True(t, ok)
	require.Equal(t, PendingEvict, st)

	deletable := m.RemoveRegionSnapshot(SnapshotMeta{RegionID: 1, ReadTS: 1})
	require.Equal(t, []uint64{1}, deletable)
	st, ok = m.State(1)
	require.True(t, ok)
	require.Equal(t, Evicting, st)
}

func TestEvictWithNoOutstandingSnapshotsGoesStraightToEvicting(t *testing.T) {
	m := NewManager()
	m.AddRegion(testDesc(1), Cached)
	require.NoError(t, m.OnEvent(EvictEvent{ID: 1}))
	st, ok := m.State(1)
	require.True(t, ok)
	require.Equal(t, Evicting, st)
}

func TestDestroyRemovesRegion(t *testing.T) {
	m := NewManager()
	m.AddRegion(testDesc(1), Cached)
	require.NoError(t, m.OnEvent(EvictEvent{ID: 1}))
	require.NoError(t, m.OnEvent(DestroyEvent{ID: 1}))
	_, ok := m.State(1)
	require.False(t, ok)
}

func TestSplitReplacesParentWithChildren(t *testing.T) {
	m := NewManager()
	parent := testDesc(1)
	m.AddRegion(parent, Cached)

	children := []Descriptor{
		{ID: 2, Epoch: Epoch{ConfVer: 1, Version: 2}, StartKey: []byte("a"), EndKey: []byte("m")},
		{ID: 3, Epoch: Epoch{ConfVer: 1, Version: 2}, StartKey: []byte("m"), EndKey: []byte("z")},
	}
	require.NoError(t, m.OnEvent(SplitEvent{ParentID: 1, Children: children}))

	_, ok := m.State(1)
	require.False(t, ok)
	for _, c := range children {
		st, ok := m.State(c.ID)
		require.True(t, ok)
		require.Equal(t, Cached, st)
	}
}

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(Pending, Loading))
	require.True(t, CanTransition(Cached, ToBeSplit))
	require.True(t, CanTransition(PendingEvict, Cached))
	require.False(t, CanTransition(Cached, Removed))
	require.False(t, CanTransition(Evicting, Cached))
}

func TestDescriptorContains(t *testing.T) {
	d := testDesc(1)
	require.True(t, d.Contains([]byte("m")))
	require.False(t, d.Contains([]byte("0")))
	require.False(t, d.Contains([]byte("z")))
}
