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
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/tikv/rangecache/internal/base"
)

// regionState is the mutable record the Manager keeps for one region.
// The map holding these is guarded by Manager.mu; each regionState's own
// fields (state, safe point, snapshot list) are guarded by its own
// mutex, so concurrent snapshot opens against different regions never
// contend on the map lock.
type regionState struct {
	mu sync.Mutex

	desc      Descriptor
	state     State
	safePoint uint64
	// snapshots maps a read timestamp to the count of live snapshots
	// opened at that timestamp (the "multiset" of spec.md §3).
	snapshots   map[uint64]int64
	outstanding int64
}

// Manager is the region-manager interface consumed by the rest of the
// core (spec.md §4.3). All state transitions are serialised per region;
// the top-level map is guarded by a reader-writer lock, consistent with
// spec.md §5's "region manager: reader-writer lock" contract.
type Manager struct {
	mu      sync.RWMutex
	regions map[uint64]*regionState
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{regions: make(map[uint64]*regionState)}
}

// AddRegion registers a region in the given initial state. Used by the
// region worker once a Loading region has been constructed, or by tests
// seeding fixtures directly into Cached.
func (m *Manager) AddRegion(desc Descriptor, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions[desc.ID] = &regionState{
		desc:      desc,
		state:     state,
		snapshots: make(map[uint64]int64),
	}
}

func (m *Manager) get(id uint64) (*regionState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.regions[id]
	return rs, ok
}

// Descriptor returns the current geometry of a region, if tracked.
func (m *Manager) Descriptor(id uint64) (Descriptor, bool) {
	rs, ok := m.get(id)
	if !ok {
		return Descriptor{}, false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.desc, true
}

// State returns the current lifecycle state of a region, if tracked.
func (m *Manager) State(id uint64) (State, bool) {
	rs, ok := m.get(id)
	if !ok {
		return 0, false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.state, true
}

// SnapshotMeta identifies one outstanding snapshot for bookkeeping
// purposes: the region it was opened against, and the read timestamp it
// pinned.
type SnapshotMeta struct {
	RegionID uint64
	ReadTS   uint64
}

// RegionSnapshot attempts to open a new snapshot against (id, epoch,
// readTS). It fails with ErrTooOldRead, ErrEpochNotMatch or
// ErrNotCached; on success it increments the region's outstanding
// snapshot count at readTS.
func (m *Manager) RegionSnapshot(id uint64, epoch Epoch, readTS uint64) error {
	rs, ok := m.get(id)
	if !ok {
		return errors.Wrapf(base.ErrNotCached, "region %d", id)
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.state != Cached {
		return errors.Wrapf(base.ErrNotCached, "region %d in state %s", id, rs.state)
	}
	if !rs.desc.Epoch.Equal(epoch) {
		return errors.Wrapf(base.ErrEpochNotMatch, "region %d: have %d/%d, want %d/%d",
			id, rs.desc.Epoch.ConfVer, rs.desc.Epoch.Version, epoch.ConfVer, epoch.Version)
	}
	if readTS < rs.safePoint {
		return errors.Wrapf(base.ErrTooOldRead, "region %d: read_ts=%d < safe_point=%d", id, readTS, rs.safePoint)
	}
	rs.snapshots[readTS]++
	rs.outstanding++
	return nil
}

// RemoveRegionSnapshot releases a previously granted snapshot. It
// returns the set of regions that have just become physically
// deletable: those in PendingEvict whose outstanding snapshot count has
// reached zero. The caller (the Snapshot handle's Close) is expected to
// post a Destroy task for every returned id.
func (m *Manager) RemoveRegionSnapshot(meta SnapshotMeta) []uint64 {
	rs, ok := m.get(meta.RegionID)
	if !ok {
		return nil
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.snapshots[meta.ReadTS] > 0 {
		rs.snapshots[meta.ReadTS]--
		if rs.snapshots[meta.ReadTS] == 0 {
			delete(rs.snapshots, meta.ReadTS)
		}
		rs.outstanding--
	}
	if rs.state == PendingEvict && rs.outstanding == 0 {
		rs.state = Evicting
		return []uint64{meta.RegionID}
	}
	return nil
}

// SetSafePoint advances a region's safe point. It is a no-op (returning
// false) if ts is not strictly greater than the current safe point,
// preserving monotonicity.
func (m *Manager) SetSafePoint(id uint64, ts uint64) bool {
	rs, ok := m.get(id)
	if !ok {
		return false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if ts <= rs.safePoint {
		return false
	}
	rs.safePoint = ts
	return true
}

// SafePoint returns a region's current safe point.
func (m *Manager) SafePoint(id uint64) (uint64, bool) {
	rs, ok := m.get(id)
	if !ok {
		return 0, false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.safePoint, true
}

// OutstandingSnapshots returns the number of live snapshots on a region.
func (m *Manager) OutstandingSnapshots(id uint64) int64 {
	rs, ok := m.get(id)
	if !ok {
		return 0
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.outstanding
}

// SplitEvent reshapes a Cached region into child regions. The Manager
// installs each child's Descriptor, epoch included, exactly as given; it
// does not derive or bump the children's epochs itself.
type SplitEvent struct {
	ParentID uint64
	Children []Descriptor
}

// EvictEvent requests that a Cached region begin evicting. If it has no
// outstanding snapshots it moves straight to Evicting; otherwise it
// parks in PendingEvict until the last snapshot drops.
type EvictEvent struct {
	ID uint64
}

// DestroyEvent finalises a region's removal once the worker has
// physically reclaimed its key range.
type DestroyEvent struct {
	ID uint64
}

// OnEvent applies a region lifecycle event. It returns an error if the
// event targets an unknown region or an illegal transition.
func (m *Manager) OnEvent(event interface{}) error {
	switch e := event.(type) {
	case SplitEvent:
		return m.onSplit(e)
	case EvictEvent:
		return m.onEvict(e)
	case DestroyEvent:
		return m.onDestroy(e)
	default:
		return errors.Newf("region: unknown event type %T", event)
	}
}

func (m *Manager) onSplit(e SplitEvent) error {
	rs, ok := m.get(e.ParentID)
	if !ok {
		return errors.Wrapf(base.ErrNotCached, "split: region %d", e.ParentID)
	}
	rs.mu.Lock()
	if !CanTransition(rs.state, ToBeSplit) {
		state := rs.state
		rs.mu.Unlock()
		return errors.Newf("region %d: cannot split from state %s", e.ParentID, state)
	}
	rs.state = ToBeSplit
	rs.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, child := range e.Children {
		m.regions[child.ID] = &regionState{
			desc:      child,
			state:     Cached,
			snapshots: make(map[uint64]int64),
		}
	}
	delete(m.regions, e.ParentID)
	return nil
}

func (m *Manager) onEvict(e EvictEvent) error {
	rs, ok := m.get(e.ID)
	if !ok {
		return errors.Wrapf(base.ErrNotCached, "evict: region %d", e.ID)
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !CanTransition(rs.state, PendingEvict) {
		return errors.Newf("region %d: cannot evict from state %s", e.ID, rs.state)
	}
	rs.state = PendingEvict
	if rs.outstanding == 0 {
		rs.state = Evicting
	}
	return nil
}

func (m *Manager) onDestroy(e DestroyEvent) error {
	rs, ok := m.get(e.ID)
	if !ok {
		return errors.Wrapf(base.ErrNotCached, "destroy: region %d", e.ID)
	}
	rs.mu.Lock()
	if !CanTransition(rs.state, Removed) {
		state := rs.state
		rs.mu.Unlock()
		return errors.Newf("region %d: cannot destroy from state %s", e.ID, state)
	}
	rs.state = Removed
	rs.mu.Unlock()

	m.mu.Lock()
	delete(m.regions, e.ID)
	m.mu.Unlock()
	return nil
}
