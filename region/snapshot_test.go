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
)

type fakeNotifier struct {
	notified []Descriptor
}

func (f *fakeNotifier) NotifyDestroy(desc Descriptor) {
	f.notified = append(f.notified, desc)
}

func TestSnapshotCloseIsIdempotent(t *testing.T) {
	m := NewManager()
	desc := testDesc(1)
	m.AddRegion(desc, Cached)

	snap, err := Open(m, nil, desc, 1, 100)
	require.NoError(t, err)

	snap.Close()
	snap.Close() // must not panic or double-decrement
	require.Equal(t, int64(0), m.OutstandingSnapshots(1))
}

func TestSnapshotCloseNotifiesOnlyOnceOutstandingDrains(t *testing.T) {
	m := NewManager()
	desc := testDesc(1)
	m.AddRegion(desc, Cached)
	notifier := &fakeNotifier{}

	snap1, err := Open(m, notifier, desc, 1, 100)
	require.NoError(t, err)
	snap2, err := Open(m, notifier, desc, 1, 100)
	require.NoError(t, err)

	require.NoError(t, m.OnEvent(EvictEvent{ID: 1}))
	st, _ := m.State(1)
	require.Equal(t, PendingEvict, st)

	snap1.Close()
	require.Empty(t, notifier.notified, "region still has one outstanding snapshot")

	snap2.Close()
	require.Len(t, notifier.notified, 1)
	require.Equal(t, uint64(1), notifier.notified[0].ID)
}

func TestOpenFailsAgainstEpochMismatch(t *testing.T) {
	m := NewManager()
	desc := testDesc(1)
	m.AddRegion(desc, Cached)

	staleDesc := desc
	staleDesc.Epoch = Epoch{ConfVer: 1, Version: 2}
	_, err := Open(m, nil, staleDesc, 1, 100)
	require.Error(t, err)
}
