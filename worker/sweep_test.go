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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tikv/rangecache/internal/log"
	"github.com/tikv/rangecache/internal/store"
)

func TestStaleSweepReclaimsDueRangesOnly(t *testing.T) {
	pending := NewPendingRangeMap()
	pending.Insert(1, []byte("a"), []byte("m"), 5)
	pending.Insert(2, []byte("n"), []byte("z"), 50)

	engine := &fakeEngine{oldestSeq: 20, haveOldest: true}
	st := store.New()

	staleSweep(context.Background(), pending, engine, st, true, log.Nop)

	require.Equal(t, 1, pending.Len())
	remaining := pending.Entries()
	require.Equal(t, uint64(2), remaining[0].RegionID)
	require.NotEmpty(t, engine.deleted)
}

func TestStaleSweepNoOpWhenNothingDue(t *testing.T) {
	pending := NewPendingRangeMap()
	pending.Insert(1, []byte("a"), []byte("m"), 50)

	engine := &fakeEngine{oldestSeq: 5, haveOldest: true}
	st := store.New()

	staleSweep(context.Background(), pending, engine, st, true, log.Nop)

	require.Equal(t, 1, pending.Len())
	require.Empty(t, engine.deleted)
}

func TestStaleSweepReinsertsOnFailure(t *testing.T) {
	pending := NewPendingRangeMap()
	pending.Insert(1, []byte("a"), []byte("m"), 5)

	engine := &fakeEngine{oldestSeq: 20, haveOldest: true, failNextDelete: errPlannedFailure}
	st := store.New()

	staleSweep(context.Background(), pending, engine, st, true, log.Nop)

	require.Equal(t, 1, pending.Len(), "failed reclaim must be reinserted, not dropped")
}

func TestEngineOldestSnapshotSeqFallsBackToMax(t *testing.T) {
	engine := &fakeEngine{haveOldest: false}
	require.Equal(t, ^uint64(0), engineOldestSnapshotSeq(engine))
}
