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

	"github.com/tikv/rangecache/internal/base"
	"github.com/tikv/rangecache/internal/lsm"
)

// fakeLSMEngine is a minimal lsm.Engine double that succeeds
// immediately, for tests that just need a flush to complete.
type fakeLSMEngine struct{}

func (fakeLSMEngine) GetLatestSequenceNumber() uint64                         { return 0 }
func (fakeLSMEngine) GetOldestSnapshotSequenceNumber() (uint64, bool)          { return 0, false }
func (fakeLSMEngine) IngestMaybeSlowdownWrites(base.CF, int) bool             { return false }
func (fakeLSMEngine) DeleteRangesCFs(context.Context, lsm.DeleteStrategy, []lsm.DeleteRange) error {
	return nil
}
func (fakeLSMEngine) CompactRangeCF(context.Context, base.CF, []byte, []byte) error { return nil }
func (fakeLSMEngine) IngestFiles(context.Context, base.CF, []string) error          { return nil }
func (fakeLSMEngine) LevelFiles(base.CF) []lsm.CompactionLevel                      { return nil }

// blockingLSMEngine blocks every CompactRangeCF call until unblock is
// closed, so a test can observe a flush that is still in flight.
type blockingLSMEngine struct {
	fakeLSMEngine
	unblock chan struct{}
}

func (e *blockingLSMEngine) CompactRangeCF(ctx context.Context, _ base.CF, _, _ []byte) error {
	select {
	case <-e.unblock:
	case <-ctx.Done():
	}
	return nil
}
