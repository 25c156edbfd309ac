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
	"github.com/tikv/rangecache/internal/base"
	"github.com/tikv/rangecache/internal/lsm"
)

// level0SlowdownThreshold is the per-CF level-0 file count the write-
// stall check polls against (spec.md §4.6); a real deployment would
// source this from the LSM engine's own configuration, but the core
// only needs a threshold to evaluate IngestMaybeSlowdownWrites against.
const level0SlowdownThreshold = 0

// shouldDeferApply polls the LSM engine's write-stall signal for every
// non-plain (i.e. every) column family and reports whether ingestion
// should be deferred to the next tick.
func shouldDeferApply(engine lsm.Engine) bool {
	for _, cf := range base.AllCFs {
		if engine.IngestMaybeSlowdownWrites(cf, level0SlowdownThreshold) {
			return true
		}
	}
	return false
}

// canApplyOnTimeout implements the timeout escape hatch of spec.md
// §4.6: when isTimeout is set, or the queue length has reached
// queueLenLimit, apply proceeds even under stall rather than starving
// the Raft apply loop indefinitely.
func canApplyOnTimeout(isTimeout bool, queueLen, queueLenLimit int) bool {
	if isTimeout {
		return true
	}
	return queueLen >= queueLenLimit
}
