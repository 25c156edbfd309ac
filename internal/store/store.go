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

// Package store owns the per-column-family skiplists that back the
// region cache and the epoch guard readers pin while iterating them.
package store

import (
	"github.com/tikv/rangecache/internal/base"
	"github.com/tikv/rangecache/internal/skl"
)

// Store is one skiplist per core column family, sharing a single epoch
// manager (writers may need to reason about quiescence across CFs, e.g.
// when a region destroy touches default/lock/write together).
type Store struct {
	cfs   [len(base.AllCFs)]*skl.Skiplist
	epoch *skl.EpochManager
}

// New returns an empty Store.
func New() *Store {
	s := &Store{epoch: skl.NewEpochManager()}
	for _, cf := range base.AllCFs {
		s.cfs[cf] = skl.New(base.Compare)
	}
	return s
}

// CF returns the skiplist backing a single column family.
func (s *Store) CF(cf base.CF) *skl.Skiplist {
	return s.cfs[cf]
}

// Epoch returns the store's shared epoch manager.
func (s *Store) Epoch() *skl.EpochManager {
	return s.epoch
}

// Put inserts a value at (userKey, seq) in cf.
func (s *Store) Put(cf base.CF, userKey []byte, seq uint64, value []byte) {
	s.cfs[cf].Insert(base.Encode(userKey, seq, base.TypeValue), value)
}

// Delete inserts a tombstone at (userKey, seq) in cf.
func (s *Store) Delete(cf base.CF, userKey []byte, seq uint64) {
	s.cfs[cf].Insert(base.Encode(userKey, seq, base.TypeDeletion), nil)
}

// DeleteRange logically removes every internal key for user keys in
// [start, end) from cf. Used by the region worker when a cached region
// is evicted or destroyed.
func (s *Store) DeleteRange(cf base.CF, start, end []byte) {
	lo := base.EncodeSeek(start, base.MaxSequenceNumber)
	var hi []byte
	if end != nil {
		hi = base.EncodeSeek(end, base.MaxSequenceNumber)
	}
	s.cfs[cf].DeleteRange(lo, hi)
	s.epoch.Advance()
}
