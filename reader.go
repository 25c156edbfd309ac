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

package rangecache

import (
	"bytes"

	"github.com/tikv/rangecache/internal/base"
	"github.com/tikv/rangecache/internal/stats"
	"github.com/tikv/rangecache/internal/store"
	"github.com/tikv/rangecache/region"
)

// Reader ties a region.Snapshot to the per-CF skiplist store, the
// "snapshot/iterator/peekable operations" spec.md §6 exposes to
// clients.
type Reader struct {
	store *store.Store
	snap  *region.Snapshot
	agg   *stats.Aggregate
}

// NewReader builds a Reader over st for the given snapshot.
func NewReader(st *store.Store, snap *region.Snapshot, agg *stats.Aggregate) *Reader {
	return &Reader{store: st, snap: snap, agg: agg}
}

// NewIter opens an MVCC iterator over cf, bounds-checked against the
// reader's region. Bounds outside [region.StartKey, region.EndKey) fail
// with ErrRangeOutOfSnapshot.
func (r *Reader) NewIter(cf base.CF, opts IterOptions) (*Iterator, error) {
	if opts.Lower == nil || opts.Upper == nil {
		return nil, base.ErrBoundaryNotSet
	}
	desc := r.snap.Desc
	if len(desc.StartKey) > 0 && bytes.Compare(opts.Lower, desc.StartKey) < 0 {
		return nil, base.ErrRangeOutOfSnapshot
	}
	if len(desc.EndKey) > 0 && bytes.Compare(opts.Upper, desc.EndKey) > 0 {
		return nil, base.ErrRangeOutOfSnapshot
	}
	guard := r.store.Epoch().Pin()
	it, err := NewIterator(r.store.CF(cf), guard, r.snap.SnapSeq, opts, r.agg)
	if err != nil {
		guard.Unpin()
		return nil, err
	}
	return it, nil
}

// Get returns the visible value for key in cf, implementing the MVCC
// visibility rule of spec.md §8 property 1 directly rather than via an
// iterator: the highest-sequence Value with sequence <= snap_seq, unless
// a Deletion exists at a higher (but still visible) sequence.
func (r *Reader) Get(cf base.CF, key []byte) ([]byte, bool, error) {
	end := append(append([]byte(nil), key...), 0x00)
	opts := IterOptions{Lower: key, Upper: end}
	it, err := r.NewIter(cf, opts)
	if err != nil {
		return nil, false, err
	}
	defer it.Close()
	it.SeekGE(key)
	if !it.Valid() || !bytes.Equal(it.Key(), key) {
		return nil, false, nil
	}
	return append([]byte(nil), it.Value()...), true, nil
}

// Close releases the underlying snapshot. It is idempotent.
func (r *Reader) Close() {
	r.snap.Close()
}
