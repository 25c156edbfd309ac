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

// Package rangecache is the public surface of the in-memory region
// cache: Options, Iterator and the Reader that ties a Snapshot to the
// per-CF skiplist store. This file implements the MVCC iterator,
// spec.md §4.4 -- the hardest subsystem in the module.
package rangecache

import (
	"bytes"

	"github.com/cockroachdb/errors"

	"github.com/tikv/rangecache/internal/base"
	"github.com/tikv/rangecache/internal/skl"
	"github.com/tikv/rangecache/internal/stats"
)

type direction uint8

const (
	dirUninit direction = iota
	dirForward
	dirBackward
)

// prefixSuffixLen is the width of the fixed MVCC timestamp suffix the
// default prefix extractor strips, per spec.md §4.4.
const prefixSuffixLen = 8

// IterOptions configures one MVCC iterator. Lower and Upper are
// required; construction fails with ErrBoundaryNotSet if either is nil.
type IterOptions struct {
	Lower, Upper []byte
	// Prefix, if true, restricts the iterator to keys sharing the seek
	// key's prefix (everything but the trailing prefixSuffixLen bytes).
	// SeekToFirst/SeekToLast are a programming error in this mode.
	Prefix bool
}

// Iterator is a bidirectional, bounds-restricted, sequence-filtered
// cursor over one column family's skiplist, as specified by spec.md
// §4.4. It is not safe for concurrent use.
type Iterator struct {
	skl     *skl.Iterator
	guard   *skl.Guard
	snapSeq uint64
	lower   []byte
	upper   []byte
	prefixMode bool
	prefix  []byte // set once a seek has been performed, in Prefix mode

	dir          direction
	savedUserKey []byte
	savedValue   []byte // populated only while dir == dirBackward
	curUserKey   []byte
	curValue     []byte
	valid        bool

	localStats stats.PerIteratorStats
	agg        *stats.Aggregate
	closed     bool
}

// NewIterator constructs an iterator over cf's skiplist (accessed via
// sk, which the caller must have pinned an epoch guard against, matching
// "epoch pinning must scope exactly one iterator operation" -- here we
// pin once for the iterator's whole lifetime and unpin on Close, which
// is the single exception spec.md §9 calls out as implementer's choice
// when the caller already knows the iterator's lifetime is bounded).
func NewIterator(sk *skl.Skiplist, guard *skl.Guard, snapSeq uint64, opts IterOptions, agg *stats.Aggregate) (*Iterator, error) {
	if opts.Lower == nil || opts.Upper == nil {
		return nil, base.ErrBoundaryNotSet
	}
	return &Iterator{
		skl:        sk.NewIter(),
		guard:      guard,
		snapSeq:    snapSeq,
		lower:      opts.Lower,
		upper:      opts.Upper,
		prefixMode: opts.Prefix,
		agg:        agg,
	}, nil
}

func defaultPrefixExtract(userKey []byte) []byte {
	if len(userKey) <= prefixSuffixLen {
		return userKey
	}
	return userKey[:len(userKey)-prefixSuffixLen]
}

func bytesLess(a, b []byte) bool { return bytes.Compare(a, b) < 0 }
func bytesGE(a, b []byte) bool   { return bytes.Compare(a, b) >= 0 }

// Valid reports whether the iterator is positioned on an entry.
func (it *Iterator) Valid() bool { return it.valid }

// Key returns the user key at the current position. Calling Key while
// !Valid is a programming error.
func (it *Iterator) Key() []byte {
	if !it.valid {
		panic(errors.New("rangecache: Key called on invalid iterator"))
	}
	return it.curUserKey
}

// Value returns the value at the current position. Calling Value while
// !Valid is a programming error.
func (it *Iterator) Value() []byte {
	if !it.valid {
		panic(errors.New("rangecache: Value called on invalid iterator"))
	}
	return it.curValue
}

// SeekGE positions the iterator at the smallest visible user key >=
// max(k, lower).
func (it *Iterator) SeekGE(k []byte) {
	target := k
	if bytesLess(target, it.lower) {
		target = it.lower
	}
	if it.prefixMode {
		it.prefix = defaultPrefixExtract(k)
	}
	it.skl.SeekGE(base.EncodeSeek(target, base.MaxSequenceNumber))
	it.dir = dirForward
	it.localStats.SeekCount++
	it.scanForward()
}

// SeekForPrev positions the iterator at the largest visible user key <=
// min(k, upper - epsilon).
func (it *Iterator) SeekForPrev(k []byte) {
	if it.prefixMode {
		it.prefix = defaultPrefixExtract(k)
	}
	if bytesGE(k, it.upper) {
		// min(k, upper - epsilon) == upper - epsilon: land just before
		// the first entry of the upper bound itself.
		it.skl.SeekLT(base.EncodeSeek(it.upper, base.MaxSequenceNumber))
	} else {
		it.skl.SeekLT(base.EncodeSeekForPrev(k, 0))
	}
	it.dir = dirBackward
	it.localStats.SeekCount++
	it.reverseWalk()
}

// SeekToFirst is equivalent to SeekGE(lower). Calling it while Prefix
// mode is enabled is a programming error (spec.md §9's open question),
// enforced here as a plain assertion panic.
func (it *Iterator) SeekToFirst() {
	if it.prefixMode {
		panic(errors.New("rangecache: SeekToFirst is not valid in prefix mode"))
	}
	it.SeekGE(it.lower)
}

// SeekToLast is equivalent to SeekForPrev(upper). Same prefix-mode
// restriction as SeekToFirst.
func (it *Iterator) SeekToLast() {
	if it.prefixMode {
		panic(errors.New("rangecache: SeekToLast is not valid in prefix mode"))
	}
	it.SeekForPrev(it.upper)
}

// Next advances to the next visible user key strictly greater than the
// current one. Calling Next while !Valid is a programming error.
func (it *Iterator) Next() {
	if !it.valid {
		panic(errors.New("rangecache: Next called on invalid iterator"))
	}
	it.localStats.NextCount++
	if it.dir == dirBackward {
		// Direction reversal (spec.md §4.4): re-seek past every version
		// of the key we just returned going backward, then resume the
		// forward algorithm from there.
		it.skl.SeekGE(base.EncodeSeek(it.savedUserKey, base.MaxSequenceNumber))
		it.skipGroup(it.savedUserKey)
		it.dir = dirForward
	}
	it.scanForward()
}

// Prev retreats to the previous visible user key strictly less than the
// current one. Calling Prev while !Valid is a programming error.
func (it *Iterator) Prev() {
	if !it.valid {
		panic(errors.New("rangecache: Prev called on invalid iterator"))
	}
	it.localStats.PrevCount++
	if it.dir == dirForward {
		// Direction reversal: land just before the newest version of the
		// key we just returned going forward, so the backward walk starts
		// at the previous user key.
		it.skl.SeekLT(base.EncodeSeek(it.curUserKey, base.MaxSequenceNumber))
		it.dir = dirBackward
	}
	it.reverseWalk()
}

// skipGroup advances the underlying iterator past every remaining entry
// whose user key equals uk.
func (it *Iterator) skipGroup(uk []byte) {
	for it.skl.Valid() {
		cur := base.UserKey(it.skl.Key())
		if !bytes.Equal(cur, uk) {
			return
		}
		it.localStats.InternalKeySkippedCount++
		it.skl.Next()
	}
}

// scanForward implements the forward algorithm of spec.md §4.4: the
// outer loop processes one user-key group per iteration, taking the
// first visible entry in that group (skipping entries whose sequence is
// not yet visible), emitting it if it is a Value and discarding the
// whole group (recording a tombstone skip) if it is a Deletion.
func (it *Iterator) scanForward() {
	for it.skl.Valid() {
		ikey := it.skl.Key()
		uk, seq, vt := base.Decode(ikey)

		if !bytesLess(uk, it.upper) {
			break
		}
		if it.prefix != nil && !bytes.Equal(defaultPrefixExtract(uk), it.prefix) {
			break
		}
		if seq > it.snapSeq {
			it.localStats.InternalKeySkippedCount++
			it.skl.Next()
			continue
		}

		value := it.skl.Value()
		it.skl.Next()
		it.skipGroup(uk)

		if vt == base.TypeDeletion {
			it.localStats.InternalDeleteSkippedCount++
			continue
		}

		it.curUserKey = append(it.curUserKey[:0], uk...)
		it.curValue = value
		it.savedUserKey = it.curUserKey
		it.valid = true
		it.dir = dirForward
		return
	}
	it.valid = false
}

// reverseWalk implements the backward algorithm of spec.md §4.4. It
// assumes the underlying iterator is positioned at the last (i.e.
// oldest-sequence) entry of some user key <= the original seek target,
// the postcondition SeekLT/SeekForPrev's caller establishes.
func (it *Iterator) reverseWalk() {
	for {
		if !it.skl.Valid() {
			it.valid = false
			return
		}
		uk := base.UserKey(it.skl.Key())
		if bytesLess(uk, it.lower) {
			it.valid = false
			return
		}
		if it.prefix != nil && !bytes.Equal(defaultPrefixExtract(uk), it.prefix) {
			it.valid = false
			return
		}
		it.savedUserKey = append(it.savedUserKey[:0], uk...)

		visible := it.findValueForSavedKey()
		if visible {
			it.curUserKey = it.savedUserKey
			it.curValue = it.savedValue
			it.valid = true
			it.dir = dirBackward
			return
		}
		it.localStats.InternalDeleteSkippedCount++
	}
}

// findValueForSavedKey combines spec.md §4.4's steps 3
// (find_value_for_current_key) and 4 (find_user_key_before_saved) into
// one backward pass: stepping from the oldest to the newest version of
// savedUserKey naturally ends with the iterator positioned at the
// previous (smaller) user key, satisfying both steps in a single loop.
func (it *Iterator) findValueForSavedKey() bool {
	var foundType base.ValueType
	var foundValue []byte
	found := false
	for it.skl.Valid() {
		ikey := it.skl.Key()
		uk, seq, vt := base.Decode(ikey)
		if !bytes.Equal(uk, it.savedUserKey) {
			break
		}
		if seq <= it.snapSeq {
			foundType = vt
			foundValue = it.skl.Value()
			found = true
		}
		it.localStats.InternalKeySkippedCount++
		it.skl.Prev()
	}
	if !found || foundType == base.TypeDeletion {
		it.savedValue = nil
		return false
	}
	it.savedValue = foundValue
	return true
}

// Close flushes the iterator's local perf-context counters into the
// shared aggregate and releases the pinned epoch guard. Close is
// idempotent.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	if it.agg != nil {
		it.agg.Flush(it.localStats)
	}
	if it.guard != nil {
		it.guard.Unpin()
	}
	return nil
}

// Stats returns a copy of the iterator's local perf-context counters.
func (it *Iterator) Stats() stats.PerIteratorStats { return it.localStats }
