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

// Package skl implements the concurrent, lock-free ordered map that
// backs each column family of the region cache. It is the Go analogue
// of the teacher's own arenaskl/batchskl family: insertion is lock-free
// (CAS splice at every tower level), search degrades gracefully under
// concurrent insert, and deleted nodes are only marked and lazily
// unlinked; Go's garbage collector frees a node once nothing references
// it. The skiplist itself does not consult the epoch guard in epoch.go.
package skl

import (
	"math/rand"
	"sync/atomic"
)

const maxHeight = 16
const branching = 4

// Compare orders two raw keys. The skiplist never interprets key bytes
// itself; internal-key semantics live in internal/base.
type Compare func(a, b []byte) int

type node struct {
	key   []byte
	value []byte
	// marked is set before a node is unlinked; readers that observe a
	// marked node treat it as absent and help unlink it.
	marked atomic.Bool
	tower  []atomic.Pointer[node]
}

func newNode(key, value []byte, height int) *node {
	return &node{key: key, value: value, tower: make([]atomic.Pointer[node], height)}
}

// Skiplist is a single column family's ordered map of internal keys to
// raw values.
type Skiplist struct {
	cmp    Compare
	head   *node
	height atomic.Int32 // current max occupied level, 1-based
}

// New returns an empty Skiplist ordered by cmp.
func New(cmp Compare) *Skiplist {
	s := &Skiplist{cmp: cmp, head: newNode(nil, nil, maxHeight)}
	s.height.Store(1)
	return s
}

func randomHeight() int {
	h := 1
	for h < maxHeight && rand.Int31n(branching) == 0 {
		h++
	}
	return h
}

// find walks the tower from the top of the list down to level 0,
// collecting, at every level, the last node strictly less than key
// (preds) and the first node >= key (succs). Marked nodes encountered
// along the way are helped-unlinked.
func (s *Skiplist) find(key []byte) (preds, succs [maxHeight]*node) {
	x := s.head
	level := int(s.height.Load()) - 1
	for i := level; i >= 0; i-- {
		next := x.tower[i].Load()
		for next != nil {
			if next.marked.Load() {
				// Help unlink the marked node from this level.
				after := next.tower[i].Load()
				if x.tower[i].CompareAndSwap(next, after) {
					next = after
					continue
				}
				// Lost the race; re-read and retry from x.
				next = x.tower[i].Load()
				continue
			}
			if s.cmp(next.key, key) < 0 {
				x = next
				next = x.tower[i].Load()
				continue
			}
			break
		}
		preds[i] = x
		succs[i] = next
	}
	return preds, succs
}

// Insert adds key/value to the skiplist. Keys are expected to be unique
// (the MVCC codec embeds the sequence number in every key), so Insert
// does not special-case an existing equal key beyond refusing to
// duplicate it.
func (s *Skiplist) Insert(key, value []byte) {
	height := randomHeight()
	for {
		preds, succs := s.find(key)
		if cur := int(s.height.Load()); height > cur {
			s.height.CompareAndSwap(int32(cur), int32(height))
		}
		if succs[0] != nil && s.cmp(succs[0].key, key) == 0 && !succs[0].marked.Load() {
			// Already present (e.g. a retried apply); nothing to do.
			return
		}
		n := newNode(key, value, height)
		for i := 0; i < height; i++ {
			n.tower[i].Store(succs[i])
		}
		if !preds[0].tower[0].CompareAndSwap(succs[0], n) {
			continue // lost the splice race at level 0, retry from scratch
		}
		for i := 1; i < height; i++ {
			for {
				p, s2 := preds[i], succs[i]
				n.tower[i].Store(s2)
				if p.tower[i].CompareAndSwap(s2, n) {
					break
				}
				// Level i predecessor changed; recompute just that level.
				np, ns := s.find(key)
				p, s2 = np[i], ns[i]
				preds[i], succs[i] = p, s2
			}
		}
		return
	}
}

// DeleteRange logically removes every key in [start, end) and helps
// unlink them from level 0. Physical unlink at higher levels happens
// lazily the next time find() walks past a marked node; Go's garbage
// collector reclaims a node once nothing (including an in-flight
// iterator) still holds a reference to it.
func (s *Skiplist) DeleteRange(start, end []byte) {
	x := s.seekNode(start)
	for x != nil && (end == nil || s.cmp(x.key, end) < 0) {
		x.marked.Store(true)
		x = x.tower[0].Load()
	}
	// Opportunistically compact level 0 past anything we just marked.
	s.find(start)
}

func (s *Skiplist) seekNode(key []byte) *node {
	_, succs := s.find(key)
	n := succs[0]
	for n != nil && n.marked.Load() {
		n = n.tower[0].Load()
	}
	return n
}

func (s *Skiplist) lessThanNode(key []byte) *node {
	preds, _ := s.find(key)
	n := preds[0]
	for n != s.head && n.marked.Load() {
		// preds[0] itself is never returned marked by find(), but guard
		// against a concurrent mark racing just after find() returned.
		p, _ := s.find(n.key)
		n = p[0]
	}
	if n == s.head {
		return nil
	}
	return n
}

func (s *Skiplist) firstNode() *node {
	n := s.head.tower[0].Load()
	for n != nil && n.marked.Load() {
		n = n.tower[0].Load()
	}
	return n
}

func (s *Skiplist) lastNode() *node {
	var last *node
	x := s.head
	level := int(s.height.Load()) - 1
	for i := level; i >= 0; i-- {
		next := x.tower[i].Load()
		for next != nil {
			if !next.marked.Load() {
				last = next
			}
			x = next
			next = x.tower[i].Load()
		}
	}
	return last
}

// Iterator is a positionable cursor over one Skiplist. It is not safe
// for concurrent use by multiple goroutines; callers that need parallel
// iteration should construct one Iterator per goroutine via NewIter.
type Iterator struct {
	list *Skiplist
	cur  *node
}

// NewIter returns an unpositioned iterator. It does not pin an epoch
// itself; any Guard (see epoch.go) is pinned and released by the caller.
func (s *Skiplist) NewIter() *Iterator {
	return &Iterator{list: s}
}

// Valid reports whether the iterator is positioned on an entry.
func (it *Iterator) Valid() bool { return it.cur != nil }

// Key returns the raw (internal) key at the current position.
func (it *Iterator) Key() []byte { return it.cur.key }

// Value returns the raw value at the current position.
func (it *Iterator) Value() []byte { return it.cur.value }

// SeekGE positions the iterator at the smallest key >= target.
func (it *Iterator) SeekGE(target []byte) {
	it.cur = it.list.seekNode(target)
}

// SeekLT positions the iterator at the largest key < target.
func (it *Iterator) SeekLT(target []byte) {
	it.cur = it.list.lessThanNode(target)
}

// First positions the iterator at the smallest key in the list.
func (it *Iterator) First() {
	it.cur = it.list.firstNode()
}

// Last positions the iterator at the largest key in the list.
func (it *Iterator) Last() {
	it.cur = it.list.lastNode()
}

// Next advances to the next key in ascending order.
func (it *Iterator) Next() {
	if it.cur == nil {
		return
	}
	n := it.cur.tower[0].Load()
	for n != nil && n.marked.Load() {
		n = n.tower[0].Load()
	}
	it.cur = n
}

// Prev retreats to the previous key in ascending order (i.e. the next
// key in descending order). Implemented as a fresh descending search
// rather than a maintained back-pointer, which keeps insertion fully
// lock-free at the cost of an extra O(log n) search per Prev call.
func (it *Iterator) Prev() {
	if it.cur == nil {
		return
	}
	it.cur = it.list.lessThanNode(it.cur.key)
}
