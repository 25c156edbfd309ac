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

// Package region tracks cache-region geometry, state and safe points,
// and hands out reference-counted snapshot handles over them.
package region

import "fmt"

// Epoch versions a region's geometry. Split and merge bump Version;
// configuration changes (not modeled here; owned by the Raft layer) bump
// ConfVer in the original TiKV design. Either field advancing
// invalidates snapshots opened against an older epoch.
type Epoch struct {
	ConfVer uint64
	Version uint64
}

// Equal reports whether two epochs are identical.
func (e Epoch) Equal(o Epoch) bool { return e == o }

// Less reports whether e is strictly older than o.
func (e Epoch) Less(o Epoch) bool {
	if e.ConfVer != o.ConfVer {
		return e.ConfVer < o.ConfVer
	}
	return e.Version < o.Version
}

// State is the region lifecycle state machine from spec.md §3.
type State uint8

const (
	Pending State = iota
	Loading
	Cached
	ToBeSplit
	PendingEvict
	Evicting
	Removed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Loading:
		return "Loading"
	case Cached:
		return "Cached"
	case ToBeSplit:
		return "ToBeSplit"
	case PendingEvict:
		return "PendingEvict"
	case Evicting:
		return "Evicting"
	case Removed:
		return "Removed"
	default:
		return "Unknown"
	}
}

// validTransitions enumerates the edges of the state machine described
// in spec.md §3: Pending -> Loading -> Cached <-> PendingEvict ->
// Evicting -> (removed), plus Cached -> ToBeSplit -> Cached*.
var validTransitions = map[State]map[State]bool{
	Pending:      {Loading: true},
	Loading:      {Cached: true},
	Cached:       {PendingEvict: true, ToBeSplit: true},
	ToBeSplit:    {Cached: true},
	PendingEvict: {Cached: true, Evicting: true},
	Evicting:     {Removed: true},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal
// edge of the region state machine.
func CanTransition(from, to State) bool {
	return validTransitions[from][to]
}

// Descriptor identifies a region's immutable-for-this-epoch geometry:
// its id, epoch and half-open user-key range [Start, End).
type Descriptor struct {
	ID      uint64
	Epoch   Epoch
	StartKey []byte
	EndKey   []byte
}

// Contains reports whether key falls inside [Start, End).
func (d Descriptor) Contains(key []byte) bool {
	if len(d.StartKey) > 0 && bytesLess(key, d.StartKey) {
		return false
	}
	if len(d.EndKey) > 0 && !bytesLess(key, d.EndKey) {
		return false
	}
	return true
}

func bytesLess(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func (d Descriptor) String() string {
	return fmt.Sprintf("region{id=%d epoch=%d/%d [%x,%x)}", d.ID, d.Epoch.ConfVer, d.Epoch.Version, d.StartKey, d.EndKey)
}
