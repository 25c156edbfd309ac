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

// Package raft declares the surface this module consumes from the Raft
// layer: snapshot file handles and the persisted apply/region-state
// records kept in the raft column family. Concrete Raft replication is
// out of scope (spec.md §1).
package raft

import (
	"context"
	"encoding/binary"
)

// SnapshotFile is one file making up an incoming region snapshot.
type SnapshotFile interface {
	// Path returns the on-disk (or staged) path the LSM engine's
	// IngestFiles should load.
	Path() string
	// Exists reports whether the file is present and readable.
	Exists(ctx context.Context) (bool, error)
	// Apply stages the file for ingestion (e.g. copying or
	// symlinking it into the engine's ingest directory), honoring
	// Options.SnapApplyCopySymlink.
	Apply(ctx context.Context) error
}

// RegionLocalState is the persisted record of a region's geometry and
// cache membership, stored in the raft CF under RegionStateKey(id).
type RegionLocalState struct {
	RegionID uint64
	ConfVer  uint64
	Version  uint64
	StartKey []byte
	EndKey   []byte
}

// ApplyState is the persisted record of a region's applied Raft index,
// stored in the raft CF under ApplyStateKey(id).
type ApplyState struct {
	RegionID    uint64
	AppliedIndex uint64
	TruncatedIndex uint64
}

// Marshal encodes s into the flat layout written to the raft CF:
// RegionID, ConfVer, Version, then length-prefixed StartKey/EndKey.
func (s RegionLocalState) Marshal() []byte {
	b := make([]byte, 0, 24+8+len(s.StartKey)+8+len(s.EndKey))
	b = appendUint64(b, s.RegionID)
	b = appendUint64(b, s.ConfVer)
	b = appendUint64(b, s.Version)
	b = appendUint64(b, uint64(len(s.StartKey)))
	b = append(b, s.StartKey...)
	b = appendUint64(b, uint64(len(s.EndKey)))
	b = append(b, s.EndKey...)
	return b
}

// UnmarshalRegionLocalState decodes a value written by
// RegionLocalState.Marshal.
func UnmarshalRegionLocalState(b []byte) (RegionLocalState, error) {
	var s RegionLocalState
	var ok bool
	if s.RegionID, b, ok = takeUint64(b); !ok {
		return RegionLocalState{}, errShortRecord
	}
	if s.ConfVer, b, ok = takeUint64(b); !ok {
		return RegionLocalState{}, errShortRecord
	}
	if s.Version, b, ok = takeUint64(b); !ok {
		return RegionLocalState{}, errShortRecord
	}
	if s.StartKey, b, ok = takeBytes(b); !ok {
		return RegionLocalState{}, errShortRecord
	}
	if s.EndKey, _, ok = takeBytes(b); !ok {
		return RegionLocalState{}, errShortRecord
	}
	return s, nil
}

// Marshal encodes s into the flat layout written to the raft CF:
// RegionID, AppliedIndex, TruncatedIndex.
func (s ApplyState) Marshal() []byte {
	b := make([]byte, 0, 24)
	b = appendUint64(b, s.RegionID)
	b = appendUint64(b, s.AppliedIndex)
	b = appendUint64(b, s.TruncatedIndex)
	return b
}

// UnmarshalApplyState decodes a value written by ApplyState.Marshal.
func UnmarshalApplyState(b []byte) (ApplyState, error) {
	var s ApplyState
	var ok bool
	if s.RegionID, b, ok = takeUint64(b); !ok {
		return ApplyState{}, errShortRecord
	}
	if s.AppliedIndex, b, ok = takeUint64(b); !ok {
		return ApplyState{}, errShortRecord
	}
	if s.TruncatedIndex, _, ok = takeUint64(b); !ok {
		return ApplyState{}, errShortRecord
	}
	return s, nil
}

var errShortRecord = shortRecordError{}

type shortRecordError struct{}

func (shortRecordError) Error() string { return "raft: record too short" }

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func takeUint64(b []byte) (v uint64, rest []byte, ok bool) {
	if len(b) < 8 {
		return 0, b, false
	}
	return binary.BigEndian.Uint64(b[:8]), b[8:], true
}

func takeBytes(b []byte) (v []byte, rest []byte, ok bool) {
	n, rest, ok := takeUint64(b)
	if !ok || uint64(len(rest)) < n {
		return nil, b, false
	}
	return rest[:n], rest[n:], true
}

// RegionStateKey returns the raft-CF key holding a region's
// RegionLocalState.
func RegionStateKey(id uint64) []byte {
	return keyWithSuffix(id, "region_state")
}

// ApplyStateKey returns the raft-CF key holding a region's ApplyState.
func ApplyStateKey(id uint64) []byte {
	return keyWithSuffix(id, "apply_state")
}

// SnapshotRaftStateKey returns the raft-CF key for a region's
// snapshot-apply state record. The region worker's apply path neither
// writes nor deletes this key.
func SnapshotRaftStateKey(id uint64) []byte {
	return keyWithSuffix(id, "snapshot_raft_state")
}

func keyWithSuffix(id uint64, suffix string) []byte {
	b := make([]byte, 0, 8+1+len(suffix))
	b = append(b, byte(id>>56), byte(id>>48), byte(id>>40), byte(id>>32), byte(id>>24), byte(id>>16), byte(id>>8), byte(id))
	b = append(b, '_')
	b = append(b, suffix...)
	return b
}
