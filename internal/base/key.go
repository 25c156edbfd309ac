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

// Package base holds the leaf types shared across the region cache: the
// encoded-key codec, column family identifiers and the error kinds
// returned across package boundaries.
package base

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// ValueType tags an internal record as a live value or a tombstone.
type ValueType uint8

const (
	// TypeDeletion marks a tombstone: the user key is absent from this
	// sequence onward.
	TypeDeletion ValueType = 0
	// TypeValue marks a live value.
	TypeValue ValueType = 1
)

func (t ValueType) String() string {
	if t == TypeDeletion {
		return "DEL"
	}
	return "SET"
}

// MaxSequenceNumber is the largest representable sequence number. Encoded
// keys invert the sequence against this constant so that, for a fixed
// user key, higher sequences sort before lower ones.
const MaxSequenceNumber = uint64(1)<<56 - 1

// trailerLen is the fixed-width suffix appended to every encoded key: an
// 8-byte inverted sequence plus a 1-byte value-type tag.
const trailerLen = 9

// CF identifies one of the core column families. CF-scoped calls use this
// closed enum rather than bare strings so that typos are caught at
// compile time.
type CF uint8

const (
	CFDefault CF = iota
	CFLock
	CFWrite
	CFRaft
)

func (cf CF) String() string {
	switch cf {
	case CFDefault:
		return "default"
	case CFLock:
		return "lock"
	case CFWrite:
		return "write"
	case CFRaft:
		return "raft"
	default:
		return "unknown"
	}
}

// AllCFs lists every column family the core manages, in a stable order
// used for CF-fanout operations (ingest, stale sweep, ...).
var AllCFs = [...]CF{CFDefault, CFLock, CFWrite, CFRaft}

// Encode appends the inverted sequence and value-type tag to userKey and
// returns the resulting internal key. The returned slice does not alias
// userKey.
func Encode(userKey []byte, seq uint64, vt ValueType) []byte {
	buf := make([]byte, len(userKey)+trailerLen)
	n := copy(buf, userKey)
	binary.BigEndian.PutUint64(buf[n:], MaxSequenceNumber-seq)
	buf[n+8] = byte(vt)
	return buf
}

// EncodeSeek builds a search key for a forward seek: SeekGE against the
// result lands on the newest version of userKey with sequence <= seq (or
// the next user key, if no such version exists).
func EncodeSeek(userKey []byte, seq uint64) []byte {
	buf := make([]byte, len(userKey)+trailerLen)
	n := copy(buf, userKey)
	binary.BigEndian.PutUint64(buf[n:], MaxSequenceNumber-seq)
	buf[n+8] = byte(TypeDeletion) // minimal tag: sorts <= any real record at the same sequence
	return buf
}

// EncodeSeekForPrev builds a search key for a backward seek: SeekLT
// against the result lands on the last version of userKey with sequence
// >= seq (or the previous user key).
func EncodeSeekForPrev(userKey []byte, seq uint64) []byte {
	buf := make([]byte, len(userKey)+trailerLen)
	n := copy(buf, userKey)
	binary.BigEndian.PutUint64(buf[n:], MaxSequenceNumber-seq)
	buf[n+8] = 0xff // maximal tag: sorts >= any real record at the same sequence
	return buf
}

// Decode splits an internal key into its user key, sequence number and
// value type. Behaviour is undefined (and this function panics, as an
// assertion) for inputs shorter than the fixed trailer.
func Decode(ikey []byte) (userKey []byte, seq uint64, vt ValueType) {
	if len(ikey) < trailerLen {
		panic(errors.Newf("rangecache: internal key too short: %d bytes", len(ikey)))
	}
	split := len(ikey) - trailerLen
	userKey = ikey[:split]
	inv := binary.BigEndian.Uint64(ikey[split : split+8])
	seq = MaxSequenceNumber - inv
	vt = ValueType(ikey[split+8])
	return userKey, seq, vt
}

// UserKey returns just the user-key prefix of an internal key.
func UserKey(ikey []byte) []byte {
	if len(ikey) < trailerLen {
		panic(errors.Newf("rangecache: internal key too short: %d bytes", len(ikey)))
	}
	return ikey[:len(ikey)-trailerLen]
}

// Compare orders internal keys: first by user key ascending, then by
// inverted sequence ascending (i.e. newer versions first), then by value
// type. It is suitable for use directly as the skiplist store's
// comparator.
func Compare(a, b []byte) int {
	la, lb := len(a)-trailerLen, len(b)-trailerLen
	if la < 0 || lb < 0 {
		panic(errors.New("rangecache: internal key too short"))
	}
	if c := compareBytes(a[:la], b[:lb]); c != 0 {
		return c
	}
	return compareBytes(a[la:], b[lb:])
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
