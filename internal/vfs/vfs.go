// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package vfs is the filesystem abstraction the region worker reads
// snapshot files through. It is adapted from the teacher's own
// vfs.FS + cloud/aws wrapping (cloud/aws/cloud_fs.go): a local-disk
// implementation by default, and an S3-backed one (S3FS) for snapshots
// staged in a shared bucket. Which FS a SnapshotFile uses is chosen by
// whoever constructs it; no option selects it.
package vfs

import (
	"io"
	"os"
)

// File is the subset of *os.File the region worker's apply path needs.
type File interface {
	io.Reader
	io.Writer
	io.Closer
	Sync() error
}

// FS abstracts the filesystem a SnapshotFile's path is resolved
// against.
type FS interface {
	Open(name string) (File, error)
	Create(name string) (File, error)
	Remove(name string) error
	Rename(oldname, newname string) error
	Stat(name string) (os.FileInfo, error)

	// Symlink points newname at oldname, the Options.SnapApplyCopySymlink
	// fast path for staging a snapshot file without copying its bytes.
	Symlink(oldname, newname string) error
}

// Default is the plain local-disk FS.
var Default FS = diskFS{}

type diskFS struct{}

func (diskFS) Open(name string) (File, error)   { return os.Open(name) }
func (diskFS) Create(name string) (File, error) { return os.Create(name) }
func (diskFS) Remove(name string) error         { return os.Remove(name) }
func (diskFS) Rename(oldname, newname string) error {
	return os.Rename(oldname, newname)
}
func (diskFS) Stat(name string) (os.FileInfo, error)       { return os.Stat(name) }
func (diskFS) Symlink(oldname, newname string) error { return os.Symlink(oldname, newname) }
