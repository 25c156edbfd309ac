// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/tikv/rangecache/internal/raft"
)

// SnapshotFile adapts one file of an incoming region snapshot, staged
// under StageDir, into a raft.SnapshotFile: Apply resolves it against
// Dest, either by symlinking (CopySymlink, Options.SnapApplyCopySymlink)
// or by copying its bytes, before the region worker hands Dest to the
// LSM engine's IngestFiles.
type SnapshotFile struct {
	FS          FS
	StageDir    string
	Dest        string
	Name        string
	CopySymlink bool
}

var _ raft.SnapshotFile = (*SnapshotFile)(nil)

// Path returns the resolved destination IngestFiles should load.
func (f *SnapshotFile) Path() string { return f.Dest }

// Exists reports whether the staged source file is present.
func (f *SnapshotFile) Exists(context.Context) (bool, error) {
	_, err := f.FS.Stat(f.source())
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Apply resolves the staged file at Dest: a symlink if CopySymlink is
// set, otherwise a full byte-for-byte copy.
func (f *SnapshotFile) Apply(context.Context) error {
	if f.CopySymlink {
		return f.FS.Symlink(f.source(), f.Dest)
	}

	in, err := f.FS.Open(f.source())
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := f.FS.Create(f.Dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func (f *SnapshotFile) source() string {
	return filepath.Join(f.StageDir, f.Name)
}
