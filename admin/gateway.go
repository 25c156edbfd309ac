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

// Package admin validates and routes admin-command proposals against a
// region's current lifecycle state, term and in-flight merge/split
// bookkeeping, and drives the pre-flush handshake BatchSplit needs
// before it may be proposed.
package admin

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/tikv/rangecache/internal/log"
	"github.com/tikv/rangecache/region"
)

// AdminCmdType enumerates the admin command kinds the gateway
// distinguishes. Command bodies (split keys, merge target, transferee)
// are the caller's concern; the gateway only validates whether cmd_type
// may be proposed right now.
type AdminCmdType uint8

const (
	CmdCompactLog AdminCmdType = iota
	CmdSplit
	CmdBatchSplit
	CmdPrepareMerge
	CmdCommitMerge
	CmdRollbackMerge
	CmdTransferLeader
)

func (t AdminCmdType) String() string {
	switch t {
	case CmdCompactLog:
		return "CompactLog"
	case CmdSplit:
		return "Split"
	case CmdBatchSplit:
		return "BatchSplit"
	case CmdPrepareMerge:
		return "PrepareMerge"
	case CmdCommitMerge:
		return "CommitMerge"
	case CmdRollbackMerge:
		return "RollbackMerge"
	case CmdTransferLeader:
		return "TransferLeader"
	default:
		return "Unknown"
	}
}

// PeerState is the subset of a region peer's Raft-layer bookkeeping the
// gateway needs to validate a proposal against, supplied by the caller
// (the concrete Raft implementation lives outside this module).
type PeerState struct {
	Serving             bool
	AppliedToCurrentTerm bool
	HasPendingPrepareMerge bool
	IsMerging           bool

	// TransferLeaderProposal is set when the TransferLeader command
	// already carries the proposal flag (as opposed to being the initial
	// warmup probe), mirroring WriteBatchFlags::TRANSFER_LEADER_PROPOSAL.
	TransferLeaderProposal bool
}

// ErrRegionNotServing is returned when the peer is not currently serving
// (e.g. it has been destroyed), the gateway's first check.
var ErrRegionNotServing = errors.New("admin: region not serving")

// ErrNotAppliedToTerm is returned when the peer has not applied to the
// current term, except for a pre-transfer-leader warmup probe.
var ErrNotAppliedToTerm = errors.New("admin: not applied to current term")

// ErrProposalInMergingMode is returned when a non-merge-control command
// is proposed while a merge is pending or in progress.
var ErrProposalInMergingMode = errors.New("admin: proposal rejected, region is merging")

// ErrTabletBeingFlushed is returned when a BatchSplit is proposed while
// the region's tablet is already mid-flush; the caller should drop the
// request silently, as the original does ("return" with no response),
// since the in-flight flush will itself re-propose once finished.
var ErrTabletBeingFlushed = errors.New("admin: tablet already being flushed")

// Validate runs the gateway's pre-propose checks for cmd against a
// region in the given PeerState. It does not itself propose anything;
// the caller proceeds to propose (or, for BatchSplit, to schedule a
// flush) only once Validate returns nil.
func Validate(desc region.Descriptor, st PeerState, cmd AdminCmdType) error {
	if !st.Serving {
		return errors.Wrapf(ErrRegionNotServing, "region %d", desc.ID)
	}

	preTransferLeader := cmd == CmdTransferLeader && !st.TransferLeaderProposal
	if !st.AppliedToCurrentTerm && !preTransferLeader {
		return errors.Wrapf(ErrNotAppliedToTerm, "region %d", desc.ID)
	}

	if st.HasPendingPrepareMerge && cmd != CmdPrepareMerge {
		return errors.Wrapf(ErrProposalInMergingMode, "region %d: pending prepare-merge", desc.ID)
	}
	if st.IsMerging && cmd != CmdRollbackMerge {
		return errors.Wrapf(ErrProposalInMergingMode, "region %d: merge in progress", desc.ID)
	}
	return nil
}

// PeerRef is the subset of a region peer's membership the gateway needs
// to pick who receives a pre-split FlushMemtable broadcast: voting,
// non-witness peers only (a witness holds no data to flush, and a
// non-voter isn't party to the split it's preparing for).
type PeerRef struct {
	ID        uint64
	IsVoter   bool
	IsWitness bool
}

// Broadcaster sends extra messages to a region's peers. The concrete
// Raft transport lives outside this module (spec.md §1); Gateway only
// decides who should receive a FlushMemtable notice and when.
type Broadcaster interface {
	BroadcastFlushMemtable(desc region.Descriptor, peers []PeerRef) error
}

// ProposeFunc re-submits an admin command. preFlushFinished is set when
// a BatchSplit is being re-proposed after its flush handshake
// completed, mirroring WriteBatchFlags::PRE_FLUSH_FINISHED.
type ProposeFunc func(desc region.Descriptor, cmd AdminCmdType, preFlushFinished bool) error

// Gateway drives Validate plus BatchSplit's pre-flush handshake: check
// TabletBeingFlushed, ScheduleFlush, broadcast FlushMemtable to voting
// non-witness peers, then re-propose with PRE_FLUSH_FINISHED once the
// flush completes.
type Gateway struct {
	flush       *FlushScheduler
	broadcaster Broadcaster
	propose     ProposeFunc
	logger      log.Logger
}

// NewGateway constructs a Gateway. broadcaster may be nil if the caller
// has no peers to notify (e.g. a single-peer test region).
func NewGateway(flush *FlushScheduler, broadcaster Broadcaster, propose ProposeFunc, logger log.Logger) *Gateway {
	if logger == nil {
		logger = log.Nop
	}
	return &Gateway{flush: flush, broadcaster: broadcaster, propose: propose, logger: logger}
}

// Propose validates cmd against st and either proposes it directly, or,
// for a first-pass BatchSplit (preFlushFinished false), runs the
// pre-flush handshake instead of proposing immediately.
func (g *Gateway) Propose(ctx context.Context, desc region.Descriptor, st PeerState, cmd AdminCmdType, peers []PeerRef, preFlushFinished bool) error {
	if err := Validate(desc, st, cmd); err != nil {
		return err
	}
	if cmd != CmdBatchSplit || preFlushFinished {
		return g.propose(desc, cmd, preFlushFinished)
	}
	return g.scheduleBatchSplitFlush(ctx, desc, peers)
}

// scheduleBatchSplitFlush implements spec.md's BatchSplit flush
// handshake: bail out silently if a flush for this region is already in
// flight (the in-flight flush's own completion will re-propose),
// otherwise schedule one, broadcast FlushMemtable to voting non-witness
// peers, and re-propose with PRE_FLUSH_FINISHED once it completes.
func (g *Gateway) scheduleBatchSplitFlush(ctx context.Context, desc region.Descriptor, peers []PeerRef) error {
	if g.flush.TabletBeingFlushed(desc) {
		return nil
	}

	err := g.flush.ScheduleFlush(ctx, desc, func(err error) {
		if err != nil {
			g.logger.Errorf("admin: batch-split flush failed for region %d: %v", desc.ID, err)
			return
		}
		if proposeErr := g.propose(desc, CmdBatchSplit, true); proposeErr != nil {
			g.logger.Errorf("admin: re-propose batch-split for region %d: %v", desc.ID, proposeErr)
		}
	})
	if err != nil {
		if errors.Is(err, ErrTabletBeingFlushed) {
			return nil
		}
		return err
	}

	return g.broadcastFlushMemtable(desc, peers)
}

func (g *Gateway) broadcastFlushMemtable(desc region.Descriptor, peers []PeerRef) error {
	if g.broadcaster == nil {
		return nil
	}
	targets := make([]PeerRef, 0, len(peers))
	for _, p := range peers {
		if p.IsVoter && !p.IsWitness {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	return g.broadcaster.BroadcastFlushMemtable(desc, targets)
}
