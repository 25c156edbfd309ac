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

package admin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tikv/rangecache/internal/log"
	"github.com/tikv/rangecache/region"
)

func testRegionDesc() region.Descriptor {
	return region.Descriptor{ID: 1, Epoch: region.Epoch{ConfVer: 1, Version: 1}, StartKey: []byte("a"), EndKey: []byte("z")}
}

func TestValidateRejectsNotServing(t *testing.T) {
	require.ErrorIs(t, Validate(testRegionDesc(), PeerState{Serving: false}, CmdSplit), ErrRegionNotServing)
}

func TestValidateRejectsNotAppliedToTerm(t *testing.T) {
	err := Validate(testRegionDesc(), PeerState{Serving: true, AppliedToCurrentTerm: false}, CmdSplit)
	require.ErrorIs(t, err, ErrNotAppliedToTerm)
}

func TestValidateAllowsPreTransferLeaderProbeBeforeAppliedToTerm(t *testing.T) {
	st := PeerState{Serving: true, AppliedToCurrentTerm: false, TransferLeaderProposal: false}
	require.NoError(t, Validate(testRegionDesc(), st, CmdTransferLeader))
}

func TestValidateRejectsDuringPendingPrepareMerge(t *testing.T) {
	st := PeerState{Serving: true, AppliedToCurrentTerm: true, HasPendingPrepareMerge: true}
	require.ErrorIs(t, Validate(testRegionDesc(), st, CmdSplit), ErrProposalInMergingMode)
	require.NoError(t, Validate(testRegionDesc(), st, CmdPrepareMerge))
}

func TestValidateRejectsDuringMerge(t *testing.T) {
	st := PeerState{Serving: true, AppliedToCurrentTerm: true, IsMerging: true}
	require.ErrorIs(t, Validate(testRegionDesc(), st, CmdCompactLog), ErrProposalInMergingMode)
	require.NoError(t, Validate(testRegionDesc(), st, CmdRollbackMerge))
}

// fakeBroadcaster records every FlushMemtable broadcast handed to it.
type fakeBroadcaster struct {
	mu    sync.Mutex
	calls [][]PeerRef
}

func (b *fakeBroadcaster) BroadcastFlushMemtable(_ region.Descriptor, peers []PeerRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, peers)
	return nil
}

func (b *fakeBroadcaster) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// fakeProposer records every re-propose request the gateway issues.
type fakeProposer struct {
	mu    sync.Mutex
	calls []struct {
		cmd              AdminCmdType
		preFlushFinished bool
	}
}

func (p *fakeProposer) propose(_ region.Descriptor, cmd AdminCmdType, preFlushFinished bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, struct {
		cmd              AdminCmdType
		preFlushFinished bool
	}{cmd, preFlushFinished})
	return nil
}

func (p *fakeProposer) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func servingPeerState() PeerState {
	return PeerState{Serving: true, AppliedToCurrentTerm: true}
}

func TestGatewayProposeNonBatchSplitCommandsDirectly(t *testing.T) {
	proposer := &fakeProposer{}
	g := NewGateway(NewFlushScheduler(&fakeLSMEngine{}, log.Nop), nil, proposer.propose, log.Nop)

	require.NoError(t, g.Propose(context.Background(), testRegionDesc(), servingPeerState(), CmdSplit, nil, false))
	require.Equal(t, 1, proposer.callCount())
}

func TestGatewayProposeBatchSplitSchedulesFlushAndBroadcasts(t *testing.T) {
	proposer := &fakeProposer{}
	broadcaster := &fakeBroadcaster{}
	g := NewGateway(NewFlushScheduler(&fakeLSMEngine{}, log.Nop), broadcaster, proposer.propose, log.Nop)

	peers := []PeerRef{
		{ID: 1, IsVoter: true},
		{ID: 2, IsVoter: true, IsWitness: true},
		{ID: 3, IsVoter: false},
	}
	require.NoError(t, g.Propose(context.Background(), testRegionDesc(), servingPeerState(), CmdBatchSplit, peers, false))

	require.Eventually(t, func() bool { return proposer.callCount() == 1 }, time.Second, time.Millisecond,
		"flush completion must re-propose the batch-split")
	require.Equal(t, 1, broadcaster.callCount())
	require.Equal(t, []PeerRef{{ID: 1, IsVoter: true}}, broadcaster.calls[0], "only voting non-witness peers get the broadcast")

	proposer.mu.Lock()
	last := proposer.calls[len(proposer.calls)-1]
	proposer.mu.Unlock()
	require.Equal(t, CmdBatchSplit, last.cmd)
	require.True(t, last.preFlushFinished)
}

func TestGatewayProposeBatchSplitSilentlyDropsWhenAlreadyFlushing(t *testing.T) {
	proposer := &fakeProposer{}
	engine := &blockingLSMEngine{unblock: make(chan struct{})}
	defer close(engine.unblock)
	flush := NewFlushScheduler(engine, log.Nop)
	g := NewGateway(flush, nil, proposer.propose, log.Nop)

	require.NoError(t, g.Propose(context.Background(), testRegionDesc(), servingPeerState(), CmdBatchSplit, nil, false))
	require.True(t, flush.TabletBeingFlushed(testRegionDesc()))

	err := g.Propose(context.Background(), testRegionDesc(), servingPeerState(), CmdBatchSplit, nil, false)
	require.NoError(t, err, "a second BatchSplit while flushing must be dropped silently, not errored")
	require.Equal(t, 0, proposer.callCount(), "no re-propose until the in-flight flush completes")
}

func TestGatewayProposeValidatesBeforeSchedulingFlush(t *testing.T) {
	proposer := &fakeProposer{}
	g := NewGateway(NewFlushScheduler(&fakeLSMEngine{}, log.Nop), nil, proposer.propose, log.Nop)

	err := g.Propose(context.Background(), testRegionDesc(), PeerState{Serving: false}, CmdBatchSplit, nil, false)
	require.ErrorIs(t, err, ErrRegionNotServing)
	require.Equal(t, 0, proposer.callCount())
}
