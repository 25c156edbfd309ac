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

package worker

import "sync/atomic"

// JobState is the shared atomic tri-state (really hexa-state) an Apply
// task's status moves through, observed cooperatively at check_abort
// points (spec.md §5).
type JobState int32

const (
	JobPending JobState = iota
	JobRunning
	JobCancelling
	JobCancelled
	JobFinished
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "Pending"
	case JobRunning:
		return "Running"
	case JobCancelling:
		return "Cancelling"
	case JobCancelled:
		return "Cancelled"
	case JobFinished:
		return "Finished"
	case JobFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// JobStatus is shared between the task's submitter (which may request
// cancellation) and the worker goroutine executing it.
type JobStatus struct {
	v atomic.Int32
}

// NewJobStatus returns a status initialised to JobPending.
func NewJobStatus() *JobStatus {
	return &JobStatus{}
}

// Load returns the current state.
func (s *JobStatus) Load() JobState { return JobState(s.v.Load()) }

// Store sets the state unconditionally.
func (s *JobStatus) Store(state JobState) { s.v.Store(int32(state)) }

// RequestCancel moves a Pending or Running task to Cancelling. It is a
// no-op if the task has already reached a terminal state.
func (s *JobStatus) RequestCancel() {
	for {
		cur := s.Load()
		if cur == JobFinished || cur == JobFailed || cur == JobCancelled {
			return
		}
		if s.v.CompareAndSwap(int32(cur), int32(JobCancelling)) {
			return
		}
	}
}

// IsCancelling reports whether cancellation has been requested.
func (s *JobStatus) IsCancelling() bool { return s.Load() == JobCancelling }
