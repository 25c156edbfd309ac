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

// Package stats implements the per-iterator perf-context counters of
// spec.md §4.7 and the aggregate they flush into on iterator Close.
package stats

import (
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
)

// PerIteratorStats accumulates locally to one MVCC iterator for the
// lifetime of a single seek/next/prev call chain. It is cheap (plain
// counters, no synchronization) because exactly one goroutine ever
// touches a given iterator.
type PerIteratorStats struct {
	InternalKeySkippedCount    uint64
	InternalDeleteSkippedCount uint64
	SeekCount                  uint64
	NextCount                  uint64
	PrevCount                  uint64
}

// Aggregate is the process-wide sink perf-context counters flush into.
// Counters are exported via Prometheus; op latency is tracked with an
// HDR histogram the way the teacher tracks its own internal op-latency
// distributions alongside Prometheus counters.
type Aggregate struct {
	mu sync.Mutex

	internalKeySkipped    prometheus.Counter
	internalDeleteSkipped prometheus.Counter
	seekLatencyNanos      *hdrhistogram.Histogram
}

// NewAggregate returns an Aggregate registering its counters with reg.
// Passing a nil registry is valid for tests that don't care about
// Prometheus export.
func NewAggregate(reg prometheus.Registerer) *Aggregate {
	a := &Aggregate{
		internalKeySkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rangecache_internal_key_skipped_total",
			Help: "Internal keys skipped while resolving MVCC visibility.",
		}),
		internalDeleteSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rangecache_internal_delete_skipped_total",
			Help: "Tombstoned internal keys skipped during a scan.",
		}),
		seekLatencyNanos: hdrhistogram.New(1, 1_000_000_000, 3),
	}
	if reg != nil {
		reg.MustRegister(a.internalKeySkipped, a.internalDeleteSkipped)
	}
	return a
}

// Flush folds an iterator's local counters into the aggregate. Called
// exactly once, from Iterator.Close.
func (a *Aggregate) Flush(s PerIteratorStats) {
	a.internalKeySkipped.Add(float64(s.InternalKeySkippedCount))
	a.internalDeleteSkipped.Add(float64(s.InternalDeleteSkippedCount))
}

// RecordSeekLatency records one seek/seek_for_prev call's latency.
func (a *Aggregate) RecordSeekLatency(nanos int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.seekLatencyNanos.RecordValue(nanos)
}

// SeekLatencyPercentile returns the p-th percentile (0-100) of recorded
// seek latencies in nanoseconds.
func (a *Aggregate) SeekLatencyPercentile(p float64) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seekLatencyNanos.ValueAtQuantile(p)
}
