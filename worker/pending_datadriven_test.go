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

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
)

// TestPendingRangeMapDataDriven replays S5 (pending-delete-range
// coalescing) as a single running map, shared across the whole script.
func TestPendingRangeMapDataDriven(t *testing.T) {
	m := NewPendingRangeMap()

	datadriven.RunTest(t, "testdata/pending", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "insert":
			region, _ := strconv.ParseUint(ddPendArg(d, "region"), 10, 64)
			start, end := ddPendKey(d, "start"), ddPendKey(d, "end")
			stale, _ := strconv.ParseUint(ddPendArg(d, "stale"), 10, 64)
			m.Insert(region, start, end, stale)
			return formatPendingRanges(m.Entries())

		case "entries":
			return formatPendingRanges(m.Entries())

		case "remove-stale":
			oldest, _ := strconv.ParseUint(ddPendArg(d, "oldest"), 10, 64)
			limit, _ := strconv.Atoi(ddPendArg(d, "limit"))
			return formatPendingRanges(m.RemoveStale(oldest, limit))

		default:
			t.Fatalf("unknown command %q", d.Cmd)
			return ""
		}
	})
}

// formatPendingRanges renders entries the way the map's caller cares
// about: which region owns the merged range, its bounds, and the
// merged stale seq.
func formatPendingRanges(entries []PendingRange) string {
	if len(entries) == 0 {
		return "<none>"
	}
	var out []string
	for _, e := range entries {
		out = append(out, fmt.Sprintf("%d %s stale=%d", e.RegionID, formatRange(e.Start, e.End), e.StaleSeq))
	}
	return strings.Join(out, "\n")
}

func formatRange(start, end []byte) string {
	e := string(end)
	if end == nil {
		e = ""
	}
	return fmt.Sprintf("[%s,%s)", start, e)
}

func ddPendArg(d *datadriven.TestData, key string) string {
	for _, arg := range d.CmdArgs {
		if arg.Key == key && len(arg.Vals) > 0 {
			return arg.Vals[0]
		}
	}
	return ""
}

func ddPendKey(d *datadriven.TestData, key string) []byte {
	v := ddPendArg(d, key)
	if v == "" || v == "(nil)" {
		return nil
	}
	return []byte(v)
}
