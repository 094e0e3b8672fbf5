// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package keyspan

import (
	"slices"

	"github.com/cockroachdb/mergeiter/internal/base"
)

// Fragment splits the possibly overlapping tombstones of a single run into
// non-overlapping fragments ordered by start key. Two fragments are either
// disjoint or abutting. Each fragment carries the highest sequence number among
// the tombstones covering it that are visible at snapshot; pass
// base.SeqNumMax to keep every tombstone. Tombstones with an empty range are
// dropped.
//
// For example, the tombstones a-e#3, c-g#5 and f-h#1 are fragmented into:
//
//	a-c#3 c-e#5 e-f#5 f-g#5 g-h#1
func Fragment(cmp base.Compare, spans []Span, snapshot base.SeqNum) []Span {
	visible := make([]Span, 0, len(spans))
	bounds := make([][]byte, 0, 2*len(spans))
	for _, s := range spans {
		if !s.Visible(snapshot) || cmp(s.Start, s.End) >= 0 {
			continue
		}
		visible = append(visible, s)
		bounds = append(bounds, s.Start, s.End)
	}
	if len(visible) == 0 {
		return nil
	}
	slices.SortFunc(bounds, cmp)
	bounds = slices.CompactFunc(bounds, func(a, b []byte) bool { return cmp(a, b) == 0 })
	slices.SortStableFunc(visible, func(a, b Span) int { return cmp(a.Start, b.Start) })

	var frags []Span
	for i := 0; i+1 < len(bounds); i++ {
		lo, hi := bounds[i], bounds[i+1]
		var seqNum base.SeqNum
		covered := false
		for _, s := range visible {
			if cmp(s.Start, lo) > 0 {
				break
			}
			// Every tombstone endpoint is a bound, so a tombstone starting at or
			// before lo either covers all of [lo, hi) or none of it.
			if cmp(s.End, hi) >= 0 {
				seqNum = max(seqNum, s.SeqNum)
				covered = true
			}
		}
		if covered {
			frags = append(frags, Span{Start: lo, End: hi, SeqNum: seqNum})
		}
	}
	return frags
}
