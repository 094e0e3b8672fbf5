// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package itertest

import (
	"slices"
	"sort"

	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/cockroachdb/mergeiter/internal/keyspan"
)

// Oracle computes the keys a merging iterator over a set of runs must return
// by testing every point record against every range tombstone.
//
// Runs are ordered newest first. A record at run j is deleted by a tombstone
// of run i if the tombstone's range contains the record's user key and either
// i < j, or i == j and the record's sequence number is lower than the
// tombstone's.
type Oracle struct {
	cmp base.Compare
	kvs []base.InternalKV
}

// NewOracle returns an oracle over the given runs, restricted to user keys in
// [lower, upper). Either bound may be nil.
func NewOracle(
	comparer *base.Comparer,
	points [][]base.InternalKV,
	tombstones [][]keyspan.Span,
	lower, upper []byte,
) *Oracle {
	comparer = comparer.EnsureDefaults()
	o := &Oracle{cmp: comparer.Compare}
	for j := range points {
		for _, kv := range points[j] {
			if lower != nil && o.cmp(kv.K.UserKey, lower) < 0 {
				continue
			}
			if upper != nil && o.cmp(kv.K.UserKey, upper) >= 0 {
				continue
			}
			if !o.deleted(tombstones, j, kv.K) {
				o.kvs = append(o.kvs, kv)
			}
		}
	}
	slices.SortFunc(o.kvs, func(a, b base.InternalKV) int {
		return base.InternalCompare(o.cmp, a.K, b.K)
	})
	return o
}

func (o *Oracle) deleted(tombstones [][]keyspan.Span, level int, k base.InternalKey) bool {
	for i := 0; i <= level && i < len(tombstones); i++ {
		for _, t := range tombstones[i] {
			if !t.Contains(o.cmp, k.UserKey) {
				continue
			}
			if i < level || k.SeqNum() < t.SeqNum {
				return true
			}
		}
	}
	return false
}

// KVs returns the visible records in increasing order.
func (o *Oracle) KVs() []base.InternalKV {
	return o.kvs
}

// Len returns the number of visible records.
func (o *Oracle) Len() int {
	return len(o.kvs)
}

// SeekGE returns the index of the first visible record >= target, or Len()
// if there is none.
func (o *Oracle) SeekGE(target base.InternalKey) int {
	return sort.Search(len(o.kvs), func(i int) bool {
		return base.InternalCompare(o.cmp, o.kvs[i].K, target) >= 0
	})
}

// SeekLE returns the index of the last visible record <= target, or -1 if
// there is none.
func (o *Oracle) SeekLE(target base.InternalKey) int {
	return sort.Search(len(o.kvs), func(i int) bool {
		return base.InternalCompare(o.cmp, o.kvs[i].K, target) > 0
	}) - 1
}
