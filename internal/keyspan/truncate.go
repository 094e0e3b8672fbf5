// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package keyspan

import "github.com/cockroachdb/mergeiter/internal/base"

// Truncate returns an iterator over the fragments of iter clamped to the
// internal key bounds of a segment. A nil bound leaves that side unclamped.
//
// Start keys are raised to smallest. End keys are lowered to largest, which is
// inclusive unless it is an exclusive sentinel: an inclusive largest of
// k#s,KIND becomes k#(s-1),MAX so that the truncated tombstone still covers
// k#s but nothing older at k. A largest with sequence number zero is used
// as is. Fragments lying entirely outside the bounds are not surfaced.
func Truncate(
	cmp base.Compare, iter base.TombstoneIterator, smallest, largest *base.InternalKey,
) base.TombstoneIterator {
	t := &truncatingIter{iter: iter, cmp: cmp}
	if smallest != nil {
		t.smallestKey = *smallest
		t.smallest = &t.smallestKey
	}
	if largest != nil {
		t.largestKey = *largest
		if !largest.IsExclusiveSentinel() && largest.SeqNum() > 0 {
			t.largestKey = base.MakeInternalKey(largest.UserKey, largest.SeqNum()-1, base.InternalKeyKindMax)
		}
		t.largest = &t.largestKey
	}
	return t
}

type truncatingIter struct {
	iter base.TombstoneIterator
	cmp  base.Compare

	smallest, largest       *base.InternalKey
	smallestKey, largestKey base.InternalKey
	// invalid is set when a seek target lies outside the bounds.
	invalid bool
}

var _ base.TombstoneIterator = (*truncatingIter)(nil)

func (t *truncatingIter) SeekGE(key []byte) {
	t.invalid = false
	if t.largest != nil && base.InternalCompare(t.cmp, *t.largest, base.MakeRangeDeleteSentinelKey(key)) <= 0 {
		t.invalid = true
		return
	}
	if t.smallest != nil && t.cmp(key, t.smallest.UserKey) < 0 {
		t.iter.SeekGE(t.smallest.UserKey)
		return
	}
	t.iter.SeekGE(key)
}

func (t *truncatingIter) SeekLE(key []byte) {
	t.invalid = false
	if t.smallest != nil &&
		base.InternalCompare(t.cmp, base.MakeInternalKey(key, base.SeqNumZero, base.InternalKeyKindRangeDelete), *t.smallest) < 0 {
		t.invalid = true
		return
	}
	if t.largest != nil && t.cmp(t.largest.UserKey, key) < 0 {
		t.iter.SeekLE(t.largest.UserKey)
		return
	}
	t.iter.SeekLE(key)
}

func (t *truncatingIter) First() {
	t.invalid = false
	if t.smallest != nil {
		t.iter.SeekGE(t.smallest.UserKey)
		return
	}
	t.iter.First()
}

func (t *truncatingIter) Last() {
	t.invalid = false
	if t.largest != nil {
		t.iter.SeekLE(t.largest.UserKey)
		return
	}
	t.iter.Last()
}

func (t *truncatingIter) Next() { t.iter.Next() }
func (t *truncatingIter) Prev() { t.iter.Prev() }

func (t *truncatingIter) Valid() bool {
	if t.invalid || !t.iter.Valid() {
		return false
	}
	if t.smallest != nil && base.InternalCompare(t.cmp, *t.smallest, t.iter.End()) >= 0 {
		return false
	}
	if t.largest != nil && base.InternalCompare(t.cmp, t.iter.Start(), *t.largest) >= 0 {
		return false
	}
	return true
}

func (t *truncatingIter) Start() base.InternalKey {
	start := t.iter.Start()
	if t.smallest != nil && base.InternalCompare(t.cmp, *t.smallest, start) > 0 {
		return *t.smallest
	}
	return start
}

func (t *truncatingIter) End() base.InternalKey {
	end := t.iter.End()
	if t.largest != nil && base.InternalCompare(t.cmp, end, *t.largest) > 0 {
		return *t.largest
	}
	return end
}

func (t *truncatingIter) SeqNum() base.SeqNum { return t.iter.SeqNum() }
func (t *truncatingIter) Close() error        { return t.iter.Close() }
