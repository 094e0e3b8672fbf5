// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package memrun implements an in-memory sorted run backed by a B-tree. It
// plays the role of a memtable: writes are applied in place, and every
// iterator reads a copy-on-write snapshot of the tree taken when it was
// created, so iterators are unaffected by later writes.
package memrun

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/cockroachdb/mergeiter/internal/keyspan"
	googlebtree "github.com/google/btree"
)

const defaultDegree = 16

// Run is an in-memory sorted run of internal keys and range tombstones. It is
// safe for concurrent use.
type Run struct {
	comparer *base.Comparer

	mu struct {
		sync.Mutex
		tree       *googlebtree.BTreeG[base.InternalKV]
		tombstones []keyspan.Span
		// frozen is set by Freeze; writes are rejected afterwards.
		frozen bool
	}
}

// New returns an empty run ordered by comparer. A nil comparer uses
// base.DefaultComparer.
func New(comparer *base.Comparer) *Run {
	r := &Run{comparer: comparer.EnsureDefaults()}
	cmp := r.comparer.Compare
	r.mu.tree = googlebtree.NewG[base.InternalKV](defaultDegree, func(a, b base.InternalKV) bool {
		return base.InternalCompare(cmp, a.K, b.K) < 0
	})
	return r
}

// ErrFrozen is returned by writes to a frozen run.
var ErrFrozen = errors.New("memrun: run is frozen")

// Add inserts a point record. A record with the same internal key is
// replaced. The key and value are copied.
func (r *Run) Add(key base.InternalKey, value []byte) error {
	if key.Kind() == base.InternalKeyKindRangeDelete {
		return errors.AssertionFailedf("memrun: range deletions must be added with DeleteRange")
	}
	kv := base.InternalKV{K: key.Clone(), V: append([]byte(nil), value...)}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.frozen {
		return ErrFrozen
	}
	r.mu.tree.ReplaceOrInsert(kv)
	return nil
}

// DeleteRange adds a range tombstone deleting [start, end) below seqNum.
func (r *Run) DeleteRange(start, end []byte, seqNum base.SeqNum) error {
	s := keyspan.Span{
		Start:  append([]byte(nil), start...),
		End:    append([]byte(nil), end...),
		SeqNum: seqNum,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.frozen {
		return ErrFrozen
	}
	r.mu.tombstones = append(r.mu.tombstones, s)
	return nil
}

// Freeze makes the run read-only.
func (r *Run) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mu.frozen = true
}

// Len returns the number of point records in the run.
func (r *Run) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.tree.Len()
}

// IterOptions configures an iterator over a run.
type IterOptions struct {
	// LowerBound and UpperBound restrict the iterator to user keys in
	// [LowerBound, UpperBound). Either may be nil.
	LowerBound, UpperBound []byte
	// Snapshot hides records and tombstones whose sequence number is >=
	// Snapshot. Zero means no filtering.
	Snapshot base.SeqNum
}

func (o *IterOptions) snapshot() base.SeqNum {
	if o == nil || o.Snapshot == 0 {
		return base.SeqNumMax
	}
	return o.Snapshot
}

// NewIter returns an iterator over the run's point records.
func (r *Run) NewIter(opts *IterOptions) *Iter {
	r.mu.Lock()
	tree := r.mu.tree.Clone()
	r.mu.Unlock()

	it := &Iter{
		cmp:      r.comparer.Compare,
		tree:     tree,
		snapshot: opts.snapshot(),
	}
	if opts != nil {
		it.lower = opts.LowerBound
		it.upper = opts.UpperBound
	}
	return it
}

// NewTombstoneIter returns an iterator over the fragmented range tombstones
// visible under opts, or nil if there are none.
func (r *Run) NewTombstoneIter(opts *IterOptions) base.TombstoneIterator {
	r.mu.Lock()
	tombstones := r.mu.tombstones[:len(r.mu.tombstones):len(r.mu.tombstones)]
	r.mu.Unlock()

	frags := keyspan.Fragment(r.comparer.Compare, tombstones, opts.snapshot())
	if len(frags) == 0 {
		return nil
	}
	return keyspan.NewIter(r.comparer.Compare, frags)
}

// Iter iterates over a snapshot of a run's point records.
type Iter struct {
	cmp          base.Compare
	tree         *googlebtree.BTreeG[base.InternalKV]
	lower, upper []byte
	snapshot     base.SeqNum

	kv     base.InternalKV
	valid  bool
	closed bool
}

var _ base.InternalIterator = (*Iter)(nil)
var _ base.BoundChecker = (*Iter)(nil)

func (i *Iter) visible(kv base.InternalKV) bool {
	return kv.K.Visible(i.snapshot)
}

// ascend positions the iterator at the first visible record >= pivot, or
// > pivot if exclusive.
func (i *Iter) ascend(pivot base.InternalKey, exclusive bool) {
	i.valid = false
	if i.closed {
		return
	}
	i.tree.AscendGreaterOrEqual(base.InternalKV{K: pivot}, func(kv base.InternalKV) bool {
		if exclusive && base.InternalCompare(i.cmp, kv.K, pivot) == 0 {
			return true
		}
		if i.upper != nil && i.cmp(kv.K.UserKey, i.upper) >= 0 {
			return false
		}
		if !i.visible(kv) {
			return true
		}
		i.kv, i.valid = kv, true
		return false
	})
}

// descend positions the iterator at the last visible record <= pivot, or
// < pivot if exclusive.
func (i *Iter) descend(pivot base.InternalKey, exclusive bool) {
	i.valid = false
	if i.closed {
		return
	}
	i.tree.DescendLessOrEqual(base.InternalKV{K: pivot}, func(kv base.InternalKV) bool {
		if exclusive && base.InternalCompare(i.cmp, kv.K, pivot) == 0 {
			return true
		}
		if i.lower != nil && i.cmp(kv.K.UserKey, i.lower) < 0 {
			return false
		}
		if !i.visible(kv) {
			return true
		}
		i.kv, i.valid = kv, true
		return false
	})
}

// SeekGE implements base.InternalIterator.SeekGE.
func (i *Iter) SeekGE(target base.InternalKey) {
	if i.lower != nil && i.cmp(target.UserKey, i.lower) < 0 {
		target = base.MakeSearchKey(i.lower)
	}
	i.ascend(target, false)
}

// SeekLE implements base.InternalIterator.SeekLE.
func (i *Iter) SeekLE(target base.InternalKey) {
	if i.upper != nil && i.cmp(target.UserKey, i.upper) >= 0 {
		i.descend(base.MakeSearchKey(i.upper), true)
		return
	}
	i.descend(target, false)
}

// First implements base.InternalIterator.First.
func (i *Iter) First() {
	if i.lower != nil {
		i.ascend(base.MakeSearchKey(i.lower), false)
		return
	}
	i.valid = false
	if i.closed {
		return
	}
	i.tree.Ascend(func(kv base.InternalKV) bool {
		if i.upper != nil && i.cmp(kv.K.UserKey, i.upper) >= 0 {
			return false
		}
		if !i.visible(kv) {
			return true
		}
		i.kv, i.valid = kv, true
		return false
	})
}

// Last implements base.InternalIterator.Last.
func (i *Iter) Last() {
	if i.upper != nil {
		i.descend(base.MakeSearchKey(i.upper), true)
		return
	}
	i.valid = false
	if i.closed {
		return
	}
	i.tree.Descend(func(kv base.InternalKV) bool {
		if i.lower != nil && i.cmp(kv.K.UserKey, i.lower) < 0 {
			return false
		}
		if !i.visible(kv) {
			return true
		}
		i.kv, i.valid = kv, true
		return false
	})
}

// Next implements base.InternalIterator.Next.
func (i *Iter) Next() {
	if !i.valid {
		panic(errors.AssertionFailedf("memrun: Next on an unpositioned iterator"))
	}
	i.ascend(i.kv.K, true)
}

// Prev implements base.InternalIterator.Prev.
func (i *Iter) Prev() {
	if !i.valid {
		panic(errors.AssertionFailedf("memrun: Prev on an unpositioned iterator"))
	}
	i.descend(i.kv.K, true)
}

// Valid implements base.InternalIterator.Valid.
func (i *Iter) Valid() bool { return i.valid }

// Key implements base.InternalIterator.Key.
func (i *Iter) Key() base.InternalKey { return i.kv.K }

// PrepareValue implements base.InternalIterator.PrepareValue. Values are held
// in memory so preparation always succeeds.
func (i *Iter) PrepareValue() bool { return i.valid }

// Value implements base.InternalIterator.Value.
func (i *Iter) Value() []byte { return i.kv.V }

// Error implements base.InternalIterator.Error. A closed iterator reports
// base.ErrClosed.
func (i *Iter) Error() error {
	if i.closed {
		return base.ErrClosed
	}
	return nil
}

// Close implements base.InternalIterator.Close.
func (i *Iter) Close() error {
	i.closed = true
	i.valid = false
	i.tree = nil
	return nil
}

// MayBeOutOfLowerBound implements base.BoundChecker. The iterator enforces its
// own bounds.
func (i *Iter) MayBeOutOfLowerBound() bool { return false }

// UpperBoundCheckResult implements base.BoundChecker.
func (i *Iter) UpperBoundCheckResult() base.BoundCheckResult {
	if i.upper == nil || !i.valid {
		return base.BoundCheckUnknown
	}
	return base.BoundCheckInbound
}

// SetBounds changes the iterator's bounds. The iterator must be repositioned
// afterwards.
func (i *Iter) SetBounds(lower, upper []byte) {
	i.lower, i.upper = lower, upper
	i.valid = false
}

func (i *Iter) String() string { return "memrun" }
