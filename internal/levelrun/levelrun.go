// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package levelrun implements an iterator over a sorted run that is split
// into several non-overlapping segments, opening one segment at a time.
//
// When the iterator is handed a tombstone slot by a merging iterator, it
// publishes the current segment's range tombstones, truncated to the
// segment's bounds, in the slot. Before leaving a segment it stops at a
// boundary sentinel: the segment's largest key when moving forward, or its
// smallest key when moving backward. The sentinel lets the merging iterator
// finish applying the segment's tombstones before they are replaced.
package levelrun

import (
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/cockroachdb/mergeiter/internal/blockrun"
	"github.com/cockroachdb/mergeiter/internal/keyspan"
)

// IterOptions are passed to Segment.Open.
type IterOptions struct {
	// LowerBound and UpperBound restrict iteration to user keys in
	// [LowerBound, UpperBound). Either may be nil.
	LowerBound, UpperBound []byte
}

// Segment is one piece of a level. Its point keys and range tombstones lie
// within [Smallest, Largest].
type Segment struct {
	Smallest, Largest base.InternalKey
	// Open returns iterators over the segment's point records and range
	// tombstones. The tombstone iterator is nil if the segment has none.
	Open func(opts *IterOptions) (base.InternalIterator, base.TombstoneIterator, error)
	// Name identifies the segment in String. Optional.
	Name string
}

// TableSegment returns a segment reading t, bounded by the table's smallest
// and largest keys.
func TableSegment(t *blockrun.Table) Segment {
	props := t.Properties()
	return Segment{
		Smallest: props.Smallest,
		Largest:  props.Largest,
		Name:     t.String(),
		Open: func(opts *IterOptions) (base.InternalIterator, base.TombstoneIterator, error) {
			it := t.NewIter(&blockrun.IterOptions{LowerBound: opts.LowerBound, UpperBound: opts.UpperBound})
			return it, t.NewTombstoneIter(), nil
		},
	}
}

// Iter iterates over the point records of a level.
type Iter struct {
	cmp      base.Compare
	segments []Segment
	opts     IterOptions
	slot     *base.TombstoneIterator

	// index is the position of the open segment, or -1.
	index      int
	point      base.InternalIterator
	tombstones base.TombstoneIterator

	// atSentinel is set while the iterator is positioned at the boundary of
	// segment index. The boundary is the segment's largest key if
	// sentinelForward, and its smallest key otherwise.
	atSentinel      bool
	sentinelForward bool
	err             error
}

var _ base.SentinelIterator = (*Iter)(nil)
var _ base.TombstoneSlotter = (*Iter)(nil)
var _ base.BoundChecker = (*Iter)(nil)

// New returns an iterator over segments, which must be ordered and must not
// overlap. A nil comparer uses base.DefaultComparer.
func New(comparer *base.Comparer, segments []Segment, opts *IterOptions) (*Iter, error) {
	cmp := comparer.EnsureDefaults().Compare
	for i := range segments {
		s := &segments[i]
		if s.Open == nil {
			return nil, errors.AssertionFailedf("levelrun: segment %d has no Open func", i)
		}
		if base.InternalCompare(cmp, s.Smallest, s.Largest) > 0 {
			return nil, errors.Errorf("levelrun: segment %d has inverted bounds [%s, %s]", errors.Safe(i), s.Smallest, s.Largest)
		}
		if i > 0 && base.InternalCompare(cmp, segments[i-1].Largest, s.Smallest) >= 0 {
			return nil, errors.Errorf("levelrun: segments %d and %d overlap: %s >= %s",
				errors.Safe(i-1), errors.Safe(i), segments[i-1].Largest, s.Smallest)
		}
	}
	it := &Iter{cmp: cmp, segments: segments, index: -1}
	if opts != nil {
		it.opts = *opts
	}
	return it, nil
}

// SetTombstoneSlot implements base.TombstoneSlotter.
func (i *Iter) SetTombstoneSlot(slot *base.TombstoneIterator) {
	i.slot = slot
	if slot != nil {
		*slot = i.tombstones
	}
}

// closeSegment closes the open segment's iterators and empties the slot.
func (i *Iter) closeSegment() {
	if i.point != nil {
		if err := i.point.Close(); err != nil && i.err == nil {
			i.err = err
		}
		i.point = nil
	}
	if i.tombstones != nil {
		if err := i.tombstones.Close(); err != nil && i.err == nil {
			i.err = err
		}
		i.tombstones = nil
	}
	if i.slot != nil {
		*i.slot = nil
	}
	i.index = -1
}

// loadSegment opens segment index unless it is already open. The new
// segment's tombstones are positioned at their first fragment when forward
// is set, and at their last otherwise.
func (i *Iter) loadSegment(index int, forward bool) bool {
	if index == i.index && i.point != nil {
		return true
	}
	i.closeSegment()
	if index < 0 || index >= len(i.segments) {
		return false
	}
	s := &i.segments[index]
	point, tombstones, err := s.Open(&i.opts)
	if err != nil {
		i.err = errors.Wrapf(err, "levelrun: opening segment %s", errors.Safe(i.segmentName(index)))
		return false
	}
	i.index = index
	i.point = point
	if tombstones != nil {
		i.tombstones = keyspan.Truncate(i.cmp, tombstones, &s.Smallest, &s.Largest)
		if forward {
			i.tombstones.First()
		} else {
			i.tombstones.Last()
		}
	}
	if i.slot != nil {
		*i.slot = i.tombstones
	}
	return true
}

// beyondUpper is true if segment index starts at or after the upper bound.
func (i *Iter) beyondUpper(index int) bool {
	return i.opts.UpperBound != nil && i.cmp(i.segments[index].Smallest.UserKey, i.opts.UpperBound) >= 0
}

// beforeLower is true if segment index ends before the lower bound.
func (i *Iter) beforeLower(index int) bool {
	if i.opts.LowerBound == nil {
		return false
	}
	largest := i.segments[index].Largest
	c := i.cmp(largest.UserKey, i.opts.LowerBound)
	return c < 0 || (c == 0 && largest.IsExclusiveSentinel())
}

// settleForward is called once the open segment's point iterator is
// positioned. If it is exhausted, the iterator stops at the segment's
// sentinel when it has a tombstone slot, and otherwise moves on to the next
// segment.
func (i *Iter) settleForward() {
	for i.point != nil && !i.point.Valid() {
		if err := i.point.Error(); err != nil {
			return
		}
		if i.slot != nil {
			i.atSentinel = true
			i.sentinelForward = true
			return
		}
		if !i.nextSegment() {
			return
		}
	}
}

func (i *Iter) settleBackward() {
	for i.point != nil && !i.point.Valid() {
		if err := i.point.Error(); err != nil {
			return
		}
		if i.slot != nil {
			i.atSentinel = true
			i.sentinelForward = false
			return
		}
		if !i.prevSegment() {
			return
		}
	}
}

// nextSegment opens the segment after the current one and positions it at
// its first key.
func (i *Iter) nextSegment() bool {
	next := i.index + 1
	if next >= len(i.segments) || i.beyondUpper(next) {
		i.closeSegment()
		return false
	}
	if !i.loadSegment(next, true /* forward */) {
		return false
	}
	i.point.First()
	if base.IsTryAgain(i.point.Error()) {
		// Next and Prev never report ErrTryAgain; wait for the read.
		i.point.First()
	}
	return true
}

// prevSegment opens the segment before the current one and positions it at
// its last key.
func (i *Iter) prevSegment() bool {
	prev := i.index - 1
	if prev < 0 || i.beforeLower(prev) {
		i.closeSegment()
		return false
	}
	if !i.loadSegment(prev, false /* forward */) {
		return false
	}
	i.point.Last()
	if base.IsTryAgain(i.point.Error()) {
		// Next and Prev never report ErrTryAgain; wait for the read.
		i.point.Last()
	}
	return true
}

func (i *Iter) reset() {
	i.atSentinel = false
	i.err = nil
}

// SeekGE implements base.InternalIterator.SeekGE.
func (i *Iter) SeekGE(target base.InternalKey) {
	i.reset()
	if i.opts.LowerBound != nil && i.cmp(target.UserKey, i.opts.LowerBound) < 0 {
		target = base.MakeSearchKey(i.opts.LowerBound)
	}
	// Find the first segment whose largest key is >= target.
	idx := sort.Search(len(i.segments), func(j int) bool {
		return base.InternalCompare(i.cmp, i.segments[j].Largest, target) >= 0
	})
	if idx == len(i.segments) || i.beyondUpper(idx) {
		i.closeSegment()
		return
	}
	if !i.loadSegment(idx, true /* forward */) {
		return
	}
	i.point.SeekGE(target)
	i.settleForward()
}

// SeekLE implements base.InternalIterator.SeekLE.
func (i *Iter) SeekLE(target base.InternalKey) {
	i.reset()
	if i.opts.UpperBound != nil && i.cmp(target.UserKey, i.opts.UpperBound) >= 0 {
		target = base.MakeReverseSearchKey(i.opts.UpperBound)
	}
	// Find the last segment whose smallest key is <= target.
	idx := sort.Search(len(i.segments), func(j int) bool {
		return base.InternalCompare(i.cmp, i.segments[j].Smallest, target) > 0
	}) - 1
	if idx < 0 || i.beforeLower(idx) {
		i.closeSegment()
		return
	}
	if !i.loadSegment(idx, false /* forward */) {
		return
	}
	i.point.SeekLE(target)
	i.settleBackward()
}

// First implements base.InternalIterator.First.
func (i *Iter) First() {
	if i.opts.LowerBound != nil {
		i.SeekGE(base.MakeSearchKey(i.opts.LowerBound))
		return
	}
	i.reset()
	if len(i.segments) == 0 || i.beyondUpper(0) {
		i.closeSegment()
		return
	}
	if !i.loadSegment(0, true /* forward */) {
		return
	}
	i.point.First()
	i.settleForward()
}

// Last implements base.InternalIterator.Last.
func (i *Iter) Last() {
	if i.opts.UpperBound != nil {
		i.SeekLE(base.MakeReverseSearchKey(i.opts.UpperBound))
		return
	}
	i.reset()
	n := len(i.segments) - 1
	if n < 0 || i.beforeLower(n) {
		i.closeSegment()
		return
	}
	if !i.loadSegment(n, false /* forward */) {
		return
	}
	i.point.Last()
	i.settleBackward()
}

// Next implements base.InternalIterator.Next. Stepping off a sentinel opens
// the next segment.
func (i *Iter) Next() {
	if !i.Valid() {
		panic(errors.AssertionFailedf("levelrun: Next on an unpositioned iterator"))
	}
	if i.atSentinel {
		i.atSentinel = false
		if !i.nextSegment() {
			return
		}
	} else {
		i.point.Next()
	}
	i.settleForward()
}

// Prev implements base.InternalIterator.Prev. Stepping off a sentinel opens
// the previous segment.
func (i *Iter) Prev() {
	if !i.Valid() {
		panic(errors.AssertionFailedf("levelrun: Prev on an unpositioned iterator"))
	}
	if i.atSentinel {
		i.atSentinel = false
		if !i.prevSegment() {
			return
		}
	} else {
		i.point.Prev()
	}
	i.settleBackward()
}

// Valid implements base.InternalIterator.Valid.
func (i *Iter) Valid() bool {
	return i.point != nil && (i.atSentinel || i.point.Valid())
}

// IsBoundarySentinel implements base.SentinelIterator.
func (i *Iter) IsBoundarySentinel() bool {
	return i.atSentinel
}

// Key implements base.InternalIterator.Key. At a sentinel it returns the
// segment's largest key when moving forward and its smallest key when moving
// backward.
func (i *Iter) Key() base.InternalKey {
	if i.atSentinel {
		s := &i.segments[i.index]
		if i.sentinelForward {
			return s.Largest
		}
		return s.Smallest
	}
	return i.point.Key()
}

// PrepareValue implements base.InternalIterator.PrepareValue.
func (i *Iter) PrepareValue() bool {
	if i.atSentinel {
		return true
	}
	return i.point.PrepareValue()
}

// Value implements base.InternalIterator.Value. Sentinels have no value.
func (i *Iter) Value() []byte {
	if i.atSentinel {
		return nil
	}
	return i.point.Value()
}

// Error implements base.InternalIterator.Error.
func (i *Iter) Error() error {
	if i.err != nil {
		return i.err
	}
	if i.point != nil {
		return i.point.Error()
	}
	return nil
}

// MayBeOutOfLowerBound implements base.BoundChecker.
func (i *Iter) MayBeOutOfLowerBound() bool {
	if i.atSentinel || i.point == nil {
		return true
	}
	if bc, ok := i.point.(base.BoundChecker); ok {
		return bc.MayBeOutOfLowerBound()
	}
	return true
}

// UpperBoundCheckResult implements base.BoundChecker.
func (i *Iter) UpperBoundCheckResult() base.BoundCheckResult {
	if i.atSentinel || i.point == nil {
		return base.BoundCheckUnknown
	}
	if bc, ok := i.point.(base.BoundChecker); ok {
		return bc.UpperBoundCheckResult()
	}
	return base.BoundCheckUnknown
}

// Close implements base.InternalIterator.Close.
func (i *Iter) Close() error {
	i.closeSegment()
	i.atSentinel = false
	err := i.err
	if base.IsTryAgain(err) {
		err = nil
	}
	i.err = nil
	return err
}

func (i *Iter) segmentName(index int) string {
	if n := i.segments[index].Name; n != "" {
		return n
	}
	return fmt.Sprintf("#%d", index)
}

func (i *Iter) String() string {
	if i.index < 0 {
		return "level: segment=<nil>"
	}
	return fmt.Sprintf("level: segment=%s", i.segmentName(i.index))
}
