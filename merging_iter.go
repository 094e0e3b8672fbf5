// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package mergeiter

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/cockroachdb/mergeiter/internal/heap"
	"github.com/cockroachdb/mergeiter/internal/invariants"
)

type iterDir int8

const (
	dirForward iterDir = iota
	dirReverse
)

func (d iterDir) String() string {
	if d == dirReverse {
		return "reverse"
	}
	return "forward"
}

type mergingIterLevel struct {
	index int
	iter  iterWrapper
	// rangeDelIter is the level's range tombstone iterator, or nil if the
	// level has none. When the level's run is a TombstoneSlotter, the run
	// replaces rangeDelIter as it moves between segments.
	rangeDelIter base.TombstoneIterator
	// slotted is true when the run owns rangeDelIter.
	slotted bool

	point    heapItem
	boundary heapItem
}

type pendingOp uint8

const (
	pendingSeekGE pendingOp = iota
	pendingSeekLE
	pendingFirst
	pendingLast
	// pendingSwitchForward and pendingSwitchBackward step past the target
	// after seeking to it.
	pendingSwitchForward
	pendingSwitchBackward
)

// pendingSeek is a positioning call that reported ErrTryAgain and must be
// re-issued once every other level has been positioned.
type pendingSeek struct {
	level *mergingIterLevel
	op    pendingOp
	key   base.InternalKey
}

// MergingIter provides a merged view of multiple sorted runs, applying the
// range tombstones of each run to itself and to every run added after it.
//
// Runs are given in order of recency: the run at level 0 holds the newest
// data, and a range tombstone at level L deletes keys at levels >= L whose
// sequence number is lower than the tombstone's.
//
// The iterator keeps a single heap of run positions ordered by internal key.
// Scanning forward the heap is a min-heap and its top is the current key;
// scanning backward it is a max-heap. A range tombstone is represented in the
// heap by one of its endpoints: when scanning forward, its start key until it
// is reached and its end key afterwards. Levels whose start key has been
// popped but whose end key has not are "active": their tombstone covers the
// top of the heap.
//
// When a key at level L is at the top of the heap and the smallest active
// level i is < L, every key at levels >= L up to the end of level i's
// tombstone is deleted. Rather than popping them one at a time, those levels
// are re-sought to the tombstone's end key. This cascading seek is also
// applied by SeekGE and SeekLE: if the tombstone at level L covers the seek
// target, levels > L are sought to the tombstone's end (or start, in
// reverse).
//
// A MergingIter is not safe for concurrent use. It must not be used after
// Close.
type MergingIter struct {
	cmp        base.Compare
	equal      base.Equal
	formatKey  base.FormatKey
	abbreviate base.AbbreviatedKey
	logger     base.Logger
	metrics    *Metrics
	upper      []byte
	maxRetries int

	minLess func(a, b *heapItem) bool
	maxLess func(a, b *heapItem) bool

	levels []mergingIterLevel
	// hasTombstones is set if any level has, or may come to have, a range
	// tombstone iterator.
	hasTombstones bool

	heap    heap.Heap[*heapItem]
	dir     iterDir
	active  bitset.BitSet
	current *mergingIterLevel
	err     error
	pending []pendingSeek
	stats   IterStats

	lifecycle invariants.Lifecycle
}

var _ base.InternalIterator = (*MergingIter)(nil)
var _ base.BoundChecker = (*MergingIter)(nil)

var mergingIterPool = sync.Pool{
	New: func() interface{} {
		return &MergingIter{}
	},
}

// levelSpec describes a run added to a Builder.
type levelSpec struct {
	point     base.InternalIterator
	tombstone base.TombstoneIterator
	slotter   base.TombstoneSlotter
}

func newMergingIter(opts *Options, specs []levelSpec) *MergingIter {
	m := mergingIterPool.Get().(*MergingIter)
	m.init(opts, specs)
	return m
}

func (m *MergingIter) init(opts *Options, specs []levelSpec) {
	c := opts.Comparer
	if invariants.Enabled && c.AbbreviatedKey != nil {
		checked := base.MakeAssertComparer(*c)
		c = &checked
	}
	m.cmp = c.Compare
	m.equal = c.Equal
	m.formatKey = c.FormatKey
	m.abbreviate = nil
	if c.Ordering != base.OrderingCustom && !opts.DisableKeyPrefixCache {
		m.abbreviate = c.AbbreviatedKey
	}
	m.logger = opts.Logger
	m.metrics = opts.Metrics
	m.upper = opts.UpperBound
	m.maxRetries = opts.MaxSeekRetries

	compare := makeItemCompare(c)
	m.minLess = func(a, b *heapItem) bool { return compare(a, b) > 0 }
	m.maxLess = func(a, b *heapItem) bool { return compare(a, b) < 0 }

	if cap(m.levels) >= len(specs) {
		m.levels = m.levels[:len(specs)]
	} else {
		m.levels = make([]mergingIterLevel, len(specs))
	}
	m.hasTombstones = false
	items := 0
	for i := range specs {
		l := &m.levels[i]
		*l = mergingIterLevel{index: i}
		l.iter.set(specs[i].point)
		l.rangeDelIter = specs[i].tombstone
		l.point = heapItem{kind: heapItemPoint, level: l, key: &l.iter.key}
		l.boundary = heapItem{kind: heapItemTombstoneStart, level: l}
		l.boundary.key = &l.boundary.tombstoneKey
		items++
		if specs[i].slotter != nil {
			l.slotted = true
			specs[i].slotter.SetTombstoneSlot(&l.rangeDelIter)
		}
		if l.rangeDelIter != nil || l.slotted {
			m.hasTombstones = true
			items++
		}
	}
	m.heap.Init(m.minLess)
	m.heap.Reserve(items)
	m.heap.ResetComparisons()
	m.dir = dirForward
	m.active.ClearAll()
	m.current = nil
	m.err = nil
	m.pending = m.pending[:0]
	m.stats = IterStats{}
	m.lifecycle.Open("merging iterator")
}

func (m *MergingIter) refreshPrefix(item *heapItem) {
	if m.abbreviate != nil {
		item.prefix = m.abbreviate(item.key.UserKey)
	}
}

func (m *MergingIter) keyEqual(a, b base.InternalKey) bool {
	return a.Trailer == b.Trailer && m.equal(a.UserKey, b.UserKey)
}

// considerErr records the first error reported by a run.
func (m *MergingIter) considerErr(l *mergingIterLevel, err error) {
	if err == nil || m.err != nil {
		return
	}
	m.err = err
	m.logger.Errorf("mergeiter: level %d: %v", l.index, err)
}

// pushPoint adds the level's current position to the heap, or records why it
// has none.
func (m *MergingIter) pushPoint(l *mergingIterLevel) {
	if l.iter.Valid() {
		m.refreshPrefix(&l.point)
		m.heap.Push(&l.point)
		return
	}
	m.considerErr(l, l.iter.Error())
}

// removeBoundary removes the level's tombstone endpoint from the heap if it
// is present, deactivating the level.
func (m *MergingIter) removeBoundary(l *mergingIterLevel) {
	for i, item := range m.heap.Items() {
		if item == &l.boundary {
			m.heap.Remove(i)
			m.active.Clear(uint(l.index))
			return
		}
	}
}

// addPending records a positioning call that must be re-issued.
func (m *MergingIter) addPending(l *mergingIterLevel, op pendingOp, key base.InternalKey) {
	m.pending = append(m.pending, pendingSeek{level: l, op: op, key: key.Clone()})
}

// retryPending re-issues the positioning calls that reported ErrTryAgain and
// adds the resulting positions to the heap. A level that is still not ready
// after maxRetries attempts surfaces its error.
func (m *MergingIter) retryPending() {
	for attempt := 0; len(m.pending) > 0; attempt++ {
		if attempt >= m.maxRetries {
			for _, p := range m.pending {
				m.considerErr(p.level, errors.Wrapf(p.level.iter.Error(),
					"mergeiter: seek still pending after %d retries", errors.Safe(m.maxRetries)))
			}
			m.pending = m.pending[:0]
			return
		}
		remaining := m.pending[:0]
		for _, p := range m.pending {
			m.stats.AsyncSeeks++
			l := p.level
			switch p.op {
			case pendingSeekGE, pendingSwitchForward:
				l.iter.SeekGE(p.key)
			case pendingSeekLE, pendingSwitchBackward:
				l.iter.SeekLE(p.key)
			case pendingFirst:
				l.iter.First()
			case pendingLast:
				l.iter.Last()
			}
			if base.IsTryAgain(l.iter.Error()) {
				remaining = append(remaining, p)
				continue
			}
			if l.iter.Valid() && m.keyEqual(p.key, *l.iter.Key()) {
				switch p.op {
				case pendingSwitchForward:
					l.iter.Next()
				case pendingSwitchBackward:
					l.iter.Prev()
				}
			}
			m.pushPoint(l)
		}
		m.pending = remaining
	}
}

// insertTombstoneToMinHeap inserts the start or end key of the level's
// current tombstone into the forward heap, replacing the top if replaceTop.
// Inserting the end key activates the level. Start keys at or beyond the
// upper bound are not inserted.
func (m *MergingIter) insertTombstoneToMinHeap(l *mergingIterLevel, startKey, replaceTop bool) {
	t := l.rangeDelIter
	if startKey {
		start := t.Start()
		if m.upper != nil && m.cmp(start.UserKey, m.upper) >= 0 {
			if replaceTop {
				m.heap.Pop()
			}
			return
		}
		if invariants.Enabled && m.active.Test(uint(l.index)) {
			panic(errors.AssertionFailedf("mergeiter: inserting start key of active level %d", l.index))
		}
		l.boundary.setTombstoneKey(heapItemTombstoneStart, start)
	} else {
		l.boundary.setTombstoneKey(heapItemTombstoneEnd, t.End())
		m.active.Set(uint(l.index))
	}
	m.refreshPrefix(&l.boundary)
	if replaceTop {
		m.heap.ReplaceTop(&l.boundary)
	} else {
		m.heap.Push(&l.boundary)
	}
}

// insertTombstoneToMaxHeap inserts the end or start key of the level's
// current tombstone into the reverse heap, replacing the top if replaceTop.
// Inserting the start key activates the level.
func (m *MergingIter) insertTombstoneToMaxHeap(l *mergingIterLevel, endKey, replaceTop bool) {
	t := l.rangeDelIter
	if endKey {
		if invariants.Enabled && m.active.Test(uint(l.index)) {
			panic(errors.AssertionFailedf("mergeiter: inserting end key of active level %d", l.index))
		}
		l.boundary.setTombstoneKey(heapItemTombstoneEnd, t.End())
	} else {
		l.boundary.setTombstoneKey(heapItemTombstoneStart, t.Start())
		m.active.Set(uint(l.index))
	}
	m.refreshPrefix(&l.boundary)
	if replaceTop {
		m.heap.ReplaceTop(&l.boundary)
	} else {
		m.heap.Push(&l.boundary)
	}
}

// popDeleteRangeStart replaces every start key at the top of the forward heap
// with the corresponding end key.
func (m *MergingIter) popDeleteRangeStart() {
	for !m.heap.Empty() && m.heap.Top().kind == heapItemTombstoneStart {
		m.insertTombstoneToMinHeap(m.heap.Top().level, false /* startKey */, true /* replaceTop */)
	}
}

// popDeleteRangeEnd replaces every end key at the top of the reverse heap
// with the corresponding start key.
func (m *MergingIter) popDeleteRangeEnd() {
	for !m.heap.Empty() && m.heap.Top().kind == heapItemTombstoneEnd {
		m.insertTombstoneToMaxHeap(m.heap.Top().level, false /* endKey */, true /* replaceTop */)
	}
}

// seekGE positions levels >= startingLevel at the first key >= target and
// rebuilds the forward heap, keeping the positions of the levels above
// startingLevel. If a level's tombstone covers the search key, the levels
// after it are sought to the tombstone's end key instead.
func (m *MergingIter) seekGE(target base.InternalKey, startingLevel int, rangeDelReseek bool) {
	m.heap.Init(m.minLess)
	for i := 0; i < startingLevel; i++ {
		m.pushPoint(&m.levels[i])
	}
	if m.hasTombstones {
		for i := 0; i < startingLevel; i++ {
			l := &m.levels[i]
			if l.rangeDelIter == nil || !l.rangeDelIter.Valid() {
				continue
			}
			if m.active.Test(uint(i)) {
				if invariants.Enabled && l.boundary.kind != heapItemTombstoneEnd {
					panic(errors.AssertionFailedf("mergeiter: active level %d has a %s endpoint", i, l.boundary.kind))
				}
				m.heap.Push(&l.boundary)
			} else {
				m.insertTombstoneToMinHeap(l, true /* startKey */, false /* replaceTop */)
			}
		}
		for i, ok := m.active.NextSet(uint(startingLevel)); ok; i, ok = m.active.NextSet(i + 1) {
			m.active.Clear(i)
		}
	}

	searchKey := target
	m.pending = m.pending[:0]
	for i := startingLevel; i < len(m.levels); i++ {
		l := &m.levels[i]
		l.iter.SeekGE(searchKey)
		m.stats.ChildSeeks++
		if rangeDelReseek {
			m.stats.RangeDelReseeks++
		}
		tryAgain := base.IsTryAgain(l.iter.Error())
		if tryAgain {
			m.addPending(l, pendingSeekGE, searchKey)
		}
		if t := l.rangeDelIter; t != nil {
			t.SeekGE(searchKey.UserKey)
			if t.Valid() {
				start := t.Start()
				m.insertTombstoneToMinHeap(l, base.InternalCompare(m.cmp, start, searchKey) > 0, false)
				if m.cmp(start.UserKey, searchKey.UserKey) <= 0 {
					// The tombstone covers the search key. Older levels have
					// nothing visible before its end. The end key stays valid
					// as level i's tombstone iterator is not moved again.
					// A truncated end may share the target's user key; the
					// search key never moves backward.
					rangeDelReseek = true
					if k := base.MakeSearchKey(t.End().UserKey); base.InternalCompare(m.cmp, k, searchKey) > 0 {
						searchKey = k
					}
				}
			}
		}
		if tryAgain {
			continue
		}
		m.pushPoint(l)
	}
	m.retryPending()
}

// seekLE is the reverse counterpart of seekGE. Levels after one whose
// tombstone covers the search key are sought to just before the tombstone's
// start key.
func (m *MergingIter) seekLE(target base.InternalKey, startingLevel int, rangeDelReseek bool) {
	m.heap.Init(m.maxLess)
	for i := 0; i < startingLevel; i++ {
		m.pushPoint(&m.levels[i])
	}
	if m.hasTombstones {
		for i := 0; i < startingLevel; i++ {
			l := &m.levels[i]
			if l.rangeDelIter == nil || !l.rangeDelIter.Valid() {
				continue
			}
			if invariants.Enabled && m.active.Test(uint(i)) && l.boundary.kind != heapItemTombstoneStart {
				panic(errors.AssertionFailedf("mergeiter: active level %d has a %s endpoint", i, l.boundary.kind))
			}
			m.heap.Push(&l.boundary)
		}
		for i, ok := m.active.NextSet(uint(startingLevel)); ok; i, ok = m.active.NextSet(i + 1) {
			m.active.Clear(i)
		}
	}

	searchKey := target
	m.pending = m.pending[:0]
	for i := startingLevel; i < len(m.levels); i++ {
		l := &m.levels[i]
		l.iter.SeekLE(searchKey)
		m.stats.ChildSeeks++
		if rangeDelReseek {
			m.stats.RangeDelReseeks++
		}
		tryAgain := base.IsTryAgain(l.iter.Error())
		if tryAgain {
			m.addPending(l, pendingSeekLE, searchKey)
		}
		if t := l.rangeDelIter; t != nil {
			t.SeekLE(searchKey.UserKey)
			if t.Valid() {
				end := t.End()
				m.insertTombstoneToMaxHeap(l, base.InternalCompare(m.cmp, end, searchKey) <= 0, false)
				if m.cmp(searchKey.UserKey, end.UserKey) < 0 {
					rangeDelReseek = true
					if k := base.MakeReverseSearchKey(t.Start().UserKey); base.InternalCompare(m.cmp, k, searchKey) < 0 {
						searchKey = k
					}
				}
			}
		}
		if tryAgain {
			continue
		}
		m.pushPoint(l)
	}
	m.retryPending()
}

// skipNextDeleted handles the top of the forward heap when it may not be a
// visible key. It returns false if the top is a visible point key.
func (m *MergingIter) skipNextDeleted() bool {
	top := m.heap.Top()
	l := top.level
	if top.kind == heapItemTombstoneEnd {
		// The tombstone no longer covers the position.
		m.active.Clear(uint(l.index))
		l.rangeDelIter.Next()
		if l.rangeDelIter.Valid() {
			m.insertTombstoneToMinHeap(l, true /* startKey */, true /* replaceTop */)
		} else {
			m.heap.Pop()
		}
		return true
	}
	if invariants.Enabled && top.kind != heapItemPoint {
		panic(errors.AssertionFailedf("mergeiter: unexpected %s endpoint at top of forward heap", top.kind))
	}
	if l.iter.IsBoundarySentinel() {
		// The run is leaving a segment. The segment's tombstones do not apply
		// past the boundary.
		m.heap.Pop()
		m.removeBoundary(l)
		l.iter.Next()
		m.pushPoint(l)
		if t := l.rangeDelIter; t != nil && t.Valid() {
			m.insertTombstoneToMinHeap(l, true /* startKey */, false /* replaceTop */)
		}
		return true
	}
	i, ok := m.active.NextSet(0)
	if !ok {
		return false
	}
	switch {
	case int(i) < l.index:
		// A newer level's tombstone covers the key and everything in levels
		// >= l.index up to its end.
		m.seekGE(m.levels[i].rangeDelIter.End(), l.index, true /* rangeDelReseek */)
		return true
	case int(i) == l.index:
		if l.iter.Key().SeqNum() < l.rangeDelIter.SeqNum() {
			l.iter.Next()
			if l.iter.Valid() {
				m.refreshPrefix(&l.point)
				m.heap.UpdateTop()
			} else {
				m.considerErr(l, l.iter.Error())
				m.heap.Pop()
			}
			return true
		}
	}
	return false
}

// skipPrevDeleted is the reverse counterpart of skipNextDeleted.
func (m *MergingIter) skipPrevDeleted() bool {
	top := m.heap.Top()
	l := top.level
	if top.kind == heapItemTombstoneStart {
		m.active.Clear(uint(l.index))
		l.rangeDelIter.Prev()
		if l.rangeDelIter.Valid() {
			m.insertTombstoneToMaxHeap(l, true /* endKey */, true /* replaceTop */)
		} else {
			m.heap.Pop()
		}
		return true
	}
	if invariants.Enabled && top.kind != heapItemPoint {
		panic(errors.AssertionFailedf("mergeiter: unexpected %s endpoint at top of reverse heap", top.kind))
	}
	if l.iter.IsBoundarySentinel() {
		m.heap.Pop()
		m.removeBoundary(l)
		l.iter.Prev()
		m.pushPoint(l)
		if t := l.rangeDelIter; t != nil && t.Valid() {
			m.insertTombstoneToMaxHeap(l, true /* endKey */, false /* replaceTop */)
		}
		return true
	}
	i, ok := m.active.NextSet(0)
	if !ok {
		return false
	}
	switch {
	case int(i) < l.index:
		// Levels after i have nothing visible at or after the tombstone's
		// start.
		m.seekLE(m.levels[i].rangeDelIter.Start(), int(i)+1, true /* rangeDelReseek */)
		return true
	case int(i) == l.index:
		if l.iter.Key().SeqNum() < l.rangeDelIter.SeqNum() {
			l.iter.Prev()
			if l.iter.Valid() {
				m.refreshPrefix(&l.point)
				m.heap.UpdateTop()
			} else {
				m.considerErr(l, l.iter.Error())
				m.heap.Pop()
			}
			return true
		}
	}
	return false
}

// findNextVisibleKey advances past tombstone endpoints, boundary sentinels
// and deleted keys until the top of the forward heap is a visible key or the
// heap is empty.
func (m *MergingIter) findNextVisibleKey() {
	if !m.hasTombstones {
		return
	}
	m.popDeleteRangeStart()
	for !m.heap.Empty() && (m.active.Any() || m.heap.Top().isSentinel()) && m.skipNextDeleted() {
		m.popDeleteRangeStart()
	}
}

// findPrevVisibleKey is the reverse counterpart of findNextVisibleKey.
func (m *MergingIter) findPrevVisibleKey() {
	if !m.hasTombstones {
		return
	}
	m.popDeleteRangeEnd()
	for !m.heap.Empty() && (m.active.Any() || m.heap.Top().isSentinel()) && m.skipPrevDeleted() {
		m.popDeleteRangeEnd()
	}
}

func (m *MergingIter) currentTop() *mergingIterLevel {
	if m.heap.Empty() {
		return nil
	}
	top := m.heap.Top()
	if invariants.Enabled && top.kind != heapItemPoint {
		panic(errors.AssertionFailedf("mergeiter: %s endpoint at top of %s heap", top.kind, m.dir))
	}
	return top.level
}

// switchToForward repositions every level other than the current one after
// the current key, and every tombstone iterator at the first tombstone ending
// after it, then rebuilds the forward heap.
func (m *MergingIter) switchToForward() {
	m.heap.Init(m.minLess)
	m.active.ClearAll()
	target := *m.current.iter.Key()
	m.pending = m.pending[:0]
	for i := range m.levels {
		l := &m.levels[i]
		if l != m.current {
			l.iter.SeekGE(target)
			m.stats.ChildSeeks++
			if base.IsTryAgain(l.iter.Error()) {
				m.addPending(l, pendingSwitchForward, target)
				continue
			}
			if l.iter.Valid() && m.keyEqual(target, *l.iter.Key()) {
				l.iter.Next()
			}
		}
		m.pushPoint(l)
	}
	m.retryPending()

	if m.hasTombstones {
		for i := range m.levels {
			l := &m.levels[i]
			t := l.rangeDelIter
			if t == nil {
				continue
			}
			t.SeekGE(target.UserKey)
			for t.Valid() && base.InternalCompare(m.cmp, t.End(), target) <= 0 {
				t.Next()
			}
			if t.Valid() {
				m.insertTombstoneToMinHeap(l, base.InternalCompare(m.cmp, t.Start(), target) > 0, false)
			}
		}
	}
	m.dir = dirForward
}

// switchToBackward is the reverse counterpart of switchToForward.
func (m *MergingIter) switchToBackward() {
	m.heap.Init(m.maxLess)
	m.active.ClearAll()
	target := *m.current.iter.Key()
	m.pending = m.pending[:0]
	for i := range m.levels {
		l := &m.levels[i]
		if l != m.current {
			l.iter.SeekLE(target)
			m.stats.ChildSeeks++
			if base.IsTryAgain(l.iter.Error()) {
				m.addPending(l, pendingSwitchBackward, target)
				continue
			}
			if l.iter.Valid() && m.keyEqual(target, *l.iter.Key()) {
				l.iter.Prev()
			}
		}
		m.pushPoint(l)
	}
	m.retryPending()

	if m.hasTombstones {
		for i := range m.levels {
			l := &m.levels[i]
			t := l.rangeDelIter
			if t == nil {
				continue
			}
			t.SeekLE(target.UserKey)
			for t.Valid() && base.InternalCompare(m.cmp, t.Start(), target) > 0 {
				t.Prev()
			}
			if t.Valid() {
				m.insertTombstoneToMaxHeap(l, base.InternalCompare(m.cmp, t.End(), target) <= 0, false)
			}
		}
	}
	m.dir = dirReverse
	m.current = m.currentTop()
}

// SeekGE implements base.InternalIterator.SeekGE.
func (m *MergingIter) SeekGE(target base.InternalKey) {
	m.lifecycle.AssertOpen()
	start := crtime.NowMono()
	m.err = nil
	m.active.ClearAll()
	m.seekGE(target, 0 /* startingLevel */, false /* rangeDelReseek */)
	m.findNextVisibleKey()
	m.dir = dirForward
	m.current = m.currentTop()
	m.stats.ForwardSeekDuration += start.Elapsed()
}

// SeekLE implements base.InternalIterator.SeekLE.
func (m *MergingIter) SeekLE(target base.InternalKey) {
	m.lifecycle.AssertOpen()
	start := crtime.NowMono()
	m.err = nil
	m.active.ClearAll()
	m.seekLE(target, 0 /* startingLevel */, false /* rangeDelReseek */)
	m.findPrevVisibleKey()
	m.dir = dirReverse
	m.current = m.currentTop()
	m.stats.ReverseSeekDuration += start.Elapsed()
}

// First implements base.InternalIterator.First.
func (m *MergingIter) First() {
	m.lifecycle.AssertOpen()
	start := crtime.NowMono()
	m.err = nil
	m.heap.Init(m.minLess)
	m.active.ClearAll()
	m.pending = m.pending[:0]
	for i := range m.levels {
		l := &m.levels[i]
		l.iter.First()
		m.stats.ChildSeeks++
		if base.IsTryAgain(l.iter.Error()) {
			m.addPending(l, pendingFirst, base.InternalKey{})
			continue
		}
		m.pushPoint(l)
	}
	m.retryPending()
	for i := range m.levels {
		l := &m.levels[i]
		if t := l.rangeDelIter; t != nil {
			t.First()
			if t.Valid() {
				m.insertTombstoneToMinHeap(l, true /* startKey */, false /* replaceTop */)
			}
		}
	}
	m.findNextVisibleKey()
	m.dir = dirForward
	m.current = m.currentTop()
	m.stats.ForwardSeekDuration += start.Elapsed()
}

// Last implements base.InternalIterator.Last.
func (m *MergingIter) Last() {
	m.lifecycle.AssertOpen()
	start := crtime.NowMono()
	m.err = nil
	m.heap.Init(m.maxLess)
	m.active.ClearAll()
	m.pending = m.pending[:0]
	for i := range m.levels {
		l := &m.levels[i]
		l.iter.Last()
		m.stats.ChildSeeks++
		if base.IsTryAgain(l.iter.Error()) {
			m.addPending(l, pendingLast, base.InternalKey{})
			continue
		}
		m.pushPoint(l)
	}
	m.retryPending()
	for i := range m.levels {
		l := &m.levels[i]
		if t := l.rangeDelIter; t != nil {
			t.Last()
			if t.Valid() {
				m.insertTombstoneToMaxHeap(l, true /* endKey */, false /* replaceTop */)
			}
		}
	}
	m.findPrevVisibleKey()
	m.dir = dirReverse
	m.current = m.currentTop()
	m.stats.ReverseSeekDuration += start.Elapsed()
}

// Next implements base.InternalIterator.Next.
func (m *MergingIter) Next() {
	if m.current == nil {
		panic(errors.AssertionFailedf("mergeiter: Next called on an unpositioned iterator"))
	}
	if m.err != nil {
		return
	}
	if m.dir != dirForward {
		m.switchToForward()
	}
	l := m.current
	if invariants.Enabled && m.heap.Top() != &l.point {
		panic(errors.AssertionFailedf("mergeiter: current level %d is not at the top of the heap", l.index))
	}
	l.iter.Next()
	if l.iter.Valid() {
		m.refreshPrefix(&l.point)
		m.heap.UpdateTop()
	} else {
		m.considerErr(l, l.iter.Error())
		m.heap.Pop()
	}
	m.findNextVisibleKey()
	m.current = m.currentTop()
}

// Prev implements base.InternalIterator.Prev.
func (m *MergingIter) Prev() {
	if m.current == nil {
		panic(errors.AssertionFailedf("mergeiter: Prev called on an unpositioned iterator"))
	}
	if m.err != nil {
		return
	}
	if m.dir != dirReverse {
		m.switchToBackward()
	}
	l := m.current
	if invariants.Enabled && m.heap.Top() != &l.point {
		panic(errors.AssertionFailedf("mergeiter: current level %d is not at the top of the heap", l.index))
	}
	l.iter.Prev()
	if l.iter.Valid() {
		m.refreshPrefix(&l.point)
		m.heap.UpdateTop()
	} else {
		m.considerErr(l, l.iter.Error())
		m.heap.Pop()
	}
	m.findPrevVisibleKey()
	m.current = m.currentTop()
}

// Valid implements base.InternalIterator.Valid.
func (m *MergingIter) Valid() bool {
	return m.current != nil && m.err == nil
}

// Key implements base.InternalIterator.Key.
func (m *MergingIter) Key() base.InternalKey {
	if m.current == nil {
		return base.InternalKey{}
	}
	return *m.current.iter.Key()
}

// PrepareValue implements base.InternalIterator.PrepareValue.
func (m *MergingIter) PrepareValue() bool {
	if m.current == nil {
		return false
	}
	if m.current.iter.PrepareValue() {
		return true
	}
	m.considerErr(m.current, m.current.iter.Error())
	return false
}

// Value implements base.InternalIterator.Value.
func (m *MergingIter) Value() []byte {
	return m.current.iter.Value()
}

// Error implements base.InternalIterator.Error. It returns the first error
// reported by any run since the last SeekGE, SeekLE, First or Last.
func (m *MergingIter) Error() error {
	return m.err
}

// MayBeOutOfLowerBound implements base.BoundChecker by relaying the current
// run's answer.
func (m *MergingIter) MayBeOutOfLowerBound() bool {
	if m.current == nil {
		return true
	}
	return m.current.iter.MayBeOutOfLowerBound()
}

// UpperBoundCheckResult implements base.BoundChecker by relaying the current
// run's answer.
func (m *MergingIter) UpperBoundCheckResult() base.BoundCheckResult {
	if m.current == nil {
		return base.BoundCheckUnknown
	}
	return m.current.iter.UpperBoundCheckResult()
}

// SetUpperBound changes the upper bound applied to range tombstone start keys.
// It takes effect at the next positioning call that inserts tombstones.
func (m *MergingIter) SetUpperBound(upper []byte) {
	m.upper = upper
}

// UpperBound returns the current upper bound.
func (m *MergingIter) UpperBound() []byte {
	return m.upper
}

// Stats returns the iterator's statistics.
func (m *MergingIter) Stats() IterStats {
	s := m.stats
	s.HeapComparisons = int64(m.heap.Comparisons())
	return s
}

// ResetStats zeroes the iterator's statistics.
func (m *MergingIter) ResetStats() {
	m.stats = IterStats{}
	m.heap.ResetComparisons()
}

// Close implements base.InternalIterator.Close. It closes every run and every
// tombstone iterator not owned by its run, and returns the first error
// encountered. The iterator is returned to a pool and must not be used
// afterwards.
func (m *MergingIter) Close() error {
	m.lifecycle.Close()
	err := m.err
	for i := range m.levels {
		l := &m.levels[i]
		if cerr := l.iter.Close(); err == nil {
			err = cerr
		}
		if l.rangeDelIter != nil && !l.slotted {
			if cerr := l.rangeDelIter.Close(); err == nil {
				err = cerr
			}
		}
		*l = mergingIterLevel{}
	}
	if m.metrics != nil {
		stats := m.Stats()
		m.metrics.record(&stats)
	}
	m.heap.Clear()
	m.current = nil
	m.logger = nil
	m.metrics = nil
	m.upper = nil
	m.pending = m.pending[:0]
	mergingIterPool.Put(m)
	return err
}

// String implements fmt.Stringer.
func (m *MergingIter) String() string {
	return "merging"
}

// DebugString returns the iterator's direction, active levels and heap, for
// tests and debugging.
func (m *MergingIter) DebugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "dir=%s active=[", m.dir)
	sep := ""
	for i, ok := m.active.NextSet(0); ok; i, ok = m.active.NextSet(i + 1) {
		fmt.Fprintf(&buf, "%s%d", sep, i)
		sep = " "
	}
	buf.WriteString("] heap=[")
	// Pop order on a copy of the heap shows the order items would surface.
	var h heap.Heap[*heapItem]
	if m.dir == dirForward {
		h.Init(m.minLess)
	} else {
		h.Init(m.maxLess)
	}
	for _, item := range m.heap.Items() {
		h.Push(item)
	}
	sep = ""
	for !h.Empty() {
		item := h.Pop()
		fmt.Fprintf(&buf, "%sL%d:%s:%s", sep, item.level.index, item.kind, item.key.Pretty(m.formatKey))
		sep = " "
	}
	buf.WriteString("]")
	return buf.String()
}
