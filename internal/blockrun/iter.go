// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockrun

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
)

type valueHandle struct {
	block, offset, length uint64
}

type blockEntry struct {
	key    base.InternalKey
	inline bool
	value  []byte
	vh     valueHandle
}

func decodeDataBlock(b []byte, dst []blockEntry) ([]blockEntry, error) {
	dst = dst[:0]
	d := blockDecoder{buf: b}
	for !d.done() {
		e := blockEntry{key: d.internalKey()}
		switch d.readByte() {
		case valueInline:
			e.inline = true
			e.value = d.bytes()
		case valueInBlock:
			e.vh = valueHandle{block: d.uvarint(), offset: d.uvarint(), length: d.uvarint()}
		default:
			d.fail("value tag")
		}
		if d.err != nil {
			return dst[:0], d.err
		}
		dst = append(dst, e)
	}
	if len(dst) == 0 {
		return dst, base.CorruptionErrorf("blockrun: empty data block")
	}
	return dst, nil
}

// IterOptions configures a table iterator.
type IterOptions struct {
	// LowerBound and UpperBound restrict the iterator to user keys in
	// [LowerBound, UpperBound). Either may be nil.
	LowerBound, UpperBound []byte
}

// blockLoad is a data block being read on another goroutine.
type blockLoad struct {
	index int
	done  chan struct{}
	block []byte
	err   error
}

// Iter iterates over the point records of a table.
type Iter struct {
	t            *Table
	cmp          base.Compare
	lower, upper []byte

	blockIndex int
	entries    []blockEntry
	pos        int
	valid      bool

	value         []byte
	valuePrepared bool
	err           error

	load *blockLoad
}

var _ base.InternalIterator = (*Iter)(nil)
var _ base.BoundChecker = (*Iter)(nil)
var _ base.AsyncIterator = (*Iter)(nil)

// NewIter returns an iterator over the table's point records.
func (t *Table) NewIter(opts *IterOptions) *Iter {
	i := &Iter{t: t, cmp: t.comparer.Compare, blockIndex: -1}
	if opts != nil {
		i.lower = opts.LowerBound
		i.upper = opts.UpperBound
	}
	return i
}

func (i *Iter) setBlock(index int, b []byte) bool {
	entries, err := decodeDataBlock(b, i.entries)
	i.entries = entries
	if err != nil {
		i.err = errors.Wrapf(err, "blockrun: data block %d", errors.Safe(index))
		i.blockIndex = -1
		return false
	}
	i.blockIndex = index
	return true
}

// loadBlock makes the data block at index the current block, reading it
// synchronously if needed.
func (i *Iter) loadBlock(index int) bool {
	if i.blockIndex == index {
		return true
	}
	b, err := i.t.block(i.t.index[index].handle)
	if err != nil {
		i.err = err
		i.blockIndex = -1
		return false
	}
	return i.setBlock(index, b)
}

// loadBlockForSeek is loadBlock for positioning calls, which read blocks
// asynchronously when the table was opened with AsyncReads. A completed
// load of the same block is consumed; a load of another block is discarded.
func (i *Iter) loadBlockForSeek(index int) bool {
	if l := i.load; l != nil {
		<-l.done
		i.load = nil
		if l.index == index {
			if l.err != nil {
				i.err = l.err
				return false
			}
			return i.setBlock(index, l.block)
		}
	}
	if i.blockIndex == index || !i.t.async {
		return i.loadBlock(index)
	}
	h := i.t.index[index].handle
	if b, ok := i.t.cachedBlock(h); ok {
		return i.setBlock(index, b)
	}
	l := &blockLoad{index: index, done: make(chan struct{})}
	i.load = l
	go func() {
		defer close(l.done)
		l.block, l.err = i.t.block(h)
	}()
	i.err = base.ErrTryAgain
	return false
}

func (i *Iter) reset() {
	i.valid = false
	i.valuePrepared = false
	i.value = nil
	i.err = nil
}

func (i *Iter) checkUpper() {
	if i.upper != nil && i.cmp(i.entries[i.pos].key.UserKey, i.upper) >= 0 {
		i.valid = false
	}
}

func (i *Iter) checkLower() {
	if i.lower != nil && i.cmp(i.entries[i.pos].key.UserKey, i.lower) < 0 {
		i.valid = false
	}
}

// SeekGE implements base.InternalIterator.SeekGE.
func (i *Iter) SeekGE(target base.InternalKey) {
	i.reset()
	if i.lower != nil && i.cmp(target.UserKey, i.lower) < 0 {
		target = base.MakeSearchKey(i.lower)
	}
	index := i.t.index
	n := sort.Search(len(index), func(j int) bool {
		return base.InternalCompare(i.cmp, index[j].last, target) >= 0
	})
	if n == len(index) || !i.loadBlockForSeek(n) {
		return
	}
	i.pos = sort.Search(len(i.entries), func(j int) bool {
		return base.InternalCompare(i.cmp, i.entries[j].key, target) >= 0
	})
	if i.pos == len(i.entries) {
		i.err = base.CorruptionErrorf("blockrun: data block %d does not end with its index key", errors.Safe(n))
		return
	}
	i.valid = true
	i.checkUpper()
}

// SeekLE implements base.InternalIterator.SeekLE.
func (i *Iter) SeekLE(target base.InternalKey) {
	i.reset()
	if i.upper != nil && i.cmp(target.UserKey, i.upper) >= 0 {
		target = base.MakeReverseSearchKey(i.upper)
	}
	index := i.t.index
	n := sort.Search(len(index), func(j int) bool {
		return base.InternalCompare(i.cmp, index[j].first, target) > 0
	}) - 1
	if n < 0 || !i.loadBlockForSeek(n) {
		return
	}
	i.pos = sort.Search(len(i.entries), func(j int) bool {
		return base.InternalCompare(i.cmp, i.entries[j].key, target) > 0
	}) - 1
	if i.pos < 0 {
		i.err = base.CorruptionErrorf("blockrun: data block %d does not start with its index key", errors.Safe(n))
		return
	}
	i.valid = true
	i.checkLower()
}

// First implements base.InternalIterator.First.
func (i *Iter) First() {
	if i.lower != nil {
		i.SeekGE(base.MakeSearchKey(i.lower))
		return
	}
	i.reset()
	if len(i.t.index) == 0 || !i.loadBlockForSeek(0) {
		return
	}
	i.pos = 0
	i.valid = true
	i.checkUpper()
}

// Last implements base.InternalIterator.Last.
func (i *Iter) Last() {
	if i.upper != nil {
		i.SeekLE(base.MakeReverseSearchKey(i.upper))
		return
	}
	i.reset()
	n := len(i.t.index) - 1
	if n < 0 || !i.loadBlockForSeek(n) {
		return
	}
	i.pos = len(i.entries) - 1
	i.valid = true
	i.checkLower()
}

// Next implements base.InternalIterator.Next.
func (i *Iter) Next() {
	if !i.valid {
		panic(errors.AssertionFailedf("blockrun: Next on an unpositioned iterator"))
	}
	i.valuePrepared = false
	i.pos++
	if i.pos == len(i.entries) {
		if i.blockIndex+1 == len(i.t.index) || !i.loadBlock(i.blockIndex+1) {
			i.valid = false
			return
		}
		i.pos = 0
	}
	i.checkUpper()
}

// Prev implements base.InternalIterator.Prev.
func (i *Iter) Prev() {
	if !i.valid {
		panic(errors.AssertionFailedf("blockrun: Prev on an unpositioned iterator"))
	}
	i.valuePrepared = false
	i.pos--
	if i.pos < 0 {
		if i.blockIndex == 0 || !i.loadBlock(i.blockIndex-1) {
			i.valid = false
			return
		}
		i.pos = len(i.entries) - 1
	}
	i.checkLower()
}

// Valid implements base.InternalIterator.Valid.
func (i *Iter) Valid() bool { return i.valid }

// Key implements base.InternalIterator.Key.
func (i *Iter) Key() base.InternalKey { return i.entries[i.pos].key }

// PrepareValue implements base.InternalIterator.PrepareValue. Values stored
// in value blocks are read on first use.
func (i *Iter) PrepareValue() bool {
	if !i.valid {
		return false
	}
	if i.valuePrepared {
		return true
	}
	e := &i.entries[i.pos]
	if e.inline {
		i.value = e.value
		i.valuePrepared = true
		return true
	}
	if e.vh.block >= uint64(len(i.t.valueBlocks)) {
		i.err = base.CorruptionErrorf("blockrun: value block %d out of range", errors.Safe(e.vh.block))
		return false
	}
	b, err := i.t.block(i.t.valueBlocks[e.vh.block])
	if err != nil {
		i.err = err
		return false
	}
	if end := e.vh.offset + e.vh.length; end > uint64(len(b)) || end < e.vh.offset {
		i.err = base.CorruptionErrorf("blockrun: value %d/%d out of range of value block %d",
			errors.Safe(e.vh.offset), errors.Safe(e.vh.length), errors.Safe(e.vh.block))
		return false
	}
	i.value = b[e.vh.offset : e.vh.offset+e.vh.length]
	i.valuePrepared = true
	return true
}

// Value implements base.InternalIterator.Value.
func (i *Iter) Value() []byte { return i.value }

// Error implements base.InternalIterator.Error.
func (i *Iter) Error() error { return i.err }

// Close implements base.InternalIterator.Close. It waits for an outstanding
// asynchronous read.
func (i *Iter) Close() error {
	if i.load != nil {
		<-i.load.done
		i.load = nil
	}
	i.valid = false
	i.entries = nil
	if base.IsTryAgain(i.err) {
		return nil
	}
	return i.err
}

// MayTryAgain implements base.AsyncIterator. It is true for tables opened with
// AsyncReads.
func (i *Iter) MayTryAgain() bool { return i.t.async }

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

func (i *Iter) String() string { return i.t.String() }
