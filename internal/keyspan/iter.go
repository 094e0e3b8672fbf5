// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package keyspan

import (
	"sort"

	"github.com/cockroachdb/mergeiter/internal/base"
)

// Iter is an iterator over a set of fragmented spans.
type Iter struct {
	cmp   base.Compare
	spans []Span
	index int
}

// Iter implements the base.TombstoneIterator interface.
var _ base.TombstoneIterator = (*Iter)(nil)

// NewIter returns a new iterator over a set of fragmented spans, as produced
// by Fragment.
func NewIter(cmp base.Compare, spans []Span) *Iter {
	i := &Iter{}
	i.Init(cmp, spans)
	return i
}

// Init initializes an Iter with the provided spans.
func (i *Iter) Init(cmp base.Compare, spans []Span) {
	*i = Iter{
		cmp:   cmp,
		spans: spans,
		index: -1,
	}
}

// SeekGE implements base.TombstoneIterator.SeekGE.
func (i *Iter) SeekGE(key []byte) {
	// NB: manually inlined sort.Search is ~5% faster.
	//
	// Define f(j) = key < spans[j].End
	// Define f(-1) == false and f(n) == true.
	// Invariant: f(index-1) == false, f(upper) == true.
	i.index = 0
	upper := len(i.spans)
	for i.index < upper {
		h := int(uint(i.index+upper) >> 1) // avoid overflow when computing h
		// i.index ≤ h < upper
		if i.cmp(key, i.spans[h].End) >= 0 {
			i.index = h + 1 // preserves f(i-1) == false
		} else {
			upper = h // preserves f(j) == true
		}
	}
	// i.index == upper, f(i.index-1) == false, and f(upper) (= f(i.index)) ==
	// true => answer is i.index.
}

// SeekLE implements base.TombstoneIterator.SeekLE.
func (i *Iter) SeekLE(key []byte) {
	i.index = sort.Search(len(i.spans), func(j int) bool {
		return i.cmp(key, i.spans[j].Start) < 0
	}) - 1
}

// First implements base.TombstoneIterator.First.
func (i *Iter) First() {
	i.index = 0
}

// Last implements base.TombstoneIterator.Last.
func (i *Iter) Last() {
	i.index = len(i.spans) - 1
}

// Next implements base.TombstoneIterator.Next.
func (i *Iter) Next() {
	if i.index < len(i.spans) {
		i.index++
	}
}

// Prev implements base.TombstoneIterator.Prev.
func (i *Iter) Prev() {
	if i.index >= 0 {
		i.index--
	}
}

// Valid implements base.TombstoneIterator.Valid.
func (i *Iter) Valid() bool {
	return i.index >= 0 && i.index < len(i.spans)
}

// Span returns the current fragment.
func (i *Iter) Span() Span {
	return i.spans[i.index]
}

// Start implements base.TombstoneIterator.Start.
func (i *Iter) Start() base.InternalKey {
	return base.MakeInternalKey(i.spans[i.index].Start, base.SeqNumMax, base.InternalKeyKindRangeDelete)
}

// End implements base.TombstoneIterator.End.
func (i *Iter) End() base.InternalKey {
	return base.MakeRangeDeleteSentinelKey(i.spans[i.index].End)
}

// SeqNum implements base.TombstoneIterator.SeqNum.
func (i *Iter) SeqNum() base.SeqNum {
	return i.spans[i.index].SeqNum
}

// Close implements base.TombstoneIterator.Close.
func (i *Iter) Close() error {
	return nil
}

func (i *Iter) String() string {
	return "fragmented-spans"
}
