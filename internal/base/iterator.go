// Copyright 2020 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "fmt"

// InternalIterator iterates over the internal keys of a sorted run in
// ascending order of the run's comparer.
//
// Positioning methods leave the iterator either positioned at a record, in
// which case Valid returns true, or unpositioned. An unpositioned iterator
// with a nil Error is exhausted. An unpositioned iterator whose Error is
// ErrTryAgain has issued an asynchronous read; the same positioning call
// should be repeated.
//
// Key is only meaningful while Valid. The returned slices are owned by the
// iterator and remain stable until the next positioning call.
type InternalIterator interface {
	// SeekGE moves the iterator to the first key that is greater than or equal
	// to the target.
	SeekGE(target InternalKey)
	// SeekLE moves the iterator to the last key that is less than or equal to
	// the target.
	SeekLE(target InternalKey)
	// First moves the iterator to the first key.
	First()
	// Last moves the iterator to the last key.
	Last()
	// Next moves the iterator to the next key. It must only be called while
	// the iterator is Valid.
	Next()
	// Prev moves the iterator to the previous key. It must only be called
	// while the iterator is Valid.
	Prev()

	// Valid returns true if the iterator is positioned at a key.
	Valid() bool
	// Key returns the current key.
	Key() InternalKey
	// PrepareValue makes the value of the current key available. It returns
	// false and sets Error if the fetch failed.
	PrepareValue() bool
	// Value returns the current value. It may only be called after a
	// successful PrepareValue at the current position.
	Value() []byte
	// Error returns any accumulated error.
	Error() error
	// Close closes the iterator and returns any accumulated error. It is
	// valid to call Close multiple times; other methods must not be called
	// after the first call to Close.
	Close() error

	fmt.Stringer
}

// SentinelIterator is implemented by iterators over runs split into several
// physical segments. When a segment's tombstones must be consulted before the
// iterator moves to the next segment, the iterator stops at a synthetic
// boundary key and IsBoundarySentinel reports true. Boundary keys are never
// returned to users of a merging iterator.
type SentinelIterator interface {
	InternalIterator
	IsBoundarySentinel() bool
}

// BoundCheckResult is the result of checking an iterator's position against
// its upper bound.
type BoundCheckResult uint8

const (
	// BoundCheckUnknown indicates the iterator did not check its bound.
	BoundCheckUnknown BoundCheckResult = iota
	// BoundCheckInbound indicates the current key is within the bound.
	BoundCheckInbound
	// BoundCheckOutOfBound indicates the current key is beyond the bound.
	BoundCheckOutOfBound
)

func (r BoundCheckResult) String() string {
	switch r {
	case BoundCheckInbound:
		return "inbound"
	case BoundCheckOutOfBound:
		return "out-of-bound"
	default:
		return "unknown"
	}
}

// BoundChecker is implemented by iterators that can answer bound checks for
// their current position.
type BoundChecker interface {
	// MayBeOutOfLowerBound returns false if the current key is known to be at
	// or above the lower bound.
	MayBeOutOfLowerBound() bool
	// UpperBoundCheckResult returns the result of comparing the current key
	// with the upper bound.
	UpperBoundCheckResult() BoundCheckResult
}

// TombstoneIterator iterates over the range deletion fragments of a single
// sorted run. Fragments are non-overlapping and ordered by start key. Each
// fragment deletes the keys of its run (and of every older run) in
// [Start().UserKey, End().UserKey) whose sequence number is lower than
// SeqNum().
type TombstoneIterator interface {
	// SeekGE moves to the first fragment whose end is greater than userKey.
	SeekGE(userKey []byte)
	// SeekLE moves to the last fragment whose start is less than or equal to
	// userKey.
	SeekLE(userKey []byte)
	// First moves to the first fragment.
	First()
	// Last moves to the last fragment.
	Last()
	// Next moves to the next fragment.
	Next()
	// Prev moves to the previous fragment.
	Prev()
	// Valid returns true if the iterator is positioned at a fragment.
	Valid() bool
	// Start returns the fragment's inclusive start key. Its sequence number is
	// SeqNumMax unless the fragment was truncated to a segment boundary.
	Start() InternalKey
	// End returns the fragment's exclusive end key. Its sequence number is
	// SeqNumMax unless the fragment was truncated to a segment boundary.
	End() InternalKey
	// SeqNum returns the sequence number of the fragment.
	SeqNum() SeqNum
	// Close releases the iterator's resources.
	Close() error
}

// AsyncIterator is implemented by iterators whose positioning calls may report
// ErrTryAgain. MayTryAgain returns false if the iterator never does.
type AsyncIterator interface {
	MayTryAgain() bool
}

// MayTryAgain returns true if iter implements AsyncIterator and may report
// ErrTryAgain.
func MayTryAgain(iter InternalIterator) bool {
	a, ok := iter.(AsyncIterator)
	return ok && a.MayTryAgain()
}

// TombstoneSlotter is implemented by iterators that change their tombstone
// iterator as they move between segments. The merging iterator hands the
// iterator a pointer to its level's tombstone slot; the iterator stores the
// current segment's tombstone iterator there (or nil) whenever it enters a
// segment, positioned at the first (forward) or last (reverse) fragment.
type TombstoneSlotter interface {
	SetTombstoneSlot(slot *TombstoneIterator)
}
