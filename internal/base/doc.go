// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package base defines fundamental types used across mergeiter: internal
// keys, comparers, and the iterator interfaces implemented by sorted runs and
// range tombstone sources.
//
// # Iterators
//
// The [InternalIterator] interface is implemented by every sorted run. It
// follows a "position then query" contract: positioning methods (SeekGE,
// SeekLE, First, Last, Next, Prev) return nothing, and callers consult Valid,
// Key and Error afterwards. A positioning call may leave the iterator invalid
// with Error() reporting [ErrTryAgain], meaning an asynchronous read was
// issued and the same call should be repeated later.
//
// Values are read in two phases. Key is always cheap once an iterator is
// positioned, while the bytes returned by Value are only guaranteed after
// PrepareValue has returned true. This lets a merging iterator compare keys
// from many runs without materializing the values of the runs it discards.
//
// The [TombstoneIterator] interface iterates over the non-overlapping range
// deletion fragments of one run, each carrying the sequence number of the
// newest tombstone covering it.
//
// Optional capabilities are expressed as separate interfaces, discovered with
// a type assertion: [SentinelIterator] for runs that span several physical
// segments, [BoundChecker] for runs that track iteration bounds, and
// [TombstoneSlotter] for runs that swap tombstone iterators as they move
// between segments.
package base
