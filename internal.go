// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package mergeiter

import "github.com/cockroachdb/mergeiter/internal/base"

// SeqNum exports the base.SeqNum type.
type SeqNum = base.SeqNum

// SeqNumMax exports the base.SeqNumMax constant.
const SeqNumMax = base.SeqNumMax

// InternalKeyKind exports the base.InternalKeyKind type.
type InternalKeyKind = base.InternalKeyKind

// These constants are part of the key encoding, and should not be changed.
const (
	InternalKeyKindDelete       = base.InternalKeyKindDelete
	InternalKeyKindSet          = base.InternalKeyKindSet
	InternalKeyKindMerge        = base.InternalKeyKindMerge
	InternalKeyKindSingleDelete = base.InternalKeyKindSingleDelete
	InternalKeyKindRangeDelete  = base.InternalKeyKindRangeDelete
	InternalKeyKindMax          = base.InternalKeyKindMax
	InternalKeyKindInvalid      = base.InternalKeyKindInvalid
)

// InternalKeyTrailer exports the base.InternalKeyTrailer type.
type InternalKeyTrailer = base.InternalKeyTrailer

// InternalKey exports the base.InternalKey type.
type InternalKey = base.InternalKey

// MakeInternalKey constructs an internal key from a specified user key,
// sequence number and kind.
func MakeInternalKey(userKey []byte, seqNum SeqNum, kind InternalKeyKind) InternalKey {
	return base.MakeInternalKey(userKey, seqNum, kind)
}

// MakeSearchKey constructs an internal key that sorts before every other
// internal key with the same user key.
func MakeSearchKey(userKey []byte) InternalKey {
	return base.MakeSearchKey(userKey)
}

// InternalIterator exports the base.InternalIterator type.
type InternalIterator = base.InternalIterator

// TombstoneIterator exports the base.TombstoneIterator type.
type TombstoneIterator = base.TombstoneIterator

// SentinelIterator exports the base.SentinelIterator type.
type SentinelIterator = base.SentinelIterator

// TombstoneSlotter exports the base.TombstoneSlotter type.
type TombstoneSlotter = base.TombstoneSlotter

// BoundCheckResult exports the base.BoundCheckResult type.
type BoundCheckResult = base.BoundCheckResult

// Comparer exports the base.Comparer type.
type Comparer = base.Comparer

// DefaultComparer exports the base.DefaultComparer variable.
var DefaultComparer = base.DefaultComparer

// ReverseComparer exports the base.ReverseComparer variable.
var ReverseComparer = base.ReverseComparer

// Logger exports the base.Logger type.
type Logger = base.Logger

// ErrTryAgain is reported by a run whose positioning call started an
// asynchronous read. A merging iterator never reports it unless a run keeps
// reporting it after Options.MaxSeekRetries retries.
var ErrTryAgain = base.ErrTryAgain

// ErrCorruption is a marker to indicate that data in a run isn't in the
// expected format.
var ErrCorruption = base.ErrCorruption
