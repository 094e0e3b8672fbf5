// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base // import "github.com/cockroachdb/mergeiter/internal/base"

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/cockroachdb/redact"
)

// SeqNum orders the versions of a user key: the version with the higher
// sequence number is newer. It occupies the upper 56 bits of a key trailer.
//
// Point records of a user key carry distinct sequence numbers. A range
// tombstone deletes a point of the same run only if the tombstone's sequence
// number is strictly higher.
type SeqNum uint64

const (
	// SeqNumZero is the zero sequence number.
	SeqNumZero SeqNum = 0
	// SeqNumMax is the largest valid sequence number.
	SeqNumMax SeqNum = 1<<56 - 1
)

func (s SeqNum) String() string {
	if s == SeqNumMax {
		return "inf"
	}
	return strconv.FormatUint(uint64(s), 10)
}

// SafeFormat implements redact.SafeFormatter.
func (s SeqNum) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(s.String()))
}

// InternalKeyKind enumerates the kind of key: a deletion tombstone, a set
// value, a merged value, etc.
type InternalKeyKind uint8

// These constants are part of the key encoding used by blockrun tables, and
// should not be changed.
const (
	InternalKeyKindDelete       InternalKeyKind = 0
	InternalKeyKindSet          InternalKeyKind = 1
	InternalKeyKindMerge        InternalKeyKind = 2
	InternalKeyKindSingleDelete InternalKeyKind = 7
	InternalKeyKindRangeDelete  InternalKeyKind = 15

	// InternalKeyKindMax sorts 'less than or equal to' any other valid kind
	// for the same user key and sequence number. It is used for search keys
	// and for the range tombstone endpoints that a merging iterator places in
	// its heap, so that an endpoint sorts before a point key with the same
	// user key and sequence number.
	InternalKeyKindMax InternalKeyKind = 25

	// InternalKeyKindSeekLE is the kind used by reverse search keys. It sorts
	// after every other kind, so (k, SeqNumMax, InternalKeyKindSeekLE) is the
	// largest internal key with user key k and the maximal sequence number.
	InternalKeyKindSeekLE InternalKeyKind = InternalKeyKindDelete

	// A marker for an invalid key.
	InternalKeyKindInvalid InternalKeyKind = 191

	// InternalKeyRangeDeleteSentinel is the marker for a range delete sentinel
	// key. This sequence number and kind are used for the upper boundary of a
	// segment when a range deletion tombstone is the largest key in it. This is
	// necessary because segment boundaries are inclusive, while the end key of
	// a range deletion tombstone is exclusive.
	InternalKeyRangeDeleteSentinel = (InternalKeyTrailer(SeqNumMax) << 8) | InternalKeyTrailer(InternalKeyKindRangeDelete)
)

var internalKeyKindNames = []string{
	InternalKeyKindDelete:       "DEL",
	InternalKeyKindSet:          "SET",
	InternalKeyKindMerge:        "MERGE",
	InternalKeyKindSingleDelete: "SINGLEDEL",
	InternalKeyKindRangeDelete:  "RANGEDEL",
	InternalKeyKindMax:          "MAX",
	InternalKeyKindInvalid:      "INVALID",
}

func (k InternalKeyKind) String() string {
	if int(k) < len(internalKeyKindNames) && internalKeyKindNames[k] != "" {
		return internalKeyKindNames[k]
	}
	return fmt.Sprintf("UNKNOWN:%d", k)
}

// SafeFormat implements redact.SafeFormatter.
func (k InternalKeyKind) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(k.String()))
}

// InternalKeyTrailer encodes a SeqNum and an InternalKeyKind.
type InternalKeyTrailer uint64

// MakeTrailer constructs an internal key trailer from the specified sequence
// number and kind.
func MakeTrailer(seqNum SeqNum, kind InternalKeyKind) InternalKeyTrailer {
	return (InternalKeyTrailer(seqNum) << 8) | InternalKeyTrailer(kind)
}

// String formats the trailer as "<seqnum>,<kind>".
func (t InternalKeyTrailer) String() string {
	return fmt.Sprintf("%s,%s", SeqNum(t>>8), InternalKeyKind(t&0xff))
}

// SeqNum returns the sequence number component of the trailer.
func (t InternalKeyTrailer) SeqNum() SeqNum {
	return SeqNum(t >> 8)
}

// Kind returns the key kind component of the trailer.
func (t InternalKeyTrailer) Kind() InternalKeyKind {
	return InternalKeyKind(t & 0xff)
}

// InternalKey is a user key tagged with the sequence number and kind of the
// record it belongs to. Sorted runs order internal keys by user key ascending,
// then trailer descending.
type InternalKey struct {
	UserKey []byte
	Trailer InternalKeyTrailer
}

// MakeInternalKey constructs an internal key from a specified user key,
// sequence number and kind.
func MakeInternalKey(userKey []byte, seqNum SeqNum, kind InternalKeyKind) InternalKey {
	return InternalKey{
		UserKey: userKey,
		Trailer: MakeTrailer(seqNum, kind),
	}
}

// MakeSearchKey constructs an internal key that is appropriate for searching
// for the specified user key. The search key contains the maximal sequence
// number and kind ensuring that it sorts before any other internal keys for
// the same user key.
func MakeSearchKey(userKey []byte) InternalKey {
	return MakeInternalKey(userKey, SeqNumMax, InternalKeyKindMax)
}

// MakeReverseSearchKey constructs an internal key for a SeekLE that must stop
// before every internal key of userKey except ones carrying the maximal
// sequence number. SeekLE(MakeReverseSearchKey(k)) therefore positions at the
// last key whose user key is < k.
func MakeReverseSearchKey(userKey []byte) InternalKey {
	return MakeInternalKey(userKey, SeqNumMax, InternalKeyKindSeekLE)
}

// MakeRangeDeleteSentinelKey constructs an internal key that is a range
// deletion sentinel key, used as the upper boundary for a segment when a
// range deletion is the largest key in it.
func MakeRangeDeleteSentinelKey(userKey []byte) InternalKey {
	return InternalKey{
		UserKey: userKey,
		Trailer: InternalKeyRangeDeleteSentinel,
	}
}

// InternalTrailerLen is the number of bytes used to encode InternalKey.Trailer.
const InternalTrailerLen = 8

// DecodeInternalKey decodes a key written by InternalKey.Encode. A buffer too
// short to hold a trailer decodes to an invalid key.
func DecodeInternalKey(encodedKey []byte) InternalKey {
	n := len(encodedKey) - InternalTrailerLen
	var trailer InternalKeyTrailer
	if n >= 0 {
		trailer = InternalKeyTrailer(binary.LittleEndian.Uint64(encodedKey[n:]))
		encodedKey = encodedKey[:n:n]
	} else {
		trailer = InternalKeyTrailer(InternalKeyKindInvalid)
		encodedKey = nil
	}
	return InternalKey{
		UserKey: encodedKey,
		Trailer: trailer,
	}
}

// InternalCompare compares two internal keys using the specified comparison
// function. For equal user keys, internal keys compare in descending sequence
// number order. For equal user keys and sequence numbers, internal keys
// compare in descending kind order.
func InternalCompare(userCmp Compare, a, b InternalKey) int {
	if x := userCmp(a.UserKey, b.UserKey); x != 0 {
		return x
	}
	// Reverse order for trailer comparison.
	return cmp.Compare(b.Trailer, a.Trailer)
}

// Encode encodes the receiver into the buffer. The buffer must be large enough
// to hold the encoded data. See InternalKey.Size().
func (k InternalKey) Encode(buf []byte) {
	i := copy(buf, k.UserKey)
	binary.LittleEndian.PutUint64(buf[i:], uint64(k.Trailer))
}

// Size returns the encoded size of the key.
func (k InternalKey) Size() int {
	return len(k.UserKey) + InternalTrailerLen
}

// SeqNum returns the sequence number component of the key.
func (k InternalKey) SeqNum() SeqNum {
	return SeqNum(k.Trailer >> 8)
}

// Kind returns the kind component of the key.
func (k InternalKey) Kind() InternalKeyKind {
	return k.Trailer.Kind()
}

// Valid returns true if the key has a valid kind.
func (k InternalKey) Valid() bool {
	return k.Kind() <= InternalKeyKindMax
}

// Visible returns true if the key is visible at the specified snapshot
// sequence number. The maximal sequence number is always visible.
func (k InternalKey) Visible(snapshot SeqNum) bool {
	return k.SeqNum() < snapshot || k.SeqNum() == SeqNumMax
}

// IsExclusiveSentinel returns whether this internal key excludes point keys
// with the same user key if used as an end boundary.
func (k InternalKey) IsExclusiveSentinel() bool {
	return k.SeqNum() == SeqNumMax && k.Kind() == InternalKeyKindRangeDelete
}

// Clone clones the storage for the UserKey component of the key.
func (k InternalKey) Clone() InternalKey {
	if len(k.UserKey) == 0 {
		return k
	}
	return InternalKey{
		UserKey: append([]byte(nil), k.UserKey...),
		Trailer: k.Trailer,
	}
}

// String returns a string representation of the key.
func (k InternalKey) String() string {
	return fmt.Sprintf("%s#%s,%s", FormatBytes(k.UserKey), k.SeqNum(), k.Kind())
}

// Pretty returns a formatter for the key.
func (k InternalKey) Pretty(f FormatKey) fmt.Formatter {
	return prettyInternalKey{k, f}
}

type prettyInternalKey struct {
	InternalKey
	formatKey FormatKey
}

func (k prettyInternalKey) Format(s fmt.State, c rune) {
	fmt.Fprintf(s, "%s#%s,%s", k.formatKey(k.UserKey), k.SeqNum(), k.Kind())
}

// InternalKV represents a single internal key-value pair.
type InternalKV struct {
	K InternalKey
	V []byte
}

// String returns a string representation of the kv pair.
func (kv InternalKV) String() string {
	return fmt.Sprintf("%s:%s", kv.K, FormatBytes(kv.V))
}
