// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

var kindsByName = map[string]InternalKeyKind{
	"DEL":       InternalKeyKindDelete,
	"SINGLEDEL": InternalKeyKindSingleDelete,
	"RANGEDEL":  InternalKeyKindRangeDelete,
	"SET":       InternalKeyKindSet,
	"MERGE":     InternalKeyKindMerge,
	"MAX":       InternalKeyKindMax,
	"INVALID":   InternalKeyKindInvalid,
}

// TryParseSeqNum parses a sequence number. "inf" denotes SeqNumMax.
func TryParseSeqNum(s string) (SeqNum, error) {
	if s == "inf" {
		return SeqNumMax, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing seqnum %q", s)
	}
	if SeqNum(n) > SeqNumMax {
		return 0, errors.Newf("seqnum %d exceeds %d", n, uint64(SeqNumMax))
	}
	return SeqNum(n), nil
}

// TryParseInternalKey parses a key of the form "<user-key>#<seqnum>,<kind>".
func TryParseInternalKey(s string) (InternalKey, error) {
	userKey, trailer, ok := strings.Cut(s, "#")
	if !ok {
		return InternalKey{}, errors.Newf("invalid internal key %q: missing '#'", s)
	}
	seq, kindName, ok := strings.Cut(trailer, ",")
	if !ok {
		return InternalKey{}, errors.Newf("invalid internal key %q: missing kind", s)
	}
	seqNum, err := TryParseSeqNum(seq)
	if err != nil {
		return InternalKey{}, errors.Wrapf(err, "invalid internal key %q", s)
	}
	kind, ok := kindsByName[kindName]
	if !ok {
		return InternalKey{}, errors.Newf("invalid internal key %q: unknown kind %q", s, kindName)
	}
	return MakeInternalKey([]byte(userKey), seqNum, kind), nil
}

// TryParseInternalKV parses a record of the form
// "<user-key>#<seqnum>,<kind>:<value>".
func TryParseInternalKV(s string) (InternalKV, error) {
	key, value, ok := strings.Cut(s, ":")
	if !ok {
		return InternalKV{}, errors.Newf("invalid record %q: missing ':'", s)
	}
	k, err := TryParseInternalKey(strings.TrimSpace(key))
	if err != nil {
		return InternalKV{}, err
	}
	return InternalKV{K: k, V: []byte(strings.TrimSpace(value))}, nil
}

// ParseSeqNum is like TryParseSeqNum but panics on error. It is meant for
// tests.
func ParseSeqNum(s string) SeqNum {
	return mustParse(TryParseSeqNum(s))
}

// ParseInternalKey is like TryParseInternalKey but panics on error. It is
// meant for tests.
func ParseInternalKey(s string) InternalKey {
	return mustParse(TryParseInternalKey(s))
}

// ParseInternalKV is like TryParseInternalKV but panics on error. It is meant
// for tests.
func ParseInternalKV(s string) InternalKV {
	return mustParse(TryParseInternalKV(s))
}

func mustParse[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
