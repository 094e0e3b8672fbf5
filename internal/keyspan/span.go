// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package keyspan provides range tombstone spans, the fragmenter that turns a
// run's overlapping tombstones into disjoint fragments, an iterator over
// fragments and bound truncation for segments of a multi-segment run.
package keyspan // import "github.com/cockroachdb/mergeiter/internal/keyspan"

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
)

// Span is a range tombstone deleting the keys in [Start, End) whose sequence
// number is lower than SeqNum.
type Span struct {
	Start, End []byte
	SeqNum     base.SeqNum
}

// Valid returns true if the span is defined.
func (s Span) Valid() bool {
	return s.Start != nil && s.End != nil
}

// Contains returns true if the span's range contains key.
func (s Span) Contains(cmp base.Compare, key []byte) bool {
	return cmp(s.Start, key) <= 0 && cmp(key, s.End) < 0
}

// Deletes returns true if the span deletes the internal key k.
func (s Span) Deletes(cmp base.Compare, k base.InternalKey) bool {
	return k.SeqNum() < s.SeqNum && s.Contains(cmp, k.UserKey)
}

// Visible returns true if the tombstone is visible at the snapshot sequence
// number.
func (s Span) Visible(snapshot base.SeqNum) bool {
	return s.SeqNum < snapshot
}

// String returns the span in the format accepted by ParseSpan.
func (s Span) String() string {
	return s.Pretty(base.DefaultFormatter)
}

// Pretty returns the span with user keys formatted by f.
func (s Span) Pretty(f base.FormatKey) string {
	return fmt.Sprintf("%s-%s#%d", f(s.Start), f(s.End), s.SeqNum)
}

// ParseSpan parses a span of the form "<start>-<end>#<seqnum>".
func ParseSpan(input string) (Span, error) {
	input = strings.TrimSpace(input)
	hash := strings.LastIndexByte(input, '#')
	dash := strings.IndexByte(input, '-')
	if hash < 0 || dash <= 0 || dash > hash {
		return Span{}, errors.Newf("keyspan: invalid span %q", input)
	}
	seqNum, err := strconv.ParseUint(input[hash+1:], 10, 64)
	if err != nil {
		return Span{}, errors.Wrapf(err, "keyspan: invalid span %q", input)
	}
	return Span{
		Start:  []byte(input[:dash]),
		End:    []byte(input[dash+1 : hash]),
		SeqNum: base.SeqNum(seqNum),
	}, nil
}
