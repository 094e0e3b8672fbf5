// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// Compare returns -1, 0, or +1 depending on whether a is 'less than', 'equal
// to' or 'greater than' b.
type Compare func(a, b []byte) int

// Equal returns true if a and b are equivalent.
//
// For a given Compare, Equal(a,b)=true iff Compare(a,b)=0; that is, Equal is a
// (potentially faster) specialization of Compare.
type Equal func(a, b []byte) bool

// AbbreviatedKey returns a fixed length prefix of a user key such that
//
//	AbbreviatedKey(a) < AbbreviatedKey(b) implies a < b, and
//	AbbreviatedKey(a) > AbbreviatedKey(b) implies a > b.
//
// If AbbreviatedKey(a) == AbbreviatedKey(b), an additional comparison is
// required to determine if the two keys are actually equal.
type AbbreviatedKey func(key []byte) uint64

// FormatKey returns a formatter for the user key.
type FormatKey func(key []byte) fmt.Formatter

// DefaultFormatter is the default implementation of user key formatting:
// non-ASCII data is formatted as escaped hexadecimal values.
var DefaultFormatter FormatKey = func(key []byte) fmt.Formatter {
	return FormatBytes(key)
}

// Ordering identifies comparers whose ordering is known to the merging
// iterator, which selects specialized heap comparisons for them.
type Ordering uint8

const (
	// OrderingCustom is an arbitrary user supplied ordering. Only Compare is
	// used.
	OrderingCustom Ordering = iota
	// OrderingBytewise is the natural ordering of bytes.Compare.
	OrderingBytewise
	// OrderingReverseBytewise is the inverse of bytes.Compare.
	OrderingReverseBytewise
)

func (o Ordering) String() string {
	switch o {
	case OrderingBytewise:
		return "bytewise"
	case OrderingReverseBytewise:
		return "reverse-bytewise"
	default:
		return "custom"
	}
}

// Comparer defines a total ordering over the space of []byte keys: a 'less
// than' relationship.
type Comparer struct {
	// Compare must always be specified.
	Compare Compare
	// Equal defaults to using Compare() == 0 if it is not specified.
	Equal Equal
	// AbbreviatedKey is optional. When set along with a non-custom Ordering,
	// the merging iterator caches abbreviated keys in its heap items.
	AbbreviatedKey AbbreviatedKey
	// FormatKey defaults to the DefaultFormatter if it is not specified.
	FormatKey FormatKey

	// Ordering declares whether Compare is one of the well known orderings.
	// Declaring a well known ordering for a comparer that does not implement
	// it results in incorrect iteration.
	Ordering Ordering

	// Name is the name of the comparer.
	Name string
}

// EnsureDefaults ensures that all non-optional fields are set.
//
// If c is nil, returns DefaultComparer.
//
// If any fields need to be set, returns a modified copy of c.
func (c *Comparer) EnsureDefaults() *Comparer {
	if c == nil {
		return DefaultComparer
	}
	if c.Compare == nil || c.Name == "" {
		panic("invalid Comparer: mandatory field not set")
	}
	if c.Equal != nil && c.FormatKey != nil {
		return c
	}
	n := &Comparer{}
	*n = *c
	if n.Equal == nil {
		n.Equal = func(a, b []byte) bool {
			return n.Compare(a, b) == 0
		}
	}
	if n.FormatKey == nil {
		n.FormatKey = DefaultFormatter
	}
	return n
}

// abbreviatedBytewise returns the first eight bytes of the key as a big-endian
// integer, zero padded.
func abbreviatedBytewise(key []byte) uint64 {
	if len(key) >= 8 {
		return binary.BigEndian.Uint64(key)
	}
	var v uint64
	for _, b := range key {
		v <<= 8
		v |= uint64(b)
	}
	return v << uint(8*(8-len(key)))
}

// DefaultComparer is the default implementation of the Comparer interface.
// It uses the natural ordering, consistent with bytes.Compare.
var DefaultComparer = &Comparer{
	Compare:        bytes.Compare,
	Equal:          bytes.Equal,
	AbbreviatedKey: abbreviatedBytewise,
	FormatKey:      DefaultFormatter,
	Ordering:       OrderingBytewise,
	// This name matches LevelDB's default comparator and should not be
	// changed.
	Name: "leveldb.BytewiseComparator",
}

// ReverseComparer orders keys in the inverse of bytes.Compare.
var ReverseComparer = &Comparer{
	Compare: func(a, b []byte) int {
		return bytes.Compare(b, a)
	},
	Equal: bytes.Equal,
	AbbreviatedKey: func(key []byte) uint64 {
		return ^abbreviatedBytewise(key)
	},
	FormatKey: DefaultFormatter,
	Ordering:  OrderingReverseBytewise,
	Name:      "rocksdb.ReverseBytewiseComparator",
}

// LookupComparer returns the built-in comparer with the given short name:
// "bytewise" or "reverse".
func LookupComparer(name string) (*Comparer, error) {
	switch name {
	case "", "bytewise", DefaultComparer.Name:
		return DefaultComparer, nil
	case "reverse", ReverseComparer.Name:
		return ReverseComparer, nil
	default:
		return nil, errors.Newf("unknown comparer %q", errors.Safe(name))
	}
}

// MakeAssertComparer creates a Comparer that is the same with the given
// Comparer except that it asserts that AbbreviatedKey is consistent with
// Compare.
func MakeAssertComparer(c Comparer) Comparer {
	n := c
	if c.AbbreviatedKey == nil {
		return n
	}
	n.Compare = func(a, b []byte) int {
		res := c.Compare(a, b)
		aa, ab := c.AbbreviatedKey(a), c.AbbreviatedKey(b)
		if (aa < ab && res >= 0) || (aa > ab && res <= 0) {
			panic(AssertionFailedf("%s: AbbreviatedKey(%s)=%x, AbbreviatedKey(%s)=%x inconsistent with Compare=%d",
				c.Name, c.FormatKey(a), aa, c.FormatKey(b), ab, res))
		}
		return res
	}
	return n
}

// FormatBytes formats a byte slice using hexadecimal escapes for non-ASCII
// data.
type FormatBytes []byte

const lowerhex = "0123456789abcdef"

// Format implements the fmt.Formatter interface.
func (p FormatBytes) Format(s fmt.State, c rune) {
	buf := make([]byte, 0, len(p))
	for _, b := range p {
		if b < utf8.RuneSelf && strconv.IsPrint(rune(b)) {
			buf = append(buf, b)
			continue
		}
		buf = append(buf, `\x`...)
		buf = append(buf, lowerhex[b>>4])
		buf = append(buf, lowerhex[b&0xF])
	}
	s.Write(buf)
}
