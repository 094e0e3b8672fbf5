// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseInternalKey(t *testing.T) {
	testCases := []struct {
		in   string
		want InternalKey
	}{
		{"a#5,SET", MakeInternalKey([]byte("a"), 5, InternalKeyKindSet)},
		{"foo#0,DEL", MakeInternalKey([]byte("foo"), 0, InternalKeyKindDelete)},
		{"b#inf,RANGEDEL", MakeRangeDeleteSentinelKey([]byte("b"))},
		{"c#12,MERGE", MakeInternalKey([]byte("c"), 12, InternalKeyKindMerge)},
	}
	for _, tc := range testCases {
		got := ParseInternalKey(tc.in)
		require.Equal(t, tc.want, got)
		require.Equal(t, tc.in, got.String())
	}
	require.Panics(t, func() { ParseInternalKey("a5SET") })
	require.Panics(t, func() { ParseInternalKey("a#5,BOGUS") })
}

func TestInternalKeyEncodeDecode(t *testing.T) {
	for _, s := range []string{"a#5,SET", "#0,DEL", "hello world#72057594037927935,MAX"} {
		k := ParseInternalKey(s)
		buf := make([]byte, k.Size())
		k.Encode(buf)
		require.Equal(t, k, DecodeInternalKey(buf))
	}
	require.False(t, DecodeInternalKey([]byte("short")).Valid())
}

func TestInternalCompare(t *testing.T) {
	keys := []string{
		"a#inf,MAX",
		"a#inf,RANGEDEL",
		"a#inf,DEL",
		"a#7,MAX",
		"a#7,SET",
		"a#3,SET",
		"b#inf,MAX",
		"b#9,DEL",
	}
	for i := range keys {
		for j := range keys {
			a, b := ParseInternalKey(keys[i]), ParseInternalKey(keys[j])
			got := InternalCompare(bytes.Compare, a, b)
			switch {
			case i < j:
				require.Equal(t, -1, got, "%s vs %s", a, b)
			case i > j:
				require.Equal(t, +1, got, "%s vs %s", a, b)
			default:
				require.Equal(t, 0, got)
			}
		}
	}
}

func TestSearchKeys(t *testing.T) {
	k := []byte("k")
	fwd := MakeSearchKey(k)
	rev := MakeReverseSearchKey(k)
	point := MakeInternalKey(k, 100, InternalKeyKindSet)
	prev := MakeInternalKey([]byte("j"), 1, InternalKeyKindSet)
	require.Less(t, InternalCompare(bytes.Compare, fwd, point), 0)
	require.Less(t, InternalCompare(bytes.Compare, rev, point), 0)
	require.Less(t, InternalCompare(bytes.Compare, fwd, rev), 0)
	require.Less(t, InternalCompare(bytes.Compare, prev, rev), 0)
}

func TestVisible(t *testing.T) {
	require.True(t, ParseInternalKey("a#4,SET").Visible(5))
	require.False(t, ParseInternalKey("a#5,SET").Visible(5))
	require.True(t, MakeSearchKey([]byte("a")).Visible(5))
}

func TestKindString(t *testing.T) {
	require.Equal(t, "SET", InternalKeyKindSet.String())
	require.Equal(t, "UNKNOWN:3", InternalKeyKind(3).String())
	require.Equal(t, "inf", SeqNumMax.String())
}

func TestTryParseInternalKV(t *testing.T) {
	kv, err := TryParseInternalKV("a#5,SET: hello ")
	require.NoError(t, err)
	require.Equal(t, "a#5,SET:hello", kv.String())

	for in, want := range map[string]string{
		"a#5,SET":                    "missing ':'",
		"a5,SET:v":                   "missing '#'",
		"a#5:v":                      "missing kind",
		"a#x,SET:v":                  `parsing seqnum "x"`,
		"a#5,BOGUS:v":                `unknown kind "BOGUS"`,
		"a#1e30,SET:v":               "parsing seqnum",
		"a#999999999999999999,SET:v": "exceeds",
	} {
		_, err := TryParseInternalKV(in)
		require.ErrorContains(t, err, want, in)
	}
}

func TestDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	defer log.SetOutput(log.Writer())
	defer log.SetFlags(log.Flags())
	log.SetOutput(&buf)
	log.SetFlags(0)

	DefaultLogger{}.Infof("hello %d", 1)
	DefaultLogger{}.Errorf("level %d: %s", 2, "boom")
	require.Equal(t, "I hello 1\nE level 2: boom\n", buf.String())
}
