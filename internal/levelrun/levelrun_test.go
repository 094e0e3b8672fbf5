// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package levelrun_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cockroachdb/crlib/crstrings"
	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/cockroachdb/mergeiter/internal/levelrun"
	"github.com/cockroachdb/mergeiter/internal/memrun"
	"github.com/cockroachdb/mergeiter/internal/rundef"
	"github.com/stretchr/testify/require"
)

func formatSlot(slot base.TombstoneIterator) string {
	if slot == nil {
		return "none"
	}
	if !slot.Valid() {
		return "."
	}
	return fmt.Sprintf("%s-%s#%d", slot.Start(), slot.End(), slot.SeqNum())
}

func formatPos(it *levelrun.Iter, slot *base.TombstoneIterator) string {
	if !it.Valid() {
		if err := it.Error(); err != nil {
			return fmt.Sprintf("err=%v", err)
		}
		return "."
	}
	var buf strings.Builder
	buf.WriteString(it.Key().String())
	if it.IsBoundarySentinel() {
		buf.WriteString(" (sentinel)")
	}
	if slot != nil {
		fmt.Fprintf(&buf, " slot=%s", formatSlot(*slot))
	}
	return buf.String()
}

func runOps(t *testing.T, it *levelrun.Iter, slot *base.TombstoneIterator, input string) string {
	var buf strings.Builder
	for _, line := range crstrings.Lines(input) {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "first":
			it.First()
		case "last":
			it.Last()
		case "next":
			it.Next()
		case "prev":
			it.Prev()
		case "seek-ge":
			it.SeekGE(base.ParseInternalKey(fields[1]))
		case "seek-le":
			it.SeekLE(base.ParseInternalKey(fields[1]))
		default:
			t.Fatalf("unknown op %q", fields[0])
		}
		fmt.Fprintln(&buf, formatPos(it, slot))
	}
	return buf.String()
}

func TestLevelIter(t *testing.T) {
	var source *rundef.Source
	datadriven.RunTest(t, "testdata/levelrun", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "define":
			runs, err := rundef.Parse(d.Input)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			sources, err := rundef.Build(runs, rundef.Options{})
			require.NoError(t, err)
			source = sources[0]
			var buf strings.Builder
			for i, tbl := range source.Tables {
				props := tbl.Properties()
				fmt.Fprintf(&buf, "segment %d: [%s, %s]\n", i, props.Smallest, props.Largest)
			}
			return buf.String()

		case "iter":
			var lower, upper []byte
			withSlot := false
			for _, arg := range d.CmdArgs {
				switch arg.Key {
				case "slot":
					withSlot = true
				case "lower":
					lower = []byte(arg.Vals[0])
				case "upper":
					upper = []byte(arg.Vals[0])
				default:
					t.Fatalf("unknown argument %q", arg.Key)
				}
			}
			it, err := source.NewLevelIter(lower, upper)
			require.NoError(t, err)
			var slot *base.TombstoneIterator
			if withSlot {
				slot = new(base.TombstoneIterator)
				it.SetTombstoneSlot(slot)
			}
			out := runOps(t, it, slot, d.Input)
			require.NoError(t, it.Close())
			if slot != nil {
				require.Nil(t, *slot)
			}
			return out

		default:
			return fmt.Sprintf("unknown command %q", d.Cmd)
		}
	})
}

func memSegment(
	t *testing.T, smallest, largest string, tombstone string, kvs ...string,
) levelrun.Segment {
	r := memrun.New(nil)
	for _, s := range kvs {
		kv := base.ParseInternalKV(s)
		require.NoError(t, r.Add(kv.K, kv.V))
	}
	if tombstone != "" {
		var start, end string
		var seq uint64
		_, err := fmt.Sscanf(tombstone, "%s %s %d", &start, &end, &seq)
		require.NoError(t, err)
		require.NoError(t, r.DeleteRange([]byte(start), []byte(end), base.SeqNum(seq)))
	}
	return levelrun.Segment{
		Smallest: base.ParseInternalKey(smallest),
		Largest:  base.ParseInternalKey(largest),
		Open: func(opts *levelrun.IterOptions) (base.InternalIterator, base.TombstoneIterator, error) {
			o := &memrun.IterOptions{LowerBound: opts.LowerBound, UpperBound: opts.UpperBound}
			return r.NewIter(o), r.NewTombstoneIter(o), nil
		},
	}
}

// A tombstone that spans two segments is truncated to each segment's bounds.
func TestLevelIterTruncatedTombstones(t *testing.T) {
	segments := []levelrun.Segment{
		memSegment(t, "a#10,SET", "m#7,SET", "b z 9", "a#10,SET:a", "m#7,SET:m7"),
		memSegment(t, "m#6,SET", "z#inf,RANGEDEL", "b z 9", "m#6,SET:m6", "p#5,SET:p"),
	}
	it, err := levelrun.New(nil, segments, nil)
	require.NoError(t, err)
	slot := new(base.TombstoneIterator)
	it.SetTombstoneSlot(slot)

	out := runOps(t, it, slot, strings.TrimLeft(`
first
next
next
next
next
next
next
`, "\n"))
	require.Equal(t, strings.TrimLeft(`
a#10,SET slot=b#inf,RANGEDEL-m#6,MAX#9
m#7,SET slot=b#inf,RANGEDEL-m#6,MAX#9
m#7,SET (sentinel) slot=b#inf,RANGEDEL-m#6,MAX#9
m#6,SET slot=m#6,SET-z#inf,RANGEDEL#9
p#5,SET slot=m#6,SET-z#inf,RANGEDEL#9
z#inf,RANGEDEL (sentinel) slot=m#6,SET-z#inf,RANGEDEL#9
.
`, "\n"), out)
	require.NoError(t, it.Close())
}

func TestLevelIterValidation(t *testing.T) {
	open := func(*levelrun.IterOptions) (base.InternalIterator, base.TombstoneIterator, error) {
		return nil, nil, nil
	}
	seg := func(smallest, largest string) levelrun.Segment {
		return levelrun.Segment{
			Smallest: base.ParseInternalKey(smallest),
			Largest:  base.ParseInternalKey(largest),
			Open:     open,
		}
	}
	_, err := levelrun.New(nil, []levelrun.Segment{seg("a#1,SET", "c#1,SET"), seg("c#1,SET", "d#1,SET")}, nil)
	require.ErrorContains(t, err, "overlap")
	_, err = levelrun.New(nil, []levelrun.Segment{seg("d#1,SET", "c#1,SET")}, nil)
	require.ErrorContains(t, err, "inverted bounds")
	_, err = levelrun.New(nil, []levelrun.Segment{{Smallest: base.ParseInternalKey("a#1,SET")}}, nil)
	require.Error(t, err)
	it, err := levelrun.New(nil, []levelrun.Segment{seg("a#1,SET", "c#1,SET"), seg("c#0,SET", "d#1,SET")}, nil)
	require.NoError(t, err)
	require.NoError(t, it.Close())
}

func TestLevelIterOpenError(t *testing.T) {
	good := memSegment(t, "a#1,SET", "a#1,SET", "", "a#1,SET:a")
	bad := levelrun.Segment{
		Smallest: base.ParseInternalKey("b#1,SET"),
		Largest:  base.ParseInternalKey("b#1,SET"),
		Name:     "broken",
		Open: func(*levelrun.IterOptions) (base.InternalIterator, base.TombstoneIterator, error) {
			return nil, nil, errors.New("no such file")
		},
	}
	it, err := levelrun.New(nil, []levelrun.Segment{good, bad}, nil)
	require.NoError(t, err)

	it.First()
	require.True(t, it.Valid())
	it.Next()
	require.False(t, it.Valid())
	require.ErrorContains(t, it.Error(), "opening segment broken: no such file")

	it.SeekGE(base.MakeSearchKey([]byte("a")))
	require.True(t, it.Valid())
	require.NoError(t, it.Error())
	require.NoError(t, it.Close())
}

// Seeks into segments read asynchronously report ErrTryAgain until repeated.
// Moving between segments waits for the read instead.
func TestLevelIterAsyncReads(t *testing.T) {
	defer leaktest.AfterTest(t)()

	runs, err := rundef.Parse(strings.TrimLeft(`
level
  segment
    a#3,SET:a b#3,SET:b
  segment
    c#2,SET:c d#2,SET:d
`, "\n"))
	require.NoError(t, err)
	sources, err := rundef.Build(runs, rundef.Options{AsyncReads: true})
	require.NoError(t, err)
	it, err := sources[0].NewLevelIter(nil, nil)
	require.NoError(t, err)

	it.SeekGE(base.MakeSearchKey([]byte("b")))
	require.False(t, it.Valid())
	require.True(t, base.IsTryAgain(it.Error()))
	it.SeekGE(base.MakeSearchKey([]byte("b")))
	require.True(t, it.Valid())
	require.Equal(t, "b#3,SET", it.Key().String())

	var keys []string
	for ; it.Valid(); it.Next() {
		keys = append(keys, it.Key().String())
	}
	require.NoError(t, it.Error())
	require.Equal(t, []string{"b#3,SET", "c#2,SET", "d#2,SET"}, keys)

	it.Last()
	require.True(t, base.IsTryAgain(it.Error()))
	require.NoError(t, it.Close())
}
