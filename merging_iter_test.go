// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package mergeiter

import (
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/cockroachdb/mergeiter/internal/blockrun"
	"github.com/cockroachdb/mergeiter/internal/itertest"
	"github.com/cockroachdb/mergeiter/internal/rundef"
	"github.com/cockroachdb/mergeiter/internal/testutils"
	"github.com/stretchr/testify/require"
)

// buildTestIter assembles an iterator over sources, newest first. Probes, if
// any, are attached to the run at the corresponding index.
func buildTestIter(
	t testing.TB,
	sources []*rundef.Source,
	opts *Options,
	lower, upper []byte,
	probes map[int][]itertest.Probe,
	log io.Writer,
) base.InternalIterator {
	b := NewBuilder(opts)
	for i, s := range sources {
		wrap := func(it base.InternalIterator) base.InternalIterator {
			if ps, ok := probes[i]; ok {
				return itertest.Attach(it, itertest.ProbeState{Comparer: base.DefaultComparer, Log: log}, ps...)
			}
			return it
		}
		switch s.Run.Kind {
		case rundef.Level:
			li, err := s.NewLevelIter(lower, upper)
			require.NoError(t, err)
			b.AddLevelIterator(wrap(li).(LevelIterator))
		default:
			point, tombstones := s.NewIters(lower, upper)
			b.AddPointAndTombstoneIterator(wrap(point), tombstones)
		}
	}
	return b.Finish()
}

func parseSources(t testing.TB, input string, opts rundef.Options) []*rundef.Source {
	runs, err := rundef.Parse(input)
	require.NoError(t, err)
	sources, err := rundef.Build(runs, opts)
	require.NoError(t, err)
	return sources
}

func TestMergingIter(t *testing.T) {
	var sources []*rundef.Source
	datadriven.RunTest(t, "testdata/merging_iter", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "define":
			runs, err := rundef.Parse(d.Input)
			if err != nil {
				return err.Error()
			}
			sources, err = rundef.Build(runs, rundef.Options{})
			require.NoError(t, err)
			return ""

		case "iter":
			var lower, upper []byte
			if arg, ok := d.Arg("lower"); ok {
				lower = []byte(arg.Vals[0])
			}
			if arg, ok := d.Arg("upper"); ok {
				upper = []byte(arg.Vals[0])
			}
			opts := &Options{
				Logger:                testutils.Logger{T: t},
				UpperBound:            upper,
				DisableKeyPrefixCache: d.HasArg("no-prefix-cache"),
			}
			iter := buildTestIter(t, sources, opts, lower, upper, nil, nil)
			var iterOpts []itertest.IterOpt
			if m, ok := iter.(*MergingIter); ok {
				iterOpts = append(iterOpts,
					itertest.WithStats(func(w io.Writer) {
						s := m.Stats()
						fmt.Fprintf(w, "child-seeks=%d range-del-reseeks=%d async-seeks=%d\n",
							s.ChildSeeks, s.RangeDelReseeks, s.AsyncSeeks)
					}),
					itertest.WithDebug(func(w io.Writer) { fmt.Fprint(w, m.DebugString()) }),
					itertest.WithSetUpper(m.SetUpperBound),
				)
			}
			out := itertest.RunInternalIterCmd(t, d, iter, append(iterOpts, itertest.Verbose)...)
			if err := iter.Close(); err != nil {
				out += fmt.Sprintf("close: %v\n", err)
			}
			return out

		default:
			return fmt.Sprintf("unknown command: %s", d.Cmd)
		}
	})
}

// checkPosition verifies that iter is positioned at the oracle's record pos,
// or is exhausted if pos is out of range.
func checkPosition(
	t *testing.T, iter base.InternalIterator, oracle *itertest.Oracle, pos int, history []string,
) {
	t.Helper()
	require.NoError(t, iter.Error(), "history: %s", strings.Join(history, " "))
	kvs := oracle.KVs()
	if pos < 0 || pos >= len(kvs) {
		if iter.Valid() {
			t.Fatalf("history: %s\nexpected exhausted, got %s", strings.Join(history, " "), iter.Key())
		}
		return
	}
	if !iter.Valid() {
		t.Fatalf("history: %s\nexpected %s, got exhausted", strings.Join(history, " "), kvs[pos])
	}
	if got := iter.Key(); base.InternalCompare(base.DefaultComparer.Compare, got, kvs[pos].K) != 0 {
		t.Fatalf("history: %s\nexpected %s, got %s", strings.Join(history, " "), kvs[pos].K, got)
	}
	require.True(t, iter.PrepareValue())
	require.Equal(t, string(kvs[pos].V), string(iter.Value()))
}

// randomSeekKey returns a search key for a random user key, or occasionally
// an internal key with a random sequence number.
func randomSeekKey(rng *rand.Rand, keys int, forward bool) base.InternalKey {
	k := rundef.RandomKey(rng.IntN(keys + 1))
	switch {
	case rng.IntN(4) == 0:
		return base.MakeInternalKey(k, base.SeqNum(rng.IntN(6000)), base.InternalKeyKindSet)
	case forward:
		return base.MakeSearchKey(k)
	case rng.IntN(2) == 0:
		return base.MakeReverseSearchKey(k)
	default:
		return base.MakeInternalKey(k, base.SeqNumZero, base.InternalKeyKindSeekLE)
	}
}

// TestMergingIterRandomized compares random operation sequences over random
// runs against the brute-force oracle.
func TestMergingIterRandomized(t *testing.T) {
	testMergingIterRandomized(t, 200, func(rng *rand.Rand) (int, bool) {
		return 1 + rng.IntN(5), rng.IntN(4) == 0
	})
}

// A lone run with async reads must still have its deferred seeks retried.
func TestMergingIterRandomizedSingleAsyncRun(t *testing.T) {
	testMergingIterRandomized(t, 50, func(*rand.Rand) (int, bool) {
		return 1, true
	})
}

// testMergingIterRandomized checks n random operation sequences against the
// oracle. config returns the number of runs and whether tables read
// asynchronously.
func testMergingIterRandomized(t *testing.T, n int, config func(*rand.Rand) (runs int, async bool)) {
	seed := uint64(time.Now().UnixNano())
	t.Logf("seed: %d", seed)
	rng := rand.New(rand.NewPCG(seed, seed))
	const keys = 30
	cache := blockrun.NewCache(64 << 10)

	for ; n > 0; n-- {
		numRuns, async := config(rng)
		runs := rundef.Random(rng, rundef.RandomOptions{
			Runs:        numRuns,
			Keys:        keys,
			Points:      25,
			Tombstones:  4,
			MaxSegments: 3,
		})
		buildOpts := rundef.Options{AsyncReads: async}
		if rng.IntN(2) == 0 {
			buildOpts.Cache = cache
		}
		sources, err := rundef.Build(runs, buildOpts)
		require.NoError(t, err)
		var upper []byte
		if rng.IntN(3) == 0 {
			upper = rundef.RandomKey(rng.IntN(keys + 1))
		}
		points, tombstones := rundef.Levels(runs)
		oracle := itertest.NewOracle(nil, points, tombstones, nil, upper)
		opts := &Options{
			Logger:                testutils.Logger{T: t},
			UpperBound:            upper,
			DisableKeyPrefixCache: rng.IntN(2) == 0,
		}
		iter := buildTestIter(t, sources, opts, nil, upper, nil, nil)

		history := []string{fmt.Sprintf("upper=%s", upper)}
		pos := -1
		for op := 0; op < 50; op++ {
			valid := pos >= 0 && pos < oracle.Len()
			switch r := rng.IntN(10); {
			case r == 0:
				iter.First()
				pos = 0
				history = append(history, "first")
			case r == 1:
				iter.Last()
				pos = oracle.Len() - 1
				history = append(history, "last")
			case r == 2:
				k := randomSeekKey(rng, keys, true)
				iter.SeekGE(k)
				pos = oracle.SeekGE(k)
				history = append(history, fmt.Sprintf("seek-ge(%s)", k))
			case r == 3:
				k := randomSeekKey(rng, keys, false)
				iter.SeekLE(k)
				pos = oracle.SeekLE(k)
				history = append(history, fmt.Sprintf("seek-le(%s)", k))
			case r < 7 && valid:
				iter.Next()
				pos++
				history = append(history, "next")
			case valid:
				iter.Prev()
				pos--
				history = append(history, "prev")
			default:
				continue
			}
			checkPosition(t, iter, oracle, pos, history)
		}
		if t.Failed() {
			t.Logf("runs:\n%s", rundef.Format(runs))
		}
		require.NoError(t, iter.Close())
	}
}

// Seeking and then scanning forward yields the records of a full scan that
// are >= the target.
func TestMergingIterSeekSuffix(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	const keys = 20
	for n := 0; n < 20; n++ {
		runs := rundef.Random(rng, rundef.RandomOptions{
			Runs: 4, Keys: keys, Points: 15, Tombstones: 3, MaxSegments: 2,
		})
		sources, err := rundef.Build(runs, rundef.Options{})
		require.NoError(t, err)
		iter := buildTestIter(t, sources, nil, nil, nil, nil, nil)

		var all []string
		for iter.First(); iter.Valid(); iter.Next() {
			all = append(all, iter.Key().String())
		}
		require.NoError(t, iter.Error())

		for k := 0; k <= keys; k++ {
			target := base.MakeSearchKey(rundef.RandomKey(k))
			var want []string
			for iter.First(); iter.Valid(); iter.Next() {
				if base.InternalCompare(base.DefaultComparer.Compare, iter.Key(), target) >= 0 {
					want = append(want, iter.Key().String())
				}
			}
			var got []string
			for iter.SeekGE(target); iter.Valid(); iter.Next() {
				got = append(got, iter.Key().String())
			}
			require.Equal(t, want, got, "target %s", target)
		}
		require.NoError(t, iter.Close())
	}
}

// Stepping forward and back from any visible key returns to it.
func TestMergingIterRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for n := 0; n < 20; n++ {
		runs := rundef.Random(rng, rundef.RandomOptions{
			Runs: 4, Keys: 20, Points: 15, Tombstones: 3, MaxSegments: 3,
		})
		sources, err := rundef.Build(runs, rundef.Options{})
		require.NoError(t, err)
		iter := buildTestIter(t, sources, nil, nil, nil, nil, nil)

		var keys []base.InternalKey
		for iter.First(); iter.Valid(); iter.Next() {
			keys = append(keys, iter.Key().Clone())
		}
		for i, k := range keys {
			iter.SeekGE(k)
			require.Equal(t, k.String(), iter.Key().String())
			iter.Next()
			if i+1 < len(keys) {
				require.Equal(t, keys[i+1].String(), iter.Key().String())
				iter.Prev()
				require.Equal(t, k.String(), iter.Key().String())
				iter.Next()
				require.Equal(t, keys[i+1].String(), iter.Key().String())
			} else {
				require.False(t, iter.Valid())
			}

			iter.SeekLE(k)
			require.Equal(t, k.String(), iter.Key().String())
			iter.Prev()
			if i > 0 {
				require.Equal(t, keys[i-1].String(), iter.Key().String())
				iter.Next()
				require.Equal(t, k.String(), iter.Key().String())
			} else {
				require.False(t, iter.Valid())
			}
		}
		require.NoError(t, iter.Close())
	}
}

func TestMergingIterReverseComparer(t *testing.T) {
	input := strings.TrimLeft(`
mem
  a#10,SET:a10 c#12,SET:c12
  d-b#11
table
  a#3,SET:a3 b#4,SET:b4 c#5,SET:c5 e#2,SET:e2
`, "\n")
	for _, disable := range []bool{false, true} {
		sources := parseSources(t, input, rundef.Options{Comparer: base.ReverseComparer})
		iter := buildTestIter(t, sources, &Options{
			Comparer:              base.ReverseComparer,
			DisableKeyPrefixCache: disable,
		}, nil, nil, nil, nil)
		var got []string
		for iter.First(); iter.Valid(); iter.Next() {
			got = append(got, iter.Key().String())
		}
		require.NoError(t, iter.Error())
		// User keys descend. The tombstone covers d and c.
		require.Equal(t, []string{"e#2,SET", "c#12,SET", "b#4,SET", "a#10,SET", "a#3,SET"}, got)
		require.NoError(t, iter.Close())
	}
}

func TestMergingIterTryAgain(t *testing.T) {
	input := strings.TrimLeft(`
mem
  b#10,SET:b10
table
  a#3,SET:a3 c#2,SET:c2
`, "\n")
	parser := itertest.NewParser()

	t.Run("retried", func(t *testing.T) {
		sources := parseSources(t, input, rundef.Options{})
		probes := map[int][]itertest.Probe{
			1: itertest.MustParseProbes(parser, `(If (And OpSeekGE (OnIndex 0)) TryAgain noop)`),
		}
		iter := buildTestIter(t, sources, nil, nil, nil, probes, nil).(*MergingIter)
		iter.SeekGE(base.MakeSearchKey([]byte("a")))
		require.NoError(t, iter.Error())
		require.True(t, iter.Valid())
		require.Equal(t, "a#3,SET", iter.Key().String())
		require.Equal(t, int64(1), iter.Stats().AsyncSeeks)
		iter.Next()
		require.Equal(t, "b#10,SET", iter.Key().String())
		require.NoError(t, iter.Close())
	})

	t.Run("first", func(t *testing.T) {
		sources := parseSources(t, input, rundef.Options{})
		probes := map[int][]itertest.Probe{
			0: itertest.MustParseProbes(parser, `(If (And OpFirst (OnIndex 0)) TryAgain noop)`),
		}
		iter := buildTestIter(t, sources, nil, nil, nil, probes, nil).(*MergingIter)
		var got []string
		for iter.First(); iter.Valid(); iter.Next() {
			got = append(got, iter.Key().String())
		}
		require.NoError(t, iter.Error())
		require.Equal(t, []string{"a#3,SET", "b#10,SET", "c#2,SET"}, got)
		require.Equal(t, int64(1), iter.Stats().AsyncSeeks)
		require.NoError(t, iter.Close())
	})

	t.Run("exhausted-retries", func(t *testing.T) {
		sources := parseSources(t, input, rundef.Options{})
		probes := map[int][]itertest.Probe{
			1: itertest.MustParseProbes(parser, `(If OpSeekLE TryAgain noop)`),
		}
		opts := &Options{Logger: testutils.Logger{T: t}, MaxSeekRetries: 2}
		iter := buildTestIter(t, sources, opts, nil, nil, probes, nil).(*MergingIter)
		iter.SeekLE(base.MakeSearchKey([]byte("z")))
		require.False(t, iter.Valid())
		require.True(t, base.IsTryAgain(iter.Error()))
		require.ErrorContains(t, iter.Error(), "still pending after 2 retries")
		require.Equal(t, int64(2), iter.Stats().AsyncSeeks)
		require.Error(t, iter.Close())
	})

	t.Run("async-tables", func(t *testing.T) {
		sources := parseSources(t, strings.TrimLeft(`
table block-size=1
  a#9,SET:a9 b#8,SET:b8 c#7,SET:c7
level block-size=1
  segment
    a#3,SET:a3 b#2,SET:b2
  segment
    d#1,SET:d1
`, "\n"), rundef.Options{AsyncReads: true})
		iter := buildTestIter(t, sources, nil, nil, nil, nil, nil).(*MergingIter)
		var got []string
		for iter.SeekGE(base.MakeSearchKey([]byte("b"))); iter.Valid(); iter.Next() {
			got = append(got, iter.Key().String())
		}
		require.NoError(t, iter.Error())
		require.Equal(t, []string{"b#8,SET", "b#2,SET", "c#7,SET", "d#1,SET"}, got)
		require.Positive(t, iter.Stats().AsyncSeeks)
		require.NoError(t, iter.Close())
	})
}

func TestMergingIterErrors(t *testing.T) {
	input := strings.TrimLeft(`
mem
  a#10,SET:a10 d#11,SET:d11
table
  b#3,SET:b3 c#2,SET:c2 e#1,SET:e1
`, "\n")
	parser := itertest.NewParser()
	sources := parseSources(t, input, rundef.Options{})
	probes := map[int][]itertest.Probe{
		1: itertest.MustParseProbes(parser, `(If (And OpNext (UserKey "c")) ErrInjected noop)`),
	}
	logger := testutils.NewLogger(t)
	opts := &Options{Logger: logger}
	iter := buildTestIter(t, sources, opts, nil, nil, probes, nil).(*MergingIter)

	iter.First()
	require.Equal(t, "a#10,SET", iter.Key().String())
	iter.Next()
	require.Equal(t, "b#3,SET", iter.Key().String())
	iter.Next()
	// The table fails while the memtable still has records. The error is
	// sticky across relative moves.
	require.False(t, iter.Valid())
	require.ErrorIs(t, iter.Error(), itertest.ErrInjected.Error())
	iter.Next()
	require.False(t, iter.Valid())
	require.ErrorIs(t, iter.Error(), itertest.ErrInjected.Error())
	require.Equal(t, []string{"mergeiter: level 1: injected error"}, logger.Errors())

	// Absolute positioning clears it.
	iter.SeekGE(base.MakeSearchKey([]byte("d")))
	require.NoError(t, iter.Error())
	require.Equal(t, "d#11,SET", iter.Key().String())
	iter.Next()
	require.Equal(t, "e#1,SET", iter.Key().String())
	require.NoError(t, iter.Close())

	iter = buildTestIter(t, sources, nil, nil, nil, nil, nil).(*MergingIter)
	require.Panics(t, func() { iter.Next() })
	require.Panics(t, func() { iter.Prev() })
	require.NoError(t, iter.Close())
}

// A value fetch that fails invalidates the iterator.
func TestMergingIterPrepareValueError(t *testing.T) {
	sources := parseSources(t, strings.TrimLeft(`
mem
  a#10,SET:a10
table
  b#3,SET:b3
`, "\n"), rundef.Options{})
	probes := map[int][]itertest.Probe{
		1: itertest.MustParseProbes(itertest.NewParser(), `(If OpPrepareValue ErrInjected noop)`),
	}
	opts := &Options{Logger: testutils.Logger{T: t}}
	iter := buildTestIter(t, sources, opts, nil, nil, probes, nil).(*MergingIter)
	iter.First()
	require.True(t, iter.PrepareValue())
	require.Equal(t, "a10", string(iter.Value()))
	iter.Next()
	require.Equal(t, "b#3,SET", iter.Key().String())
	require.False(t, iter.PrepareValue())
	require.False(t, iter.Valid())
	require.ErrorIs(t, iter.Error(), itertest.ErrInjected.Error())
	require.Error(t, iter.Close())
}

func TestMergingIterBoundChecks(t *testing.T) {
	sources := parseSources(t, strings.TrimLeft(`
mem
  a#10,SET:a10
table
  b#3,SET:b3
`, "\n"), rundef.Options{})
	iter := buildTestIter(t, sources, nil, nil, []byte("c"), nil, nil).(*MergingIter)
	require.True(t, iter.MayBeOutOfLowerBound())
	require.Equal(t, base.BoundCheckUnknown, iter.UpperBoundCheckResult())
	iter.First()
	require.False(t, iter.MayBeOutOfLowerBound())
	require.Equal(t, base.BoundCheckInbound, iter.UpperBoundCheckResult())
	iter.SetUpperBound([]byte("b"))
	require.Equal(t, []byte("b"), iter.UpperBound())
	require.NoError(t, iter.Close())
}

func TestMergingIterPointOnly(t *testing.T) {
	sources := parseSources(t, strings.TrimLeft(`
mem
  b#5,SET:b5
mem
  a#3,SET:a3 b#3,SET:b3
mem
  c#1,SET:c1
`, "\n"), rundef.Options{})
	var iters []base.InternalIterator
	for _, s := range sources {
		point, _ := s.NewIters(nil, nil)
		iters = append(iters, point)
	}
	iter := NewMergingIter(nil, iters...)
	var got []string
	for iter.Last(); iter.Valid(); iter.Prev() {
		got = append(got, iter.Key().String())
	}
	require.Equal(t, []string{"c#1,SET", "b#3,SET", "b#5,SET", "a#3,SET"}, got)
	require.Equal(t, "merging", iter.String())
	require.NoError(t, iter.Close())
}

func BenchmarkMergingIterNext(b *testing.B) {
	for _, numRuns := range []int{1, 4, 16} {
		b.Run(fmt.Sprintf("runs=%d", numRuns), func(b *testing.B) {
			rng := rand.New(rand.NewPCG(0, 0))
			runs := rundef.Random(rng, rundef.RandomOptions{
				Runs: numRuns, Keys: 900, Points: 900, Tombstones: 2,
			})
			sources := testutils.CheckErr(rundef.Build(runs, rundef.Options{}))
			iter := buildTestIter(b, sources, nil, nil, nil, nil, nil)
			b.ResetTimer()
			for i := 0; i < b.N; {
				for iter.First(); iter.Valid() && i < b.N; iter.Next() {
					i++
				}
			}
			b.StopTimer()
			require.NoError(b, iter.Close())
		})
	}
}
