// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package mergeiter

import (
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/cockroachdb/mergeiter/internal/rundef"
	"github.com/cockroachdb/redact"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestIterStatsMerge(t *testing.T) {
	a := IterStats{ChildSeeks: 1, RangeDelReseeks: 2, AsyncSeeks: 3, HeapComparisons: 4, ForwardSeekDuration: time.Second}
	b := IterStats{ChildSeeks: 10, HeapComparisons: 40, ReverseSeekDuration: time.Millisecond}
	a.Merge(b)
	require.Equal(t, IterStats{
		ChildSeeks:          11,
		RangeDelReseeks:     2,
		AsyncSeeks:          3,
		HeapComparisons:     44,
		ForwardSeekDuration: time.Second,
		ReverseSeekDuration: time.Millisecond,
	}, a)
	require.Equal(t,
		"seeks: 11 child, 2 range-del reseek, 3 async; heap comparisons: 44; seek time: fwd 1s, rev 1ms",
		a.String())
	// Statistics carry no user data.
	require.NotContains(t, string(redact.Sprint(a)), "‹")
}

func TestIterStats(t *testing.T) {
	sources := parseSources(t, strings.TrimLeft(`
mem
  c#20,SET:c20
  a-e#15
table
  a#5,SET:a5 b#4,SET:b4 f#3,SET:f3
table
  d#2,SET:d2 g#1,SET:g1
`, "\n"), rundef.Options{})
	iter := buildTestIter(t, sources, nil, nil, nil, nil, nil).(*MergingIter)

	iter.SeekGE(base.MakeSearchKey([]byte("b")))
	require.Equal(t, "c#20,SET", iter.Key().String())
	s := iter.Stats()
	// The memtable's tombstone covers b, so both tables are sought to e.
	require.Equal(t, int64(3), s.ChildSeeks)
	require.Equal(t, int64(2), s.RangeDelReseeks)
	require.Zero(t, s.AsyncSeeks)
	require.Positive(t, s.HeapComparisons)
	require.GreaterOrEqual(t, s.ForwardSeekDuration, time.Duration(0))

	iter.Next()
	require.Equal(t, "f#3,SET", iter.Key().String())
	iter.Prev()
	require.Equal(t, "c#20,SET", iter.Key().String())
	require.Greater(t, iter.Stats().ChildSeeks, s.ChildSeeks)

	iter.ResetStats()
	require.Equal(t, IterStats{}, iter.Stats())
	require.NoError(t, iter.Close())
}

func TestIterStatsFirstLast(t *testing.T) {
	sources := parseSources(t, strings.TrimLeft(`
mem
  a#3,SET:a3
table
  b#2,SET:b2
mem
  c#1,SET:c1
`, "\n"), rundef.Options{})
	iter := buildTestIter(t, sources, nil, nil, nil, nil, nil).(*MergingIter)

	iter.First()
	require.Equal(t, "a#3,SET", iter.Key().String())
	require.Equal(t, int64(3), iter.Stats().ChildSeeks)
	iter.Last()
	require.Equal(t, "c#1,SET", iter.Key().String())
	require.Equal(t, int64(6), iter.Stats().ChildSeeks)
	require.NoError(t, iter.Close())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	sources := parseSources(t, strings.TrimLeft(`
mem
  a#10,SET:a10
table
  b#3,SET:b3
`, "\n"), rundef.Options{})

	var total IterStats
	for i := 0; i < 3; i++ {
		iter := buildTestIter(t, sources, &Options{Metrics: metrics}, nil, nil, nil, nil).(*MergingIter)
		iter.SeekGE(base.MakeSearchKey([]byte("b")))
		require.Equal(t, "b#3,SET", iter.Key().String())
		iter.SeekLE(base.MakeSearchKey([]byte("b")))
		require.Equal(t, "a#10,SET", iter.Key().String())
		total.Merge(iter.Stats())
		require.NoError(t, iter.Close())
	}

	require.Equal(t, float64(3), testutil.ToFloat64(metrics.Iterators))
	require.Equal(t, float64(total.ChildSeeks), testutil.ToFloat64(metrics.ChildSeeks))
	require.Equal(t, float64(12), testutil.ToFloat64(metrics.ChildSeeks))
	require.Zero(t, testutil.ToFloat64(metrics.RangeDelReseeks))
	require.Equal(t, float64(total.HeapComparisons), testutil.ToFloat64(metrics.HeapComparisons))

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	require.Contains(t, names, "mergeiter_iterators_total")
	require.Contains(t, names, "mergeiter_child_seeks_total")

	// Metrics that are not registered are still updated.
	unregistered := NewMetrics(nil)
	iter := buildTestIter(t, sources, &Options{Metrics: unregistered}, nil, nil, nil, nil)
	iter.First()
	require.NoError(t, iter.Close())
	require.Equal(t, float64(1), testutil.ToFloat64(unregistered.Iterators))
}
