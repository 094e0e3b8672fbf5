// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockrun

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/cockroachdb/mergeiter/internal/compression"
	"github.com/stretchr/testify/require"
)

func randomKVs(rng *rand.Rand, n int) []base.InternalKV {
	var kvs []base.InternalKV
	for i := 0; i < n; i++ {
		userKey := []byte(fmt.Sprintf("k%05d", i))
		for seq := base.SeqNum(1 + rng.IntN(2)); seq > 0; seq-- {
			value := make([]byte, rng.IntN(100))
			for j := range value {
				value[j] = byte('a' + rng.IntN(26))
			}
			kind := base.InternalKeyKindSet
			if rng.IntN(10) == 0 {
				kind, value = base.InternalKeyKindDelete, nil
			}
			kvs = append(kvs, base.InternalKV{K: base.MakeInternalKey(userKey, seq, kind), V: value})
		}
	}
	return kvs
}

func writeTable(t *testing.T, opts WriterOptions, kvs []base.InternalKV, tombstones ...string) []byte {
	w := NewWriter(opts)
	for _, kv := range kvs {
		require.NoError(t, w.Add(kv.K, kv.V))
	}
	for _, s := range tombstones {
		var start, end string
		var seq uint64
		_, err := fmt.Sscanf(s, "%s %s %d", &start, &end, &seq)
		require.NoError(t, err)
		require.NoError(t, w.DeleteRange([]byte(start), []byte(end), base.SeqNum(seq)))
	}
	data, err := w.Finish()
	require.NoError(t, err)
	return data
}

func collect(t *testing.T, it *Iter, reverse bool) []base.InternalKV {
	var kvs []base.InternalKV
	if reverse {
		it.Last()
	} else {
		it.First()
	}
	for it.Valid() {
		require.True(t, it.PrepareValue())
		kvs = append(kvs, base.InternalKV{K: it.Key(), V: append([]byte(nil), it.Value()...)})
		if reverse {
			it.Prev()
		} else {
			it.Next()
		}
	}
	require.NoError(t, it.Error())
	return kvs
}

func reversed(kvs []base.InternalKV) []base.InternalKV {
	out := make([]base.InternalKV, len(kvs))
	for i := range kvs {
		out[len(kvs)-1-i] = kvs[i]
	}
	return out
}

func requireKVsEqual(t *testing.T, expected, actual []base.InternalKV) {
	require.Equal(t, len(expected), len(actual))
	for i := range expected {
		require.Equal(t, expected[i].K.String(), actual[i].K.String(), "index %d", i)
		require.True(t, bytes.Equal(expected[i].V, actual[i].V), "index %d: %q != %q", i, expected[i].V, actual[i].V)
	}
}

func TestTableRoundtrip(t *testing.T) {
	seed := uint64(time.Now().UnixNano())
	t.Logf("seed %d", seed)
	rng := rand.New(rand.NewPCG(0, seed))
	kvs := randomKVs(rng, 500)
	cmp := base.DefaultComparer.Compare

	for _, s := range []compression.Setting{
		compression.NoCompression, compression.Snappy, compression.MinLZFastest, compression.ZstdLevel1,
	} {
		t.Run(s.String(), func(t *testing.T) {
			data := writeTable(t, WriterOptions{Compression: s, BlockSize: 256, ValueBlockSize: 1024}, kvs)
			tbl, err := Open(data, ReaderOptions{})
			require.NoError(t, err)
			props := tbl.Properties()
			require.Equal(t, uint64(len(kvs)), props.NumEntries)
			require.Greater(t, props.NumDataBlocks, uint64(1))
			require.Greater(t, props.NumValueBlocks, uint64(1))
			require.Equal(t, s, props.Compression)
			require.Equal(t, kvs[0].K.String(), props.Smallest.String())
			require.Equal(t, kvs[len(kvs)-1].K.String(), props.Largest.String())
			require.Nil(t, tbl.NewTombstoneIter())

			it := tbl.NewIter(nil)
			requireKVsEqual(t, kvs, collect(t, it, false))
			requireKVsEqual(t, reversed(kvs), collect(t, it, true))

			for n := 0; n < 200; n++ {
				target := base.MakeInternalKey([]byte(fmt.Sprintf("k%05d", rng.IntN(520))),
					base.SeqNum(rng.IntN(3)), base.InternalKeyKindSet)
				ge, le := -1, -1
				for j := range kvs {
					if c := base.InternalCompare(cmp, kvs[j].K, target); c >= 0 && ge < 0 {
						ge = j
					}
					if base.InternalCompare(cmp, kvs[j].K, target) <= 0 {
						le = j
					}
				}
				it.SeekGE(target)
				if ge < 0 {
					require.False(t, it.Valid())
				} else {
					require.True(t, it.Valid())
					require.Equal(t, kvs[ge].K.String(), it.Key().String())
				}
				it.SeekLE(target)
				if le < 0 {
					require.False(t, it.Valid())
				} else {
					require.True(t, it.Valid())
					require.Equal(t, kvs[le].K.String(), it.Key().String())
					require.True(t, it.PrepareValue())
					require.Truef(t, bytes.Equal(kvs[le].V, it.Value()), "%q != %q", kvs[le].V, it.Value())
				}
			}
			require.NoError(t, it.Close())
		})
	}
}

func TestTableBounds(t *testing.T) {
	var kvs []base.InternalKV
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		kvs = append(kvs, base.InternalKV{K: base.MakeInternalKey([]byte(k), 1, base.InternalKeyKindSet)})
	}
	tbl, err := Open(writeTable(t, WriterOptions{BlockSize: 1}, kvs), ReaderOptions{})
	require.NoError(t, err)
	require.Equal(t, uint64(5), tbl.Properties().NumDataBlocks)

	it := tbl.NewIter(&IterOptions{LowerBound: []byte("b"), UpperBound: []byte("d")})
	requireKVsEqual(t, kvs[1:3], collect(t, it, false))
	requireKVsEqual(t, reversed(kvs[1:3]), collect(t, it, true))
	it.SeekGE(base.MakeSearchKey([]byte("a")))
	require.Equal(t, "b#1,SET", it.Key().String())
	require.Equal(t, base.BoundCheckInbound, it.UpperBoundCheckResult())
	require.False(t, it.MayBeOutOfLowerBound())
	it.SeekLE(base.MakeSearchKey([]byte("z")))
	require.Equal(t, "c#1,SET", it.Key().String())
	it.SeekGE(base.MakeSearchKey([]byte("d")))
	require.False(t, it.Valid())
	it.SeekLE(base.MakeSearchKey([]byte("a")))
	require.False(t, it.Valid())

	it.SetBounds(nil, nil)
	requireKVsEqual(t, kvs, collect(t, it, false))
	require.NoError(t, it.Close())
}

func TestTableTombstones(t *testing.T) {
	kvs := []base.InternalKV{
		{K: base.MakeInternalKey([]byte("c"), 3, base.InternalKeyKindSet), V: []byte("c3")},
		{K: base.MakeInternalKey([]byte("d"), 1, base.InternalKeyKindSet), V: []byte("d1")},
	}
	tbl, err := Open(writeTable(t, WriterOptions{}, kvs, "a e 5", "d g 2"), ReaderOptions{})
	require.NoError(t, err)
	props := tbl.Properties()
	require.Equal(t, uint64(3), props.NumTombstones)
	require.Equal(t, "a#5,RANGEDEL", props.Smallest.String())
	require.Equal(t, "g#inf,RANGEDEL", props.Largest.String())

	ti := tbl.NewTombstoneIter()
	require.NotNil(t, ti)
	var frags []string
	for ti.First(); ti.Valid(); ti.Next() {
		frags = append(frags, fmt.Sprintf("%s-%s#%d", ti.Start().UserKey, ti.End().UserKey, ti.SeqNum()))
	}
	require.Equal(t, []string{"a-d#5", "d-e#5", "e-g#2"}, frags)
	require.NoError(t, ti.Close())

	// A table holding only tombstones has no data blocks.
	tbl, err = Open(writeTable(t, WriterOptions{}, nil, "x z 9"), ReaderOptions{})
	require.NoError(t, err)
	require.Equal(t, uint64(0), tbl.Properties().NumDataBlocks)
	require.False(t, tbl.MayContain([]byte("y")))
	it := tbl.NewIter(nil)
	it.First()
	require.False(t, it.Valid())
	it.SeekLE(base.MakeSearchKey([]byte("y")))
	require.False(t, it.Valid())
	require.NoError(t, it.Close())
}

func TestTableCorruption(t *testing.T) {
	kvs := randomKVs(rand.New(rand.NewPCG(0, 1)), 50)
	data := writeTable(t, WriterOptions{BlockSize: 128, MaxInlineValueSize: -1}, kvs)

	tbl, err := Open(data, ReaderOptions{})
	require.NoError(t, err)
	data[0] ^= 0xff
	it := tbl.NewIter(nil)
	it.First()
	require.False(t, it.Valid())
	require.True(t, errors.Is(it.Error(), base.ErrCorruption), "%v", it.Error())
	require.Error(t, it.Close())
	data[0] ^= 0xff

	truncated := data[:len(data)-1]
	_, err = Open(truncated, ReaderOptions{})
	require.True(t, errors.Is(err, base.ErrCorruption), "%v", err)

	_, err = Open(data, ReaderOptions{Comparer: base.ReverseComparer})
	require.Error(t, err)
}

func TestTableValueCorruption(t *testing.T) {
	kvs := []base.InternalKV{
		{K: base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindSet), V: bytes.Repeat([]byte("x"), 100)},
	}
	data := writeTable(t, WriterOptions{}, kvs)
	tbl, err := Open(data, ReaderOptions{})
	require.NoError(t, err)
	require.Equal(t, uint64(1), tbl.Properties().NumValueBlocks)

	// Corrupt the value block; the key remains readable.
	vh := tbl.valueBlocks[0]
	data[vh.Offset] ^= 0xff
	it := tbl.NewIter(nil)
	it.First()
	require.True(t, it.Valid())
	require.Equal(t, "a#1,SET", it.Key().String())
	require.False(t, it.PrepareValue())
	require.True(t, errors.Is(it.Error(), base.ErrCorruption))
}

func TestTableAsyncReads(t *testing.T) {
	defer leaktest.AfterTest(t)()
	kvs := randomKVs(rand.New(rand.NewPCG(0, 2)), 200)
	data := writeTable(t, WriterOptions{BlockSize: 128}, kvs)
	tbl, err := Open(data, ReaderOptions{AsyncReads: true})
	require.NoError(t, err)
	require.Greater(t, tbl.Properties().NumDataBlocks, uint64(2))

	it := tbl.NewIter(nil)
	it.First()
	require.False(t, it.Valid())
	require.True(t, base.IsTryAgain(it.Error()))
	it.First()
	require.True(t, it.Valid())
	require.NoError(t, it.Error())
	require.Equal(t, kvs[0].K.String(), it.Key().String())

	// Stepping across blocks reads synchronously.
	for n := 1; n < len(kvs); n++ {
		it.Next()
		require.True(t, it.Valid())
		require.Equal(t, kvs[n].K.String(), it.Key().String())
	}
	it.Next()
	require.False(t, it.Valid())
	require.NoError(t, it.Error())

	target := kvs[len(kvs)/2].K
	it.SeekGE(target)
	require.True(t, base.IsTryAgain(it.Error()))
	it.SeekGE(target)
	require.True(t, it.Valid())
	require.Equal(t, target.String(), it.Key().String())

	// An unconsumed load is awaited by Close.
	it.SeekLE(kvs[0].K)
	require.True(t, base.IsTryAgain(it.Error()))
	require.NoError(t, it.Close())
}

func TestTableCache(t *testing.T) {
	defer leaktest.AfterTest(t)()
	kvs := randomKVs(rand.New(rand.NewPCG(0, 3)), 300)
	data := writeTable(t, WriterOptions{BlockSize: 256, Compression: compression.Snappy}, kvs)
	cache := NewCache(1 << 20)
	tbl, err := Open(data, ReaderOptions{Cache: cache, AsyncReads: true})
	require.NoError(t, err)

	it := tbl.NewIter(nil)
	it.First()
	require.True(t, base.IsTryAgain(it.Error()))
	it.First()
	for it.Valid() {
		require.True(t, it.PrepareValue())
		it.Next()
	}
	require.NoError(t, it.Close())
	read := tbl.BlocksRead()
	require.Greater(t, read, int64(0))
	m := cache.Metrics()
	require.Equal(t, int(read), m.Count)

	// Every block is now cached: concurrent readers read nothing and never
	// report try-again.
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			it := tbl.NewIter(nil)
			defer it.Close()
			n := 0
			for it.Last(); it.Valid(); it.Prev() {
				if !it.PrepareValue() {
					panic(it.Error())
				}
				n++
			}
			if it.Error() != nil || n != len(kvs) {
				panic(fmt.Sprintf("read %d of %d: %v", n, len(kvs), it.Error()))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, read, tbl.BlocksRead())
	require.Greater(t, cache.Metrics().Hits, m.Hits)

	// A small cache evicts.
	small := NewCache(512)
	tbl, err = Open(data, ReaderOptions{Cache: small})
	require.NoError(t, err)
	require.Len(t, collect(t, tbl.NewIter(nil), false), len(kvs))
	require.LessOrEqual(t, small.Metrics().Size, int64(512))
}

func TestTableFilter(t *testing.T) {
	kvs := randomKVs(rand.New(rand.NewPCG(0, 4)), 100)
	tbl, err := Open(writeTable(t, WriterOptions{}, kvs), ReaderOptions{})
	require.NoError(t, err)
	for _, kv := range kvs {
		require.True(t, tbl.MayContain(kv.K.UserKey))
	}
	misses := 0
	for i := 0; i < 1000; i++ {
		if !tbl.MayContain([]byte(fmt.Sprintf("absent-%d", i))) {
			misses++
		}
	}
	require.Greater(t, misses, 900)
}

func TestWriterErrors(t *testing.T) {
	w := NewWriter(WriterOptions{})
	require.NoError(t, w.Add(base.MakeInternalKey([]byte("b"), 2, base.InternalKeyKindSet), nil))
	require.Error(t, w.Add(base.MakeInternalKey([]byte("a"), 2, base.InternalKeyKindSet), nil))
	require.Error(t, w.Add(base.MakeInternalKey([]byte("b"), 2, base.InternalKeyKindSet), nil))
	require.Error(t, w.Add(base.MakeInternalKey([]byte("b"), 3, base.InternalKeyKindSet), nil))
	require.NoError(t, w.Add(base.MakeInternalKey([]byte("b"), 1, base.InternalKeyKindSet), nil))
	require.Error(t, w.Add(base.MakeInternalKey([]byte("c"), 1, base.InternalKeyKindRangeDelete), nil))
	require.Error(t, w.DeleteRange([]byte("c"), []byte("c"), 1))
	_, err := w.Finish()
	require.NoError(t, err)
	_, err = w.Finish()
	require.Error(t, err)
	require.Error(t, w.Add(base.MakeInternalKey([]byte("z"), 1, base.InternalKeyKindSet), nil))
}
