// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package memrun

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/stretchr/testify/require"
)

func makeRun(t *testing.T, kvs ...string) *Run {
	r := New(nil)
	for _, s := range kvs {
		kv := base.ParseInternalKV(s)
		require.NoError(t, r.Add(kv.K, kv.V))
	}
	return r
}

func scanForward(it *Iter) string {
	var parts []string
	for it.First(); it.Valid(); it.Next() {
		parts = append(parts, fmt.Sprintf("%s:%s", it.Key(), it.Value()))
	}
	return strings.Join(parts, " ")
}

func scanReverse(it *Iter) string {
	var parts []string
	for it.Last(); it.Valid(); it.Prev() {
		parts = append(parts, it.Key().String())
	}
	return strings.Join(parts, " ")
}

func TestRunIter(t *testing.T) {
	r := makeRun(t, "b#3,SET:b3", "a#5,SET:a5", "b#7,DEL:", "c#1,MERGE:c1")
	require.Equal(t, 4, r.Len())

	it := r.NewIter(nil)
	defer it.Close()
	require.Equal(t, "a#5,SET:a5 b#7,DEL: b#3,SET:b3 c#1,MERGE:c1", scanForward(it))
	require.Equal(t, "c#1,MERGE b#3,SET b#7,DEL a#5,SET", scanReverse(it))

	it.SeekGE(base.MakeInternalKey([]byte("b"), 5, base.InternalKeyKindMax))
	require.True(t, it.Valid())
	require.Equal(t, "b#3,SET", it.Key().String())
	it.SeekLE(base.MakeInternalKey([]byte("b"), 5, base.InternalKeyKindMax))
	require.True(t, it.Valid())
	require.Equal(t, "b#7,DEL", it.Key().String())
	it.SeekGE(base.MakeSearchKey([]byte("d")))
	require.False(t, it.Valid())
	it.SeekLE(base.MakeSearchKey([]byte("a")))
	require.False(t, it.Valid())
	require.NoError(t, it.Error())
}

func TestRunIterBounds(t *testing.T) {
	r := makeRun(t, "a#1,SET:", "b#1,SET:", "c#1,SET:", "d#1,SET:")

	it := r.NewIter(&IterOptions{LowerBound: []byte("b"), UpperBound: []byte("d")})
	require.Equal(t, "b#1,SET: c#1,SET:", scanForward(it))
	require.Equal(t, "c#1,SET b#1,SET", scanReverse(it))
	require.False(t, it.MayBeOutOfLowerBound())

	it.SeekGE(base.MakeSearchKey([]byte("a")))
	require.Equal(t, "b#1,SET", it.Key().String())
	require.Equal(t, base.BoundCheckInbound, it.UpperBoundCheckResult())
	it.SeekLE(base.MakeSearchKey([]byte("z")))
	require.Equal(t, "c#1,SET", it.Key().String())
	it.SeekGE(base.MakeSearchKey([]byte("d")))
	require.False(t, it.Valid())

	it.SetBounds(nil, nil)
	require.Equal(t, "a#1,SET: b#1,SET: c#1,SET: d#1,SET:", scanForward(it))
	require.Equal(t, base.BoundCheckUnknown, it.UpperBoundCheckResult())
}

func TestRunSnapshot(t *testing.T) {
	r := makeRun(t, "a#1,SET:", "a#5,SET:", "b#9,SET:", "c#2,SET:")
	require.NoError(t, r.DeleteRange([]byte("a"), []byte("c"), 4))
	require.NoError(t, r.DeleteRange([]byte("b"), []byte("d"), 8))

	it := r.NewIter(&IterOptions{Snapshot: 5})
	require.Equal(t, "a#1,SET: c#2,SET:", scanForward(it))
	require.Equal(t, "c#2,SET a#1,SET", scanReverse(it))

	ti := r.NewTombstoneIter(&IterOptions{Snapshot: 5})
	require.NotNil(t, ti)
	ti.First()
	require.True(t, ti.Valid())
	require.Equal(t, "a", string(ti.Start().UserKey))
	require.Equal(t, "c", string(ti.End().UserKey))
	require.Equal(t, base.SeqNum(4), ti.SeqNum())
	ti.Next()
	require.False(t, ti.Valid())

	require.Nil(t, r.NewTombstoneIter(&IterOptions{Snapshot: 3}))

	ti = r.NewTombstoneIter(nil)
	var frags []string
	for ti.First(); ti.Valid(); ti.Next() {
		frags = append(frags, fmt.Sprintf("%s-%s#%d", ti.Start().UserKey, ti.End().UserKey, ti.SeqNum()))
	}
	require.Equal(t, []string{"a-b#4", "b-c#8", "c-d#8"}, frags)
}

func TestRunIteratorIsolation(t *testing.T) {
	r := makeRun(t, "a#1,SET:")
	it := r.NewIter(nil)
	require.NoError(t, r.Add(base.ParseInternalKey("b#2,SET"), nil))
	require.Equal(t, "a#1,SET:", scanForward(it))
	require.Equal(t, "a#1,SET: b#2,SET:", scanForward(r.NewIter(nil)))
}

func TestRunFrozen(t *testing.T) {
	r := makeRun(t, "a#1,SET:")
	r.Freeze()
	require.True(t, errors.Is(r.Add(base.ParseInternalKey("b#2,SET"), nil), ErrFrozen))
	require.True(t, errors.Is(r.DeleteRange([]byte("a"), []byte("b"), 3), ErrFrozen))
	require.Error(t, New(nil).Add(base.ParseInternalKey("a#1,RANGEDEL"), nil))
}

func TestRunConcurrent(t *testing.T) {
	defer leaktest.AfterTest(t)()
	r := New(nil)
	var wg sync.WaitGroup
	const writers, perWriter = 4, 200
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				k := base.MakeInternalKey([]byte(fmt.Sprintf("%d-%04d", w, i)), base.SeqNum(i+1), base.InternalKeyKindSet)
				if err := r.Add(k, nil); err != nil {
					panic(err)
				}
			}
		}(w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				it := r.NewIter(nil)
				var prev base.InternalKey
				for it.First(); it.Valid(); it.Next() {
					if prev.UserKey != nil && base.InternalCompare(base.DefaultComparer.Compare, prev, it.Key()) >= 0 {
						panic("out of order")
					}
					prev = it.Key()
				}
				_ = it.Close()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, writers*perWriter, r.Len())
}

func TestRunIterClosed(t *testing.T) {
	r := makeRun(t, "a#1,SET:a1")
	it := r.NewIter(nil)
	it.First()
	require.True(t, it.Valid())
	require.NoError(t, it.Close())
	require.False(t, it.Valid())
	require.ErrorIs(t, it.Error(), base.ErrClosed)
	it.First()
	require.False(t, it.Valid())
	it.SeekGE(base.MakeSearchKey([]byte("a")))
	require.False(t, it.Valid())
}
