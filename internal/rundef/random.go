// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rundef

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/cockroachdb/mergeiter/internal/blockrun"
	"github.com/cockroachdb/mergeiter/internal/compression"
	"github.com/cockroachdb/mergeiter/internal/keyspan"
)

// RandomOptions configures Random.
type RandomOptions struct {
	// Runs is the number of runs.
	Runs int
	// Keys is the size of the user key space.
	Keys int
	// Points and Tombstones are the maximum number of records of each kind
	// per run.
	Points     int
	Tombstones int
	// MaxSegments is the maximum number of segments of a Level run. Zero
	// disables Level runs.
	MaxSegments int
	// MaxTombstoneWidth is the maximum number of user keys a range tombstone
	// spans. Zero means Keys/4.
	MaxTombstoneWidth int
}

// seqsPerRun is the width of the sequence number range of each run.
const seqsPerRun = 1000

var randomCompression = []compression.Setting{
	compression.NoCompression,
	compression.Snappy,
	compression.MinLZFastest,
	compression.ZstdLevel1,
}

// RandomKey returns the i-th user key of the key space used by Random.
func RandomKey(i int) []byte {
	return []byte(fmt.Sprintf("k%03d", i))
}

// Random generates runs of random records. Sequence numbers follow the
// recency of the runs: every record of a run has a higher sequence number
// than every record of the runs after it, and sequence numbers are unique.
func Random(rng *rand.Rand, o RandomOptions) []*Run {
	if o.Keys <= 0 {
		o.Keys = 26
	}
	width := o.MaxTombstoneWidth
	if width <= 0 {
		width = max(1, o.Keys/4)
	}
	runs := make([]*Run, o.Runs)
	for i := range runs {
		// Run i holds sequence numbers in (base, base+seqsPerRun).
		seq := base.SeqNum((o.Runs - i) * seqsPerRun)
		numPoints := rng.IntN(o.Points + 1)
		numTombstones := 0
		if o.Tombstones > 0 {
			numTombstones = rng.IntN(o.Tombstones + 1)
		}
		var points []base.InternalKV
		var tombstones []keyspan.Span
		for numPoints+numTombstones > 0 {
			seq++
			if rng.IntN(numPoints+numTombstones) < numPoints {
				numPoints--
				points = append(points, randomPoint(rng, o.Keys, seq))
				continue
			}
			numTombstones--
			start := rng.IntN(o.Keys)
			end := min(o.Keys, start+1+rng.IntN(width))
			tombstones = append(tombstones, keyspan.Span{
				Start:  RandomKey(start),
				End:    RandomKey(end),
				SeqNum: seq,
			})
		}

		r := &Run{Kind: Kind(rng.IntN(3))}
		if r.Kind == Level && o.MaxSegments == 0 {
			r.Kind = Table
		}
		if r.Kind != Memory {
			r.Writer.BlockSize = 32 + rng.IntN(256)
			r.Writer.Compression = randomCompression[rng.IntN(len(randomCompression))]
			if rng.IntN(4) == 0 {
				r.Writer.MaxInlineValueSize = 2
			}
		}
		if r.Kind != Level {
			r.Points, r.Tombstones = points, tombstones
		} else {
			r.Segments = splitSegments(rng, o.Keys, 1+rng.IntN(o.MaxSegments), r.Writer, points, tombstones)
		}
		runs[i] = r
	}
	return runs
}

func randomPoint(rng *rand.Rand, keys int, seq base.SeqNum) base.InternalKV {
	kind := base.InternalKeyKindSet
	switch n := rng.IntN(10); {
	case n == 0:
		kind = base.InternalKeyKindDelete
	case n == 1:
		kind = base.InternalKeyKindMerge
	}
	return base.InternalKV{
		K: base.MakeInternalKey(RandomKey(rng.IntN(keys)), seq, kind),
		V: []byte(fmt.Sprintf("v%d", seq)),
	}
}

// splitSegments partitions the key space into n contiguous ranges and
// assigns each record to the segment of its range. Tombstones crossing a
// range boundary are split at the boundary.
func splitSegments(
	rng *rand.Rand,
	keys, n int,
	w blockrun.WriterOptions,
	points []base.InternalKV,
	tombstones []keyspan.Span,
) []*Run {
	n = min(n, keys)
	cuts := []int{0}
	for len(cuts) < n {
		c := 1 + rng.IntN(keys)
		if !slices.Contains(cuts, c) {
			cuts = append(cuts, c)
		}
	}
	slices.Sort(cuts)
	cuts = append(cuts, keys+1)

	segments := make([]*Run, len(cuts)-1)
	for j := range segments {
		seg := &Run{Kind: Table, Writer: w}
		lo, hi := RandomKey(cuts[j]), RandomKey(cuts[j+1])
		for _, kv := range points {
			if bytes.Compare(kv.K.UserKey, lo) >= 0 && bytes.Compare(kv.K.UserKey, hi) < 0 {
				seg.Points = append(seg.Points, kv)
			}
		}
		for _, t := range tombstones {
			start, end := t.Start, t.End
			if bytes.Compare(start, lo) < 0 {
				start = lo
			}
			if bytes.Compare(end, hi) > 0 {
				end = hi
			}
			if bytes.Compare(start, end) < 0 {
				seg.Tombstones = append(seg.Tombstones, keyspan.Span{Start: start, End: end, SeqNum: t.SeqNum})
			}
		}
		segments[j] = seg
	}
	return segments
}
