// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter"
	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/cockroachdb/mergeiter/internal/blockrun"
	"github.com/cockroachdb/mergeiter/internal/rundef"
	"github.com/guptarohit/asciigraph"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	minLatency = 100 * time.Nanosecond
	maxLatency = 10 * time.Second
)

type benchConfig struct {
	seed        uint64
	runs        int
	keys        int
	points      int
	tombstones  int
	segments    int
	readers     int
	ops         int
	scanLength  int
	cacheSize   int64
	asyncReads  bool
	plotHeight  int
	showMetrics bool
}

func newBenchCmd() *cobra.Command {
	var cfg benchConfig
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "benchmark seeks and short scans over random runs",
		Long: `
Generate random runs of point records and range tombstones, then run
concurrent readers that each perform a random seek followed by a short scan.
Reports per-operation latencies and merging iterator statistics.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd.OutOrStdout(), &cfg)
		},
	}
	cmd.Flags().Uint64Var(
		&cfg.seed, "seed", 1, "random seed")
	cmd.Flags().IntVar(
		&cfg.runs, "runs", 8, "number of sorted runs")
	cmd.Flags().IntVar(
		&cfg.keys, "keys", 10000, "size of the user key space")
	cmd.Flags().IntVar(
		&cfg.points, "points", 5000, "maximum number of point records per run")
	cmd.Flags().IntVar(
		&cfg.tombstones, "tombstones", 20, "maximum number of range tombstones per run")
	cmd.Flags().IntVar(
		&cfg.segments, "segments", 4, "maximum number of segments per level run (0 disables levels)")
	cmd.Flags().IntVarP(
		&cfg.readers, "readers", "c", 4, "number of concurrent readers")
	cmd.Flags().IntVarP(
		&cfg.ops, "ops", "n", 10000, "number of operations per reader")
	cmd.Flags().IntVar(
		&cfg.scanLength, "scan-length", 10, "number of records stepped over after each seek")
	cmd.Flags().Int64Var(
		&cfg.cacheSize, "cache-size", 8<<20, "size of the shared block cache in bytes (0 disables it)")
	cmd.Flags().BoolVar(
		&cfg.asyncReads, "async", false, "read uncached blocks asynchronously")
	cmd.Flags().IntVar(
		&cfg.plotHeight, "plot-height", 10, "height of the latency plot (0 disables it)")
	cmd.Flags().BoolVar(
		&cfg.showMetrics, "metrics", false, "print the aggregated iterator statistics")
	return cmd
}

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(minLatency.Nanoseconds(), maxLatency.Nanoseconds(), 2)
}

func clampLatency(d time.Duration) time.Duration {
	return min(max(d, minLatency), maxLatency)
}

func runBench(out io.Writer, cfg *benchConfig) error {
	if cfg.readers <= 0 {
		return errors.Newf("--readers must be positive, got %d", cfg.readers)
	}
	rng := rand.New(rand.NewPCG(cfg.seed, cfg.seed))
	runs := rundef.Random(rng, rundef.RandomOptions{
		Runs:        cfg.runs,
		Keys:        cfg.keys,
		Points:      cfg.points,
		Tombstones:  cfg.tombstones,
		MaxSegments: cfg.segments,
	})
	buildOpts := rundef.Options{AsyncReads: cfg.asyncReads}
	if cfg.cacheSize > 0 {
		buildOpts.Cache = blockrun.NewCache(cfg.cacheSize)
	}
	start := crtime.NowMono()
	sources, err := rundef.Build(runs, buildOpts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "built %d runs in %s\n", len(sources), start.Elapsed())

	metrics := mergeiter.NewMetrics(nil)
	opts := &mergeiter.Options{Logger: base.NoopLogger{}, Metrics: metrics}

	var mu struct {
		sync.Mutex
		hist  *hdrhistogram.Histogram
		stats mergeiter.IterStats
	}
	mu.hist = newHistogram()

	var g errgroup.Group
	start = crtime.NowMono()
	for r := 0; r < cfg.readers; r++ {
		seed := cfg.seed + uint64(r) + 1
		g.Go(func() error {
			hist, stats, err := benchReader(sources, opts, cfg, rand.New(rand.NewPCG(seed, seed)))
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			mu.hist.Merge(hist)
			mu.stats.Merge(stats)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := start.Elapsed()

	h := mu.hist
	total := h.TotalCount()
	fmt.Fprintf(out, "%s ops in %s (%s ops/sec)\n",
		crhumanize.Count(total, crhumanize.Compact), elapsed.Round(time.Millisecond),
		crhumanize.Count(int64(float64(total)/elapsed.Seconds()), crhumanize.Compact))

	tbl := tablewriter.NewWriter(out)
	tbl.SetHeader([]string{"ops", "mean", "p50", "p95", "p99", "max"})
	tbl.Append([]string{
		fmt.Sprint(total),
		time.Duration(h.Mean()).String(),
		time.Duration(h.ValueAtQuantile(50)).String(),
		time.Duration(h.ValueAtQuantile(95)).String(),
		time.Duration(h.ValueAtQuantile(99)).String(),
		time.Duration(h.Max()).String(),
	})
	tbl.Render()

	if cfg.plotHeight > 0 && total > 0 {
		// Latency in microseconds at each percentile.
		values := make([]float64, 100)
		for i := range values {
			values[i] = float64(h.ValueAtQuantile(float64(i+1))) / 1e3
		}
		fmt.Fprintln(out, asciigraph.Plot(values,
			asciigraph.Height(cfg.plotHeight), asciigraph.Caption("latency (µs) by percentile")))
	}
	if cfg.showMetrics {
		writeStatsTable(out, mu.stats)
		if buildOpts.Cache != nil {
			fmt.Fprintf(out, "cache: %s\n", buildOpts.Cache.Metrics())
		}
	}
	return nil
}

// benchReader runs cfg.ops seek-and-scan operations, each on a new merging
// iterator.
func benchReader(
	sources []*rundef.Source, opts *mergeiter.Options, cfg *benchConfig, rng *rand.Rand,
) (*hdrhistogram.Histogram, mergeiter.IterStats, error) {
	hist := newHistogram()
	var stats mergeiter.IterStats
	for i := 0; i < cfg.ops; i++ {
		start := crtime.NowMono()
		iter, err := newIter(sources, opts)
		if err != nil {
			return nil, stats, err
		}
		key := rundef.RandomKey(rng.IntN(max(1, cfg.keys)))
		forward := rng.IntN(2) == 0
		if forward {
			iter.SeekGE(base.MakeSearchKey(key))
		} else {
			iter.SeekLE(base.MakeReverseSearchKey(key))
		}
		for n := 0; iter.Valid() && n < cfg.scanLength; n++ {
			if !iter.PrepareValue() {
				break
			}
			if forward {
				iter.Next()
			} else {
				iter.Prev()
			}
		}
		if m, ok := iter.(*mergeiter.MergingIter); ok {
			stats.Merge(m.Stats())
		}
		if err := iter.Close(); err != nil {
			return nil, stats, err
		}
		if err := hist.RecordValue(clampLatency(start.Elapsed()).Nanoseconds()); err != nil {
			return nil, stats, err
		}
	}
	return hist, stats, nil
}
