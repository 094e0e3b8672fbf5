// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter"
	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/cockroachdb/mergeiter/internal/rundef"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// runFlags are the flags shared by the commands that read a runs file.
type runFlags struct {
	comparer string
	options  string
	upper    string
	stats    bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(
		&f.comparer, "comparer", "", "comparer name (bytewise or reverse); overrides --options")
	cmd.Flags().StringVar(
		&f.options, "options", "", "path to a file holding merging iterator options in [Options] format")
	cmd.Flags().StringVar(
		&f.upper, "upper", "", "exclusive upper bound on user keys")
	cmd.Flags().BoolVar(
		&f.stats, "stats", false, "print iterator statistics")
}

// iterOptions assembles the merging iterator options from the flags.
func (f *runFlags) iterOptions() (*mergeiter.Options, error) {
	opts := &mergeiter.Options{Logger: base.NoopLogger{}}
	if f.options != "" {
		data, err := os.ReadFile(f.options)
		if err != nil {
			return nil, err
		}
		if err := opts.Parse(string(data)); err != nil {
			return nil, errors.Wrapf(err, "parsing %s", f.options)
		}
	}
	if f.comparer != "" {
		c, err := base.LookupComparer(f.comparer)
		if err != nil {
			return nil, err
		}
		opts.Comparer = c
	}
	if f.upper != "" {
		opts.UpperBound = []byte(f.upper)
	}
	opts = opts.EnsureDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// loadRuns reads and materializes the runs described by the file at path.
func loadRuns(path string, opts *mergeiter.Options) ([]*rundef.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	runs, err := rundef.Parse(string(data))
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return rundef.Build(runs, rundef.Options{Comparer: opts.Comparer})
}

// addSource adds the iterators of a materialized run to b.
func addSource(b *mergeiter.Builder, s *rundef.Source, upper []byte) error {
	if s.Run.Kind == rundef.Level {
		li, err := s.NewLevelIter(nil, upper)
		if err != nil {
			return err
		}
		b.AddLevelIterator(li)
		return nil
	}
	b.AddPointAndTombstoneIterator(s.NewIters(nil, upper))
	return nil
}

func newIter(sources []*rundef.Source, opts *mergeiter.Options) (base.InternalIterator, error) {
	b := mergeiter.NewBuilder(opts)
	for _, s := range sources {
		if err := addSource(b, s, opts.UpperBound); err != nil {
			return nil, err
		}
	}
	return b.Finish(), nil
}

func formatKV(w io.Writer, iter base.InternalIterator) error {
	if !iter.PrepareValue() {
		return iter.Error()
	}
	fmt.Fprintf(w, "%s:%s\n", iter.Key(), iter.Value())
	return nil
}

// printStats renders the statistics of iter, if it is a merging iterator.
func printStats(w io.Writer, iter base.InternalIterator) {
	m, ok := iter.(*mergeiter.MergingIter)
	if !ok {
		fmt.Fprintln(w, "no merging iterator statistics")
		return
	}
	writeStatsTable(w, m.Stats())
}

func writeStatsTable(w io.Writer, s mergeiter.IterStats) {
	tbl := tablewriter.NewWriter(w)
	tbl.SetHeader([]string{"Stat", "Value"})
	count := func(n int64) string { return string(crhumanize.Count(n, crhumanize.Compact)) }
	tbl.Append([]string{"child seeks", count(s.ChildSeeks)})
	tbl.Append([]string{"range-del reseeks", count(s.RangeDelReseeks)})
	tbl.Append([]string{"async seeks", count(s.AsyncSeeks)})
	tbl.Append([]string{"heap comparisons", count(s.HeapComparisons)})
	tbl.Append([]string{"forward seek time", s.ForwardSeekDuration.String()})
	tbl.Append([]string{"reverse seek time", s.ReverseSeekDuration.String()})
	tbl.Render()
}
