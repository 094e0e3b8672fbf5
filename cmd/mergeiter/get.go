// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"fmt"

	"github.com/cockroachdb/mergeiter"
	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/cockroachdb/mergeiter/internal/memrun"
	"github.com/cockroachdb/mergeiter/internal/rundef"
	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	var cfg runFlags
	cmd := &cobra.Command{
		Use:   "get <file> <key>",
		Short: "print the visible versions of a user key",
		Long: `
Print every visible record of the given user key, newest first. Table runs
whose bloom filters exclude the key contribute only their range tombstones.
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, args[0], []byte(args[1]), &cfg)
		},
	}
	cfg.register(cmd)
	return cmd
}

// hasTombstones returns true if any table of the run holds a range tombstone.
func hasTombstones(s *rundef.Source) bool {
	for _, t := range s.Tables {
		props := t.Properties()
		if props.NumTombstones > 0 {
			return true
		}
	}
	return false
}

func runGet(cmd *cobra.Command, path string, key []byte, cfg *runFlags) error {
	opts, err := cfg.iterOptions()
	if err != nil {
		return err
	}
	sources, err := loadRuns(path, opts)
	if err != nil {
		return err
	}

	// Pruned runs with tombstones keep them, behind an empty point run.
	empty := memrun.New(opts.Comparer)
	empty.Freeze()

	b := mergeiter.NewBuilder(opts)
	var searched, pruned int
	for _, s := range sources {
		if s.MayContain(key) {
			searched++
			if err := addSource(b, s, opts.UpperBound); err != nil {
				return err
			}
			continue
		}
		pruned++
		switch {
		case !hasTombstones(s):
		case s.Run.Kind == rundef.Table:
			b.AddPointAndTombstoneIterator(empty.NewIter(nil), s.Tables[0].NewTombstoneIter())
		default:
			// A level's tombstones are only reachable through its segments.
			pruned--
			searched++
			if err := addSource(b, s, opts.UpperBound); err != nil {
				return err
			}
		}
	}
	iter := b.Finish()

	out := cmd.OutOrStdout()
	for iter.SeekGE(base.MakeSearchKey(key)); iter.Valid(); iter.Next() {
		if !opts.Comparer.Equal(iter.Key().UserKey, key) {
			break
		}
		if err := formatKV(out, iter); err != nil {
			break
		}
	}
	if err := iter.Error(); err != nil {
		_ = iter.Close()
		return err
	}
	fmt.Fprintf(out, "runs: %d searched, %d pruned\n", searched, pruned)
	if cfg.stats {
		printStats(out, iter)
	}
	return iter.Close()
}
