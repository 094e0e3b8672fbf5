// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/spf13/cobra"
)

type scanConfig struct {
	runFlags
	reverse bool
	seekGE  string
	seekLE  string
	limit   int
}

func newScanCmd() *cobra.Command {
	var cfg scanConfig
	cmd := &cobra.Command{
		Use:   "scan <file>",
		Short: "print the visible records of the runs in a file",
		Long: `
Print the records of the merged view over the runs in the file, in key order
or in reverse key order with --reverse. --seek-ge and --seek-le start the scan
at the first record >= (or the last record <=) the given user key instead of
at either end.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args[0], &cfg)
		},
	}
	cfg.register(cmd)
	cmd.Flags().BoolVarP(
		&cfg.reverse, "reverse", "r", false, "reverse scan")
	cmd.Flags().StringVar(
		&cfg.seekGE, "seek-ge", "", "start the scan at the first record >= key")
	cmd.Flags().StringVar(
		&cfg.seekLE, "seek-le", "", "start the scan at the last record <= key; implies --reverse")
	cmd.Flags().IntVar(
		&cfg.limit, "limit", 0, "maximum number of records to print (0 means unlimited)")
	return cmd
}

func runScan(cmd *cobra.Command, path string, cfg *scanConfig) error {
	if cfg.seekGE != "" && cfg.seekLE != "" {
		return errors.New("--seek-ge and --seek-le are mutually exclusive")
	}
	opts, err := cfg.iterOptions()
	if err != nil {
		return err
	}
	sources, err := loadRuns(path, opts)
	if err != nil {
		return err
	}
	iter, err := newIter(sources, opts)
	if err != nil {
		return err
	}
	reverse := cfg.reverse || cfg.seekLE != ""
	switch {
	case cfg.seekGE != "":
		iter.SeekGE(base.MakeSearchKey([]byte(cfg.seekGE)))
	case cfg.seekLE != "":
		// The last internal key of the user key.
		iter.SeekLE(base.MakeInternalKey([]byte(cfg.seekLE), base.SeqNumZero, base.InternalKeyKindSeekLE))
	case reverse:
		iter.Last()
	default:
		iter.First()
	}

	out := cmd.OutOrStdout()
	n := 0
	for iter.Valid() && (cfg.limit == 0 || n < cfg.limit) {
		if err := formatKV(out, iter); err != nil {
			break
		}
		n++
		if reverse {
			iter.Prev()
		} else {
			iter.Next()
		}
	}
	if err := iter.Error(); err != nil {
		_ = iter.Close()
		return err
	}
	if cfg.stats {
		printStats(out, iter)
	}
	return iter.Close()
}
