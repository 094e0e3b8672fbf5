// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// The mergeiter command scans, queries and benchmarks merged views over sorted
// runs described in the rundef text format.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mergeiter [command] (flags)",
		Short: "merging iterator introspection and benchmarking tool",
		Long: `
The runs given to scan and get are read from a file in the rundef format:
runs are listed newest first, each introduced by a "mem", "table" or "level"
header line followed by point records (key#seq,KIND:value) and range
tombstones (start-end#seq).
`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newScanCmd(), newGetCmd(), newBenchCmd())
	return rootCmd
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	if err := newRootCmd().Execute(); err != nil {
		// Cobra has already printed the error message.
		os.Exit(1)
	}
}
