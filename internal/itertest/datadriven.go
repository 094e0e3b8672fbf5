// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package itertest provides facilities for testing iterators: a datadriven
// command runner, probes that inject errors and asynchronous reads, and a
// brute-force oracle for merged runs.
package itertest

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/cockroachdb/crlib/crstrings"
	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/mergeiter/internal/base"
)

type iterCmdOpts struct {
	fmtKV           formatKV
	showCommands    bool
	withoutNewlines bool
	stats           func(w io.Writer)
	debug           func(w io.Writer)
	setUpper        func(upper []byte)
}

// An IterOpt configures the behavior of RunInternalIterCmd.
type IterOpt func(*iterCmdOpts)

// A formatKV configures the formatting to use when presenting key-value pairs.
type formatKV func(w io.Writer, iter base.InternalIterator)

// Condensed configures RunInternalIterCmd to output condensed results without
// values, collapsed onto a single line.
func Condensed(opts *iterCmdOpts) {
	opts.fmtKV = condensedFormatKV
	opts.withoutNewlines = true
}

// ShowCommands configures RunInternalIterCmd to show the command in each output
// line (so you don't have to visually match the line to the command).
func ShowCommands(opts *iterCmdOpts) {
	opts.showCommands = true
}

// Verbose configures RunInternalIterCmd to output verbose results.
func Verbose(opts *iterCmdOpts) { opts.fmtKV = verboseFormatKV }

// WithStats configures RunInternalIterCmd to print the output of stats on the
// "stats" command.
func WithStats(stats func(w io.Writer)) IterOpt {
	return func(opts *iterCmdOpts) { opts.stats = stats }
}

// WithDebug configures RunInternalIterCmd to print the output of debug on the
// "debug" command.
func WithDebug(debug func(w io.Writer)) IterOpt {
	return func(opts *iterCmdOpts) { opts.debug = debug }
}

// WithSetUpper configures RunInternalIterCmd to call setUpper on the
// "set-upper <key>" command. "set-upper" with no key clears the bound.
func WithSetUpper(setUpper func(upper []byte)) IterOpt {
	return func(opts *iterCmdOpts) { opts.setUpper = setUpper }
}

func value(iter base.InternalIterator) ([]byte, bool) {
	if !iter.PrepareValue() {
		return nil, false
	}
	return iter.Value(), true
}

func formatInvalid(w io.Writer, iter base.InternalIterator) {
	if err := iter.Error(); err != nil {
		fmt.Fprintf(w, "err=%v", err)
	} else {
		fmt.Fprint(w, ".")
	}
}

func defaultFormatKV(w io.Writer, iter base.InternalIterator) {
	if !iter.Valid() {
		formatInvalid(w, iter)
		return
	}
	v, ok := value(iter)
	if !ok {
		fmt.Fprintf(w, "%s: err=%v", iter.Key().UserKey, iter.Error())
		return
	}
	fmt.Fprintf(w, "%s:%s", iter.Key().UserKey, v)
}

// condensedFormatKV is a formatKV that outputs condensed results.
func condensedFormatKV(w io.Writer, iter base.InternalIterator) {
	if !iter.Valid() {
		formatInvalid(w, iter)
		return
	}
	fmt.Fprintf(w, "<%s:%d>", iter.Key().UserKey, iter.Key().SeqNum())
}

// verboseFormatKV is a formatKV that outputs verbose results.
func verboseFormatKV(w io.Writer, iter base.InternalIterator) {
	if !iter.Valid() {
		formatInvalid(w, iter)
		return
	}
	v, ok := value(iter)
	if !ok {
		fmt.Fprintf(w, "%s: err=%v", iter.Key(), iter.Error())
		return
	}
	fmt.Fprintf(w, "%s:%s", iter.Key(), v)
}

// ParseSeekKey parses the target of a seek command. A bare user key k seeks
// to MakeSearchKey(k) for seek-ge and to the last internal key of k for
// seek-le; a full internal key "k#seq,KIND" is used as is.
func ParseSeekKey(s string, forward bool) base.InternalKey {
	if strings.ContainsRune(s, '#') {
		return base.ParseInternalKey(s)
	}
	if forward {
		return base.MakeSearchKey([]byte(s))
	}
	return base.MakeInternalKey([]byte(s), base.SeqNumZero, base.InternalKeyKindSeekLE)
}

// RunInternalIterCmd evaluates a datadriven command controlling an internal
// iterator, returning a string with the results of the iterator operations.
func RunInternalIterCmd(
	t *testing.T, d *datadriven.TestData, iter base.InternalIterator, opts ...IterOpt,
) string {
	var buf bytes.Buffer
	RunInternalIterCmdWriter(t, &buf, d, iter, opts...)
	return buf.String()
}

// RunInternalIterCmdWriter evaluates a datadriven command controlling an
// internal iterator, writing the results of the iterator operations to the
// provided Writer.
func RunInternalIterCmdWriter(
	t *testing.T, w io.Writer, d *datadriven.TestData, iter base.InternalIterator, opts ...IterOpt,
) {
	o := iterCmdOpts{fmtKV: defaultFormatKV}
	for _, opt := range opts {
		opt(&o)
	}

	lines := crstrings.Lines(d.Input)
	maxCmdLen := 1
	for _, line := range lines {
		maxCmdLen = max(maxCmdLen, len(line))
	}
	for _, line := range lines {
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		if o.showCommands {
			fmt.Fprintf(w, "%*s: ", min(maxCmdLen, 40), line)
		}
		switch parts[0] {
		case "seek-ge", "seek-le":
			if len(parts) != 2 {
				fmt.Fprintf(w, "%s <key>\n", parts[0])
				return
			}
			if parts[0] == "seek-ge" {
				iter.SeekGE(ParseSeekKey(parts[1], true /* forward */))
			} else {
				iter.SeekLE(ParseSeekKey(parts[1], false /* forward */))
			}
		case "first":
			iter.First()
		case "last":
			iter.Last()
		case "next":
			if !iter.Valid() {
				fmt.Fprint(w, "next: iterator is not positioned\n")
				continue
			}
			iter.Next()
		case "prev":
			if !iter.Valid() {
				fmt.Fprint(w, "prev: iterator is not positioned\n")
				continue
			}
			iter.Prev()
		case "set-upper":
			if o.setUpper == nil {
				fmt.Fprint(w, "set-upper: not supported\n")
				return
			}
			var upper []byte
			if len(parts) > 1 {
				upper = []byte(parts[1])
			}
			o.setUpper(upper)
			continue
		case "stats":
			if o.stats != nil {
				o.stats(w)
			}
			continue
		case "debug":
			if o.debug != nil {
				o.debug(w)
				fmt.Fprintln(w)
			}
			continue
		default:
			fmt.Fprintf(w, "unknown op: %s", parts[0])
			return
		}
		o.fmtKV(w, iter)
		if !o.withoutNewlines {
			fmt.Fprintln(w)
		}
	}
}
