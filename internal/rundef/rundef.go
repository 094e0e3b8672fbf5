// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package rundef parses a text description of sorted runs and materializes
// it as memory runs, tables and multi-segment levels. It is used by tests
// and by the mergeiter command.
//
// Runs are listed newest first. Each run starts with a header line naming its
// kind, followed by lines of records:
//
//	mem
//	  a#12,SET:a12 b#11,DEL:
//	  c-f#10
//	table compression=snappy block-size=64
//	  a#8,SET:a8 d#7,SET:d7
//	level compression=zstd
//	  segment
//	    b#5,SET:b5 c#4,MERGE:c4
//	  segment
//	    e#3,SET:e3
//	    e-h#6
//
// A token containing a comma is a point record in the form
// <user-key>#<seqnum>,<kind>:<value>; any other token is a range tombstone
// <start>-<end>#<seqnum>. Lines starting with '#' are comments. Table and
// level headers accept compression, block-size and inline-values (the largest
// value stored next to its key); a level's arguments apply to its segments.
package rundef

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/cockroachdb/crlib/crstrings"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/cockroachdb/mergeiter/internal/blockrun"
	"github.com/cockroachdb/mergeiter/internal/compression"
	"github.com/cockroachdb/mergeiter/internal/keyspan"
	"github.com/cockroachdb/mergeiter/internal/levelrun"
	"github.com/cockroachdb/mergeiter/internal/memrun"
)

// Kind is the kind of a run.
type Kind int8

const (
	// Memory runs are stored in a memrun.Run.
	Memory Kind = iota
	// Table runs are stored in a single blockrun table.
	Table
	// Level runs are split into segments, each stored in its own table, and
	// are read through a levelrun.Iter.
	Level
)

var kindNames = [...]string{Memory: "mem", Table: "table", Level: "level"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Run describes one sorted run.
type Run struct {
	Kind Kind
	// Points and Tombstones hold the records of Memory and Table runs, and
	// of the segments of a Level.
	Points     []base.InternalKV
	Tombstones []keyspan.Span
	// Segments holds the segments of a Level. Each segment is a Table run.
	Segments []*Run
	// Writer configures the tables of Table and Level runs.
	Writer blockrun.WriterOptions
}

// Parse parses runs in the format described in the package documentation.
func Parse(input string) ([]*Run, error) {
	var runs []*Run
	var level *Run
	var cur *Run
	for lineno, line := range crstrings.Lines(input) {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "mem", "table", "level":
			cur = &Run{Kind: map[string]Kind{"mem": Memory, "table": Table, "level": Level}[fields[0]]}
			if err := parseWriterArgs(&cur.Writer, fields[1:]); err != nil {
				return nil, errors.Wrapf(err, "rundef: line %d", errors.Safe(lineno+1))
			}
			runs = append(runs, cur)
			level = nil
			if cur.Kind == Level {
				level = cur
			}
		case "segment":
			if level == nil {
				return nil, errors.Newf("rundef: line %d: segment outside of a level", errors.Safe(lineno+1))
			}
			cur = &Run{Kind: Table, Writer: level.Writer}
			if err := parseWriterArgs(&cur.Writer, fields[1:]); err != nil {
				return nil, errors.Wrapf(err, "rundef: line %d", errors.Safe(lineno+1))
			}
			level.Segments = append(level.Segments, cur)
		default:
			if cur == nil || cur.Kind == Level {
				return nil, errors.Newf("rundef: line %d: records must follow a mem, table or segment header",
					errors.Safe(lineno+1))
			}
			for _, tok := range fields {
				if err := cur.addToken(tok); err != nil {
					return nil, errors.Wrapf(err, "rundef: line %d", errors.Safe(lineno+1))
				}
			}
		}
	}
	return runs, nil
}

func (r *Run) addToken(tok string) error {
	if strings.IndexByte(tok, ',') >= 0 {
		if !strings.Contains(tok, ":") {
			tok += ":"
		}
		kv, err := base.TryParseInternalKV(tok)
		if err != nil {
			return err
		}
		if kv.K.Kind() == base.InternalKeyKindRangeDelete {
			return errors.Newf("point record %q has kind RANGEDEL; write range tombstones as start-end#seq", tok)
		}
		r.Points = append(r.Points, kv)
		return nil
	}
	s, err := keyspan.ParseSpan(tok)
	if err != nil {
		return err
	}
	r.Tombstones = append(r.Tombstones, s)
	return nil
}

func parseWriterArgs(o *blockrun.WriterOptions, args []string) error {
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return errors.Newf("invalid argument %q", arg)
		}
		var err error
		switch key {
		case "compression":
			o.Compression, err = compression.ParseSetting(value)
		case "block-size":
			o.BlockSize, err = strconv.Atoi(value)
		case "inline-values":
			o.MaxInlineValueSize, err = strconv.Atoi(value)
		default:
			return errors.Newf("unknown argument %q", key)
		}
		if err != nil {
			return errors.Wrapf(err, "parsing %s", key)
		}
	}
	return nil
}

// Levels returns, for every run, its point records and range tombstones, with
// a level's segments concatenated.
func Levels(runs []*Run) (points [][]base.InternalKV, tombstones [][]keyspan.Span) {
	points = make([][]base.InternalKV, len(runs))
	tombstones = make([][]keyspan.Span, len(runs))
	for i, r := range runs {
		if r.Kind != Level {
			points[i] = r.Points
			tombstones[i] = r.Tombstones
			continue
		}
		for _, s := range r.Segments {
			points[i] = append(points[i], s.Points...)
			tombstones[i] = append(tombstones[i], s.Tombstones...)
		}
	}
	return points, tombstones
}

// Format returns the runs in the format accepted by Parse.
func Format(runs []*Run) string {
	var buf strings.Builder
	writeRecords := func(r *Run, indent string) {
		if len(r.Points) > 0 {
			buf.WriteString(indent)
			for i, kv := range r.Points {
				if i > 0 {
					buf.WriteByte(' ')
				}
				fmt.Fprintf(&buf, "%s:%s", kv.K, kv.V)
			}
			buf.WriteByte('\n')
		}
		if len(r.Tombstones) > 0 {
			buf.WriteString(indent)
			for i, s := range r.Tombstones {
				if i > 0 {
					buf.WriteByte(' ')
				}
				buf.WriteString(s.String())
			}
			buf.WriteByte('\n')
		}
	}
	for _, r := range runs {
		buf.WriteString(r.Kind.String())
		if r.Kind != Memory && r.Writer.Compression != (compression.Setting{}) {
			fmt.Fprintf(&buf, " compression=%s", r.Writer.Compression)
		}
		if r.Kind != Memory && r.Writer.BlockSize > 0 {
			fmt.Fprintf(&buf, " block-size=%d", r.Writer.BlockSize)
		}
		if r.Kind != Memory && r.Writer.MaxInlineValueSize > 0 {
			fmt.Fprintf(&buf, " inline-values=%d", r.Writer.MaxInlineValueSize)
		}
		buf.WriteByte('\n')
		if r.Kind != Level {
			writeRecords(r, "  ")
			continue
		}
		for _, s := range r.Segments {
			buf.WriteString("  segment\n")
			writeRecords(s, "    ")
		}
	}
	return buf.String()
}

// Options configures the materialization of runs.
type Options struct {
	Comparer   *base.Comparer
	Cache      *blockrun.Cache
	AsyncReads bool
}

// Source is a materialized run.
type Source struct {
	Run *Run
	// Mem is set for Memory runs.
	Mem *memrun.Run
	// Tables holds the table of a Table run or the tables of a Level's
	// segments.
	Tables []*blockrun.Table

	comparer *base.Comparer
}

// Build materializes runs.
func Build(runs []*Run, opts Options) ([]*Source, error) {
	opts.Comparer = opts.Comparer.EnsureDefaults()
	sources := make([]*Source, len(runs))
	for i, r := range runs {
		s := &Source{Run: r, comparer: opts.Comparer}
		switch r.Kind {
		case Memory:
			s.Mem = memrun.New(opts.Comparer)
			for _, kv := range r.Points {
				if err := s.Mem.Add(kv.K, kv.V); err != nil {
					return nil, err
				}
			}
			for _, t := range r.Tombstones {
				if err := s.Mem.DeleteRange(t.Start, t.End, t.SeqNum); err != nil {
					return nil, err
				}
			}
			s.Mem.Freeze()
		case Table:
			t, err := buildTable(r, opts)
			if err != nil {
				return nil, errors.Wrapf(err, "rundef: run %d", errors.Safe(i))
			}
			s.Tables = []*blockrun.Table{t}
		case Level:
			for j, seg := range r.Segments {
				t, err := buildTable(seg, opts)
				if err != nil {
					return nil, errors.Wrapf(err, "rundef: run %d segment %d", errors.Safe(i), errors.Safe(j))
				}
				s.Tables = append(s.Tables, t)
			}
		}
		sources[i] = s
	}
	return sources, nil
}

func buildTable(r *Run, opts Options) (*blockrun.Table, error) {
	wo := r.Writer
	wo.Comparer = opts.Comparer
	w := blockrun.NewWriter(wo)
	cmp := opts.Comparer.Compare
	points := slices.Clone(r.Points)
	slices.SortFunc(points, func(a, b base.InternalKV) int {
		return base.InternalCompare(cmp, a.K, b.K)
	})
	for _, kv := range points {
		if err := w.Add(kv.K, kv.V); err != nil {
			return nil, err
		}
	}
	for _, t := range r.Tombstones {
		if err := w.DeleteRange(t.Start, t.End, t.SeqNum); err != nil {
			return nil, err
		}
	}
	data, err := w.Finish()
	if err != nil {
		return nil, err
	}
	return blockrun.Open(data, blockrun.ReaderOptions{
		Comparer:   opts.Comparer,
		Cache:      opts.Cache,
		AsyncReads: opts.AsyncReads,
	})
}

// NewIters returns the point and tombstone iterators of a Memory or Table
// run. The tombstone iterator is nil if the run has none.
func (s *Source) NewIters(lower, upper []byte) (base.InternalIterator, base.TombstoneIterator) {
	switch s.Run.Kind {
	case Memory:
		opts := &memrun.IterOptions{LowerBound: lower, UpperBound: upper}
		return s.Mem.NewIter(opts), s.Mem.NewTombstoneIter(opts)
	case Table:
		t := s.Tables[0]
		return t.NewIter(&blockrun.IterOptions{LowerBound: lower, UpperBound: upper}), t.NewTombstoneIter()
	default:
		panic(errors.AssertionFailedf("rundef: NewIters called on a %s run", s.Run.Kind))
	}
}

// NewLevelIter returns an iterator over a Level run. Empty segments are
// skipped.
func (s *Source) NewLevelIter(lower, upper []byte) (*levelrun.Iter, error) {
	if s.Run.Kind != Level {
		return nil, errors.AssertionFailedf("rundef: NewLevelIter called on a %s run", s.Run.Kind)
	}
	var segments []levelrun.Segment
	for _, t := range s.Tables {
		props := t.Properties()
		if props.Empty() {
			continue
		}
		segments = append(segments, levelrun.TableSegment(t))
	}
	return levelrun.New(s.comparer, segments, &levelrun.IterOptions{LowerBound: lower, UpperBound: upper})
}

// MayContain returns false if the run has no point record with the given
// user key. Only tables consult a filter; memory runs always return true.
func (s *Source) MayContain(userKey []byte) bool {
	if s.Run.Kind == Memory {
		return true
	}
	cmp := s.comparer.Compare
	for _, t := range s.Tables {
		props := t.Properties()
		if props.NumEntries == 0 {
			continue
		}
		if cmp(userKey, props.Smallest.UserKey) < 0 || cmp(userKey, props.Largest.UserKey) > 0 {
			continue
		}
		if t.MayContain(userKey) {
			return true
		}
	}
	return false
}
