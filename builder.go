// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package mergeiter

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
)

// Builder assembles the runs of a merging iterator. Runs must be added in
// order of recency, newest first.
//
//	b := mergeiter.NewBuilder(opts)
//	b.AddIterator(memtable)
//	b.AddPointAndTombstoneIterator(table, table.NewTombstoneIter())
//	b.AddLevelIterator(level)
//	iter := b.Finish()
type Builder struct {
	opts     *Options
	levels   []levelSpec
	finished bool
}

// NewBuilder returns a Builder for a merging iterator configured by opts. A
// nil opts uses the defaults.
func NewBuilder(opts *Options) *Builder {
	o := &Options{}
	if opts != nil {
		*o = *opts
	}
	return &Builder{opts: o.EnsureDefaults()}
}

// AddIterator adds a run with no range tombstones.
func (b *Builder) AddIterator(iter base.InternalIterator) {
	b.add(levelSpec{point: iter})
}

// AddPointAndTombstoneIterator adds a run along with the iterator over its
// range tombstones. The merging iterator closes tombstones when it is closed.
// A nil tombstones is the same as AddIterator.
func (b *Builder) AddPointAndTombstoneIterator(iter base.InternalIterator, tombstones base.TombstoneIterator) {
	b.add(levelSpec{point: iter, tombstone: tombstones})
}

// LevelIterator is a run spanning several segments whose range tombstones are
// tracked per segment.
type LevelIterator interface {
	base.SentinelIterator
	base.TombstoneSlotter
}

// AddLevelIterator adds a multi-segment run. The iterator is handed its
// level's tombstone slot when the builder is finished and owns the tombstone
// iterators it stores there.
func (b *Builder) AddLevelIterator(iter LevelIterator) {
	b.add(levelSpec{point: iter, slotter: iter})
}

func (b *Builder) add(spec levelSpec) {
	if b.finished {
		panic(errors.AssertionFailedf("mergeiter: run added to a finished builder"))
	}
	if spec.point == nil {
		panic(errors.AssertionFailedf("mergeiter: nil run added at level %d", len(b.levels)))
	}
	b.levels = append(b.levels, spec)
}

// Finish returns an iterator over the added runs. With no runs it returns an
// empty iterator, and with a single run that has no tombstones and never
// reports base.ErrTryAgain it returns the run itself. Otherwise it returns a
// *MergingIter, which retries deferred seeks. If the options are invalid,
// the returned iterator is never positioned, and its Error and Close report
// why; the runs are closed.
func (b *Builder) Finish() base.InternalIterator {
	if b.finished {
		panic(errors.AssertionFailedf("mergeiter: builder finished twice"))
	}
	b.finished = true
	if err := b.opts.Validate(); err != nil {
		for _, l := range b.levels {
			_ = l.point.Close()
			if l.tombstone != nil {
				_ = l.tombstone.Close()
			}
		}
		return newErrorIter(err)
	}
	switch {
	case len(b.levels) == 0:
		return emptyIter{}
	case len(b.levels) == 1 && b.levels[0].passThrough():
		return b.levels[0].point
	}
	return newMergingIter(b.opts, b.levels)
}

// passThrough returns true if the run can be returned without merging: it has
// no tombstones to apply and no deferred seeks to retry.
func (s levelSpec) passThrough() bool {
	return s.tombstone == nil && s.slotter == nil && !base.MayTryAgain(s.point)
}

// NewMergingIter returns an iterator over point-only runs, ordered newest
// first. Unlike Finish it always returns a *MergingIter. It panics if opts
// fail Options.Validate.
func NewMergingIter(opts *Options, iters ...base.InternalIterator) *MergingIter {
	o := &Options{}
	if opts != nil {
		*o = *opts
	}
	o = o.EnsureDefaults()
	if err := o.Validate(); err != nil {
		panic(errors.Wrap(err, "mergeiter: NewMergingIter"))
	}
	specs := make([]levelSpec, len(iters))
	for i := range iters {
		specs[i].point = iters[i]
	}
	return newMergingIter(o, specs)
}
