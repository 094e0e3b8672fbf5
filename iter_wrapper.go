// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package mergeiter

import "github.com/cockroachdb/mergeiter/internal/base"

// iterWrapper wraps a run's iterator and caches its validity and current key
// after every positioning call, so that heap comparisons never call into the
// run.
type iterWrapper struct {
	iter base.InternalIterator
	// sentinel and bounds are set when iter implements the optional
	// interfaces.
	sentinel base.SentinelIterator
	bounds   base.BoundChecker

	valid         bool
	key           base.InternalKey
	valuePrepared bool
}

func (w *iterWrapper) set(iter base.InternalIterator) {
	*w = iterWrapper{iter: iter}
	w.sentinel, _ = iter.(base.SentinelIterator)
	w.bounds, _ = iter.(base.BoundChecker)
}

// update re-caches the run's state after a positioning call.
func (w *iterWrapper) update() {
	w.valid = w.iter.Valid()
	w.valuePrepared = false
	if w.valid {
		w.key = w.iter.Key()
	} else {
		w.key = base.InternalKey{}
	}
}

func (w *iterWrapper) SeekGE(target base.InternalKey) { w.iter.SeekGE(target); w.update() }
func (w *iterWrapper) SeekLE(target base.InternalKey) { w.iter.SeekLE(target); w.update() }
func (w *iterWrapper) First()                         { w.iter.First(); w.update() }
func (w *iterWrapper) Last()                          { w.iter.Last(); w.update() }
func (w *iterWrapper) Next()                          { w.iter.Next(); w.update() }
func (w *iterWrapper) Prev()                          { w.iter.Prev(); w.update() }

func (w *iterWrapper) Valid() bool { return w.valid }

func (w *iterWrapper) Key() *base.InternalKey { return &w.key }

func (w *iterWrapper) Error() error { return w.iter.Error() }

// PrepareValue fetches the current value once per position. A failed fetch
// invalidates the wrapper; the run's Error reports why.
func (w *iterWrapper) PrepareValue() bool {
	if w.valuePrepared {
		return true
	}
	if w.iter.PrepareValue() {
		w.valuePrepared = true
		return true
	}
	w.valid = false
	return false
}

func (w *iterWrapper) Value() []byte { return w.iter.Value() }

// IsBoundarySentinel returns true if the run is positioned at a synthetic
// segment boundary key.
func (w *iterWrapper) IsBoundarySentinel() bool {
	return w.sentinel != nil && w.valid && w.sentinel.IsBoundarySentinel()
}

func (w *iterWrapper) MayBeOutOfLowerBound() bool {
	if w.bounds == nil {
		return true
	}
	return w.bounds.MayBeOutOfLowerBound()
}

func (w *iterWrapper) UpperBoundCheckResult() base.BoundCheckResult {
	if w.bounds == nil {
		return base.BoundCheckUnknown
	}
	return w.bounds.UpperBoundCheckResult()
}

func (w *iterWrapper) Close() error {
	if w.iter == nil {
		return nil
	}
	err := w.iter.Close()
	w.iter = nil
	w.valid = false
	return err
}
