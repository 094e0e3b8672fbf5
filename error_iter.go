// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package mergeiter

import "github.com/cockroachdb/mergeiter/internal/base"

// errorIter is an iterator that is never positioned and reports err. It is
// returned in place of an iterator that could not be constructed.
type errorIter struct {
	err error
}

var _ base.InternalIterator = (*errorIter)(nil)

func newErrorIter(err error) *errorIter {
	return &errorIter{err: err}
}

func (c *errorIter) SeekGE(base.InternalKey) {}
func (c *errorIter) SeekLE(base.InternalKey) {}
func (c *errorIter) First()                  {}
func (c *errorIter) Last()                   {}

func (c *errorIter) Next() {
	panic(base.AssertionFailedf("mergeiter: Next called on an error iterator"))
}

func (c *errorIter) Prev() {
	panic(base.AssertionFailedf("mergeiter: Prev called on an error iterator"))
}

func (c *errorIter) Valid() bool           { return false }
func (c *errorIter) Key() base.InternalKey { return base.InternalKey{} }
func (c *errorIter) PrepareValue() bool    { return false }
func (c *errorIter) Value() []byte         { return nil }
func (c *errorIter) Error() error          { return c.err }
func (c *errorIter) Close() error          { return c.err }
func (c *errorIter) String() string        { return "error" }

// emptyIter is an iterator over no keys. Finish returns it when no runs were
// added.
type emptyIter struct{}

var _ base.InternalIterator = emptyIter{}

func (emptyIter) SeekGE(base.InternalKey) {}
func (emptyIter) SeekLE(base.InternalKey) {}
func (emptyIter) First()                  {}
func (emptyIter) Last()                   {}

func (emptyIter) Next() {
	panic(base.AssertionFailedf("mergeiter: Next called on an empty iterator"))
}

func (emptyIter) Prev() {
	panic(base.AssertionFailedf("mergeiter: Prev called on an empty iterator"))
}

func (emptyIter) Valid() bool           { return false }
func (emptyIter) Key() base.InternalKey { return base.InternalKey{} }
func (emptyIter) PrepareValue() bool    { return false }
func (emptyIter) Value() []byte         { return nil }
func (emptyIter) Error() error          { return nil }
func (emptyIter) Close() error          { return nil }
func (emptyIter) String() string        { return "empty" }
