// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "github.com/cockroachdb/errors"

// ErrTryAgain is reported by an iterator's Error method after a positioning
// call that issued an asynchronous read which has not completed. The caller
// should repeat the same positioning call.
var ErrTryAgain = errors.New("mergeiter: try again")

// ErrCorruption is a marker to indicate that data in a run is corrupted.
var ErrCorruption = errors.New("mergeiter: corruption")

// ErrClosed is reported when an operation is attempted on a closed iterator
// or run.
var ErrClosed = errors.New("mergeiter: closed")

// CorruptionErrorf formats according to a format specifier and returns
// the string as an error value that is marked as a corruption error.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// IsTryAgain returns true if err indicates that a positioning call must be
// repeated.
func IsTryAgain(err error) bool {
	return err != nil && errors.Is(err, ErrTryAgain)
}

// AssertionFailedf creates an assertion error and panics in invariants.Enabled
// builds. It should only be used when it indicates a bug.
var AssertionFailedf = errors.AssertionFailedf
