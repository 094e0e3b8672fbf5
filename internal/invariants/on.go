// Copyright 2020 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build invariants || race

// Package invariants gates consistency checks that are too expensive for
// production builds.
package invariants

import "github.com/cockroachdb/errors"

// Enabled is true in builds with the "invariants" or "race" tags.
const Enabled = true

// Lifecycle tracks whether a pooled object is between Open and Close, and
// panics when it is used outside of that window. It is empty in builds without
// the "invariants" or "race" tags.
type Lifecycle struct {
	name   string
	closed bool
}

// Open marks the object usable. name appears in assertion failures.
func (l *Lifecycle) Open(name string) {
	l.name = name
	l.closed = false
}

// Close marks the object closed. Closing it twice panics.
func (l *Lifecycle) Close() {
	if l.closed {
		panic(errors.AssertionFailedf("%s closed twice", errors.Safe(l.name)))
	}
	l.closed = true
}

// AssertOpen panics if the object was closed since it was opened.
func (l *Lifecycle) AssertOpen() {
	if l.closed {
		panic(errors.AssertionFailedf("%s used after close", errors.Safe(l.name)))
	}
}
