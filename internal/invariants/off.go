// Copyright 2020 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build !invariants && !race

// Package invariants gates consistency checks that are too expensive for
// production builds.
package invariants

// Enabled is true in builds with the "invariants" or "race" tags.
const Enabled = false

// Lifecycle tracks whether a pooled object is between Open and Close. It is
// empty in this build and its methods do nothing.
type Lifecycle struct{}

// Open marks the object usable.
func (*Lifecycle) Open(string) {}

// Close marks the object closed.
func (*Lifecycle) Close() {}

// AssertOpen panics if the object was closed since it was opened.
func (*Lifecycle) AssertOpen() {}
