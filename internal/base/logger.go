// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"fmt"
	"log"
	"os"
)

// Logger receives the messages logged by iterators. Implementations must be
// safe for concurrent use.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// DefaultLogger writes to the standard library logger. Each message is
// prefixed with a one-letter severity.
type DefaultLogger struct{}

var _ Logger = DefaultLogger{}

func (DefaultLogger) Infof(format string, args ...interface{}) {
	logf('I', format, args)
}

func (DefaultLogger) Errorf(format string, args ...interface{}) {
	logf('E', format, args)
}

// Fatalf logs and exits the process.
func (DefaultLogger) Fatalf(format string, args ...interface{}) {
	logf('F', format, args)
	os.Exit(1)
}

func logf(severity byte, format string, args []interface{}) {
	// Skip logf and the DefaultLogger method so the caller's file is reported.
	_ = log.Output(3, string(severity)+" "+fmt.Sprintf(format, args...))
}

// NoopLogger discards messages. Fatalf still exits the process.
type NoopLogger struct{}

var _ Logger = NoopLogger{}

func (NoopLogger) Infof(string, ...interface{})  {}
func (NoopLogger) Errorf(string, ...interface{}) {}
func (NoopLogger) Fatalf(string, ...interface{}) { os.Exit(1) }
