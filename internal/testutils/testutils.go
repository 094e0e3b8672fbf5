// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package testutils holds helpers shared by the tests of several packages.
package testutils

import (
	"fmt"
	"sync"
	"testing"
)

// Logger is a base.Logger that forwards messages to the test log. Messages
// logged with Errorf are also retained and can be retrieved with Errors.
type Logger struct {
	T testing.TB

	errors *errorLog
}

type errorLog struct {
	sync.Mutex
	msgs []string
}

// NewLogger returns a Logger that retains the messages passed to Errorf.
func NewLogger(t testing.TB) Logger {
	return Logger{T: t, errors: &errorLog{}}
}

// Infof implements base.Logger.
func (l Logger) Infof(format string, args ...interface{}) {
	l.T.Helper()
	l.T.Logf(format, args...)
}

// Errorf implements base.Logger.
func (l Logger) Errorf(format string, args ...interface{}) {
	l.T.Helper()
	msg := fmt.Sprintf(format, args...)
	l.T.Logf("error: %s", msg)
	if l.errors != nil {
		l.errors.Lock()
		l.errors.msgs = append(l.errors.msgs, msg)
		l.errors.Unlock()
	}
}

// Fatalf implements base.Logger.
func (l Logger) Fatalf(format string, args ...interface{}) {
	l.T.Helper()
	l.T.Fatalf(format, args...)
}

// Errors returns the messages logged with Errorf so far. It returns nil for a
// Logger not created with NewLogger.
func (l Logger) Errors() []string {
	if l.errors == nil {
		return nil
	}
	l.errors.Lock()
	defer l.errors.Unlock()
	return append([]string(nil), l.errors.msgs...)
}

// CheckErr panics if err is non-nil and otherwise returns v. It lets a
// benchmark or test setup chain a fallible constructor:
//
//	sources := testutils.CheckErr(rundef.Build(runs, rundef.Options{}))
func CheckErr[V any](v V, err error) V {
	if err != nil {
		panic(err)
	}
	return v
}
