// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package mergeiter

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
)

const defaultMaxSeekRetries = 3

// Options holds the optional parameters for constructing a merging iterator.
type Options struct {
	// Comparer defines the ordering of user keys. Every run must be sorted by
	// the same comparer.
	//
	// The default value uses the same ordering as bytes.Compare.
	Comparer *Comparer

	// Logger used to report errors captured from runs. The default logs to the
	// Go stdlib logs.
	Logger Logger

	// UpperBound, if set, is an exclusive upper bound on the user keys the
	// caller will iterate over. Range tombstones starting at or after it are
	// never placed in the merging heap. Runs are expected to enforce the bound
	// on point keys themselves.
	UpperBound []byte

	// DisableKeyPrefixCache disables caching abbreviated keys in heap items.
	// The cache is only ever used with the bytewise and reverse bytewise
	// comparers.
	DisableKeyPrefixCache bool

	// MaxSeekRetries bounds how many times a seek that reported
	// ErrTryAgain is re-issued before the iterator gives up and surfaces the
	// error. The default is 3.
	MaxSeekRetries int

	// Metrics, if set, receives each iterator's statistics when it is closed.
	Metrics *Metrics
}

// EnsureDefaults ensures that the default values for all options are set if a
// valid value was not already specified. Returns the new options.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	o.Comparer = o.Comparer.EnsureDefaults()
	if o.Logger == nil {
		o.Logger = base.DefaultLogger{}
	}
	if o.MaxSeekRetries == 0 {
		o.MaxSeekRetries = defaultMaxSeekRetries
	}
	return o
}

// Validate verifies that the options are mutually consistent.
func (o *Options) Validate() error {
	var buf strings.Builder
	if o.MaxSeekRetries < 0 {
		fmt.Fprintf(&buf, "MaxSeekRetries (%d) must be >= 0\n", o.MaxSeekRetries)
	}
	if o.Comparer != nil && o.Comparer.Ordering != base.OrderingCustom && o.Comparer.AbbreviatedKey == nil {
		fmt.Fprintf(&buf, "Comparer %q declares ordering %s but has no AbbreviatedKey\n",
			o.Comparer.Name, o.Comparer.Ordering)
	}
	if buf.Len() == 0 {
		return nil
	}
	return errors.New(buf.String())
}

// String returns a textual representation of the options in the format
// accepted by Parse.
func (o *Options) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[Options]\n")
	fmt.Fprintf(&buf, "  comparer=%s\n", o.Comparer.Name)
	fmt.Fprintf(&buf, "  disable_key_prefix_cache=%t\n", o.DisableKeyPrefixCache)
	fmt.Fprintf(&buf, "  max_seek_retries=%d\n", o.MaxSeekRetries)
	if o.UpperBound != nil {
		fmt.Fprintf(&buf, "  upper_bound=%s\n", o.UpperBound)
	}
	return buf.String()
}

// Parse parses the options from the specified string. Note that certain
// options cannot be parsed into populated fields. For example, Logger and
// Metrics are not serialized and are left untouched. Only the built-in
// comparers can be named unless o.Comparer already has the named comparer.
func (o *Options) Parse(s string) error {
	var section string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if len(line) == 0 || line[0] == ';' || line[0] == '#' {
			// Skip blank lines and comments.
			continue
		}
		n := len(line)
		if line[0] == '[' && line[n-1] == ']' {
			section = line[1 : n-1]
			if section != "Options" {
				return errors.Errorf("mergeiter: unknown section %q", errors.Safe(section))
			}
			continue
		}
		pos := strings.Index(line, "=")
		if pos < 0 {
			const maxLen = 50
			if len(line) > maxLen {
				line = line[:maxLen-3] + "..."
			}
			return base.CorruptionErrorf("invalid key=value syntax: %q", errors.Safe(line))
		}
		if section == "" {
			return errors.Errorf("mergeiter: option %q outside of a section", errors.Safe(line))
		}
		key := strings.TrimSpace(line[:pos])
		value := strings.TrimSpace(line[pos+1:])

		var err error
		switch key {
		case "comparer":
			if o.Comparer == nil || o.Comparer.Name != value {
				o.Comparer, err = base.LookupComparer(value)
			}
		case "disable_key_prefix_cache":
			o.DisableKeyPrefixCache, err = strconv.ParseBool(value)
		case "max_seek_retries":
			o.MaxSeekRetries, err = strconv.Atoi(value)
		case "upper_bound":
			o.UpperBound = []byte(value)
		default:
			return errors.Errorf("mergeiter: unknown option: %s.%s",
				errors.Safe(section), errors.Safe(key))
		}
		if err != nil {
			return errors.Wrapf(err, "mergeiter: parsing %s.%s", errors.Safe(section), errors.Safe(key))
		}
	}
	return nil
}
