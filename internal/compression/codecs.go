// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compression

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/golang/snappy"
	"github.com/minio/minlz"
)

// funcCodec is a stateless Compressor and Decompressor for a block format
// whose encoder and decoder are plain functions.
type funcCodec struct {
	name       string
	encode     func(dst, src []byte) ([]byte, Setting)
	decode     func(dst, src []byte) ([]byte, error)
	decodedLen func(src []byte) (int, error)
}

var (
	_ Compressor   = (*funcCodec)(nil)
	_ Decompressor = (*funcCodec)(nil)
)

var noopCodec = &funcCodec{
	name: "none",
	encode: func(dst, src []byte) ([]byte, Setting) {
		return append(dst[:0], src...), NoCompression
	},
	decode: func(dst, src []byte) ([]byte, error) {
		if len(dst) != len(src) {
			return nil, errors.Newf("destination holds %d bytes, block has %d", len(dst), len(src))
		}
		return dst[:copy(dst, src)], nil
	},
	decodedLen: func(src []byte) (int, error) { return len(src), nil },
}

var snappyCodec = &funcCodec{
	name: "snappy",
	encode: func(dst, src []byte) ([]byte, Setting) {
		return snappy.Encode(dst[:cap(dst)], src), Snappy
	},
	decode:     snappy.Decode,
	decodedLen: snappy.DecodedLen,
}

func newMinlzCodec(s Setting) *funcCodec {
	return &funcCodec{
		name: "minlz",
		encode: func(dst, src []byte) ([]byte, Setting) {
			// Blocks above the MinLZ limit are stored as Snappy, which the
			// block trailer records.
			if len(src) > minlz.MaxBlockSize {
				return snappyCodec.encode(dst, src)
			}
			out, err := minlz.Encode(dst, src, int(s.Level))
			if err != nil {
				panic(errors.Wrap(err, "compression: minlz"))
			}
			return out, s
		},
		decode:     minlz.Decode,
		decodedLen: minlz.DecodedLen,
	}
}

var (
	minlzFastestCodec  = newMinlzCodec(MinLZFastest)
	minlzBalancedCodec = newMinlzCodec(MinLZBalanced)
)

func minlzCodec(level uint8) *funcCodec {
	switch int(level) {
	case minlz.LevelFastest:
		return minlzFastestCodec
	case minlz.LevelBalanced:
		return minlzBalancedCodec
	default:
		panic(errors.AssertionFailedf("compression: unexpected MinLZ level %d", level))
	}
}

func (c *funcCodec) Compress(dst, src []byte) ([]byte, Setting) {
	return c.encode(dst, src)
}

// DecompressInto requires buf to be exactly the decoded length, and the decoder
// to write into it rather than allocate.
func (c *funcCodec) DecompressInto(buf, compressed []byte) error {
	out, err := c.decode(buf, compressed)
	if err != nil {
		return base.CorruptionErrorf("compression: %s: %v", errors.Safe(c.name), err)
	}
	if len(out) != len(buf) {
		return errDecompressedLen(len(buf), len(out))
	}
	if len(out) > 0 && &out[0] != &buf[0] {
		return base.CorruptionErrorf("compression: %s: decoded outside of the destination buffer",
			errors.Safe(c.name))
	}
	return nil
}

func (c *funcCodec) DecompressedLen(b []byte) (int, error) {
	n, err := c.decodedLen(b)
	if err != nil {
		return 0, base.CorruptionErrorf("compression: %s: %v", errors.Safe(c.name), err)
	}
	return n, nil
}

// Close is a no-op; the codecs hold no state.
func (*funcCodec) Close() {}

func errDecompressedLen(want, got int) error {
	return base.CorruptionErrorf("compression: decompressed length %d, expected %d",
		errors.Safe(got), errors.Safe(want))
}
