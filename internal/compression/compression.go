// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package compression implements the block codecs used by sorted tables.
package compression

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/minio/minlz"
)

// Algorithm identifies a compression algorithm. Its value is persisted in
// block trailers and must not change.
type Algorithm uint8

const (
	NoAlgorithm Algorithm = iota
	SnappyAlgorithm
	Zstd
	MinLZ

	NumAlgorithms
)

// String implements fmt.Stringer, returning a human-readable name for the
// compression algorithm.
func (a Algorithm) String() string {
	switch a {
	case NoAlgorithm:
		return "none"
	case SnappyAlgorithm:
		return "snappy"
	case Zstd:
		return "zstd"
	case MinLZ:
		return "minlz"
	default:
		return fmt.Sprintf("unknown(%d)", a)
	}
}

// Setting contains the information needed to compress a block: the algorithm
// and its level, if the algorithm has levels.
type Setting struct {
	Algorithm Algorithm
	Level     uint8
}

// String returns the setting in the format accepted by ParseSetting.
func (s Setting) String() string {
	switch s.Algorithm {
	case Zstd:
		return fmt.Sprintf("zstd:%d", s.Level)
	case MinLZ:
		if s.Level == minlz.LevelBalanced {
			return "minlz:balanced"
		}
		return "minlz:fastest"
	default:
		return s.Algorithm.String()
	}
}

// Setting presets.
var (
	NoCompression = Setting{Algorithm: NoAlgorithm}
	Snappy        = Setting{Algorithm: SnappyAlgorithm}
	MinLZFastest  = Setting{Algorithm: MinLZ, Level: minlz.LevelFastest}
	MinLZBalanced = Setting{Algorithm: MinLZ, Level: minlz.LevelBalanced}
	ZstdLevel1    = Setting{Algorithm: Zstd, Level: 1}
	ZstdLevel3    = Setting{Algorithm: Zstd, Level: 3}
)

var presets = []Setting{
	NoCompression,
	Snappy,
	MinLZFastest,
	MinLZBalanced,
	ZstdLevel1,
	ZstdLevel3,
}

const maxZstdLevel = 19

// ParseSetting parses a compression setting such as "snappy", "zstd:3" or
// "minlz:balanced". An algorithm without a level uses its default level.
func ParseSetting(s string) (Setting, error) {
	name, level, hasLevel := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	switch name {
	case "none", "":
		if hasLevel {
			break
		}
		return NoCompression, nil
	case "snappy":
		if hasLevel {
			break
		}
		return Snappy, nil
	case "minlz":
		switch level {
		case "", "fastest":
			return MinLZFastest, nil
		case "balanced":
			return MinLZBalanced, nil
		}
	case "zstd":
		if !hasLevel {
			return ZstdLevel3, nil
		}
		n, err := strconv.Atoi(level)
		if err != nil || n < 1 || n > maxZstdLevel {
			return Setting{}, errors.Newf("compression: invalid zstd level %q", level)
		}
		return Setting{Algorithm: Zstd, Level: uint8(n)}, nil
	}
	return Setting{}, errors.Newf("compression: unknown setting %q", s)
}

// Compressor is an interface for compressing data. An instance is associated
// with a specific Setting.
type Compressor interface {
	// Compress a block, appending the compressed data to dst[:0]. Returns the
	// compressed data and the setting that was used, which may differ from the
	// requested one if the algorithm fell back to another.
	Compress(dst, src []byte) ([]byte, Setting)

	// Close must be called when the Compressor is no longer needed.
	// After Close is called, the Compressor must not be used again.
	Close()
}

// GetCompressor returns a Compressor for s.
func GetCompressor(s Setting) Compressor {
	switch s.Algorithm {
	case NoAlgorithm:
		return noopCodec
	case SnappyAlgorithm:
		return snappyCodec
	case Zstd:
		return getZstdCompressor(int(s.Level))
	case MinLZ:
		return minlzCodec(s.Level)
	default:
		panic(errors.AssertionFailedf("compression: invalid algorithm %d", s.Algorithm))
	}
}

// Decompressor is an interface for decompressing data.
type Decompressor interface {
	// DecompressInto decompresses compressed into buf. The buf slice must have
	// the exact size as the decompressed value. Callers may use
	// DecompressedLen to determine the correct size.
	DecompressInto(buf, compressed []byte) error

	// DecompressedLen returns the length of the provided block once
	// decompressed, allowing the caller to allocate a buffer exactly sized to
	// the decompressed payload.
	DecompressedLen(b []byte) (decompressedLen int, err error)

	// Close must be called when the Decompressor is no longer needed.
	// After Close is called, the Decompressor must not be used again.
	Close()
}

// GetDecompressor returns a Decompressor for a.
func GetDecompressor(a Algorithm) (Decompressor, error) {
	switch a {
	case NoAlgorithm:
		return noopCodec, nil
	case SnappyAlgorithm:
		return snappyCodec, nil
	case Zstd:
		return getZstdDecompressor(), nil
	case MinLZ:
		return minlzFastestCodec, nil
	default:
		return nil, base.CorruptionErrorf("compression: unknown algorithm %d", errors.Safe(uint8(a)))
	}
}

// Decompress decompresses b, which was compressed with a, into a newly
// allocated buffer.
func Decompress(a Algorithm, b []byte) ([]byte, error) {
	d, err := GetDecompressor(a)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	n, err := d.DecompressedLen(b)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if err := d.DecompressInto(buf, b); err != nil {
		return nil, err
	}
	return buf, nil
}
