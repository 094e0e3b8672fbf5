// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compression

import (
	"encoding/binary"

	"github.com/cockroachdb/mergeiter/internal/base"
)

// A zstd block is the uvarint decoded length followed by a zstd frame. The
// prefix lets readers size the destination without parsing the frame header.

// splitZstdBlock returns the decoded length and the frame of a zstd block.
func splitZstdBlock(b []byte) (decodedLen int, frame []byte, _ error) {
	n, prefixLen := binary.Uvarint(b)
	if prefixLen <= 0 {
		return 0, nil, base.CorruptionErrorf("compression: zstd block has invalid length")
	}
	frame = b[prefixLen:]
	if len(frame) == 0 {
		return 0, nil, base.CorruptionErrorf("compression: zstd: empty frame")
	}
	return int(n), frame, nil
}

// zstdDecodedLen implements Decompressor.DecompressedLen for both zstd
// implementations.
func zstdDecodedLen(b []byte) (int, error) {
	n, _, err := splitZstdBlock(b)
	return n, err
}
