// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build !cgo

package compression

import (
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/klauspost/compress/zstd"
)

// zstdEncoders holds one encoder per level. EncodeAll may be called
// concurrently on a single encoder.
var zstdEncoders struct {
	sync.Mutex
	m map[int]*zstd.Encoder
}

type zstdCompressor struct {
	level int
	enc   *zstd.Encoder
}

var _ Compressor = (*zstdCompressor)(nil)

func getZstdCompressor(level int) *zstdCompressor {
	zstdEncoders.Lock()
	defer zstdEncoders.Unlock()
	enc, ok := zstdEncoders.m[level]
	if !ok {
		var err error
		enc, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
			zstd.WithEncoderConcurrency(1))
		if err != nil {
			panic(errors.Wrap(err, "compression: zstd encoder"))
		}
		if zstdEncoders.m == nil {
			zstdEncoders.m = make(map[int]*zstd.Encoder)
		}
		zstdEncoders.m[level] = enc
	}
	return &zstdCompressor{level: level, enc: enc}
}

func (z *zstdCompressor) Compress(dst, src []byte) ([]byte, Setting) {
	dst = binary.AppendUvarint(dst[:0], uint64(len(src)))
	return z.enc.EncodeAll(src, dst), Setting{Algorithm: Zstd, Level: uint8(z.level)}
}

func (*zstdCompressor) Close() {}

var zstdDecoder struct {
	once sync.Once
	dec  *zstd.Decoder
}

type zstdDecompressor struct{}

var _ Decompressor = zstdDecompressor{}

func getZstdDecompressor() zstdDecompressor {
	return zstdDecompressor{}
}

func (zstdDecompressor) DecompressInto(dst, src []byte) error {
	_, frame, err := splitZstdBlock(src)
	if err != nil {
		return err
	}
	zstdDecoder.once.Do(func() {
		zstdDecoder.dec, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	out, err := zstdDecoder.dec.DecodeAll(frame, dst[:0])
	if err != nil {
		return base.CorruptionErrorf("compression: zstd: %v", err)
	}
	if len(out) != len(dst) {
		return errDecompressedLen(len(dst), len(out))
	}
	if len(out) > 0 && &out[0] != &dst[0] {
		return base.CorruptionErrorf("compression: zstd: decoded outside of the destination buffer")
	}
	return nil
}

func (zstdDecompressor) DecompressedLen(b []byte) (int, error) {
	return zstdDecodedLen(b)
}

func (zstdDecompressor) Close() {}
