// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build cgo

package compression

import (
	"encoding/binary"
	"sync"

	"github.com/DataDog/zstd"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
)

// zstdCtx wraps a cgo zstd context. Contexts are not safe for concurrent use,
// so each Compressor or Decompressor takes one from a pool and returns it on
// Close.
type zstdCtx struct {
	level int
	ctx   zstd.Ctx
}

var zstdCtxPool = sync.Pool{
	New: func() any { return &zstdCtx{ctx: zstd.NewCtx()} },
}

var (
	_ Compressor   = (*zstdCtx)(nil)
	_ Decompressor = (*zstdCtx)(nil)
)

func getZstdCompressor(level int) *zstdCtx {
	z := zstdCtxPool.Get().(*zstdCtx)
	z.level = level
	return z
}

func getZstdDecompressor() *zstdCtx {
	return zstdCtxPool.Get().(*zstdCtx)
}

func (z *zstdCtx) Compress(dst, src []byte) ([]byte, Setting) {
	// Size dst for the worst case so the frame is written in place after the
	// length prefix.
	bound := zstd.CompressBound(len(src))
	if cap(dst) < binary.MaxVarintLen64+bound {
		dst = make([]byte, 0, binary.MaxVarintLen64+bound)
	}
	dst = binary.AppendUvarint(dst[:0], uint64(len(src)))
	prefixLen := len(dst)
	buf := dst[prefixLen : prefixLen+bound]
	frame, err := z.ctx.CompressLevel(buf, src, z.level)
	if err != nil {
		panic(errors.Wrap(err, "compression: zstd"))
	}
	if len(frame) > 0 && &frame[0] != &buf[0] {
		panic(errors.AssertionFailedf("compression: zstd allocated despite CompressBound"))
	}
	return dst[:prefixLen+len(frame)], Setting{Algorithm: Zstd, Level: uint8(z.level)}
}

func (z *zstdCtx) DecompressInto(dst, src []byte) error {
	_, frame, err := splitZstdBlock(src)
	if err != nil {
		return err
	}
	n, err := z.ctx.DecompressInto(dst, frame)
	if err != nil {
		return base.CorruptionErrorf("compression: zstd: %v", err)
	}
	if n != len(dst) {
		return errDecompressedLen(len(dst), n)
	}
	return nil
}

func (*zstdCtx) DecompressedLen(b []byte) (int, error) {
	return zstdDecodedLen(b)
}

func (z *zstdCtx) Close() {
	zstdCtxPool.Put(z)
}
