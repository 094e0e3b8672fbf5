// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package blockrun implements an immutable sorted run serialized into
// checksummed, compressed blocks.
//
// The table layout is:
//
//	[data block 0]...[data block N-1]
//	[value block 0]...[value block M-1]
//	[index block]
//	[value index block]
//	[tombstone block]
//	[filter block]
//	[properties block]
//	[footer]
//
// Every block is followed by a 5-byte trailer holding the compression
// algorithm and the low 32 bits of the xxhash64 of the block data and the
// algorithm byte. Data blocks hold internal keys together with either an
// inline value or a handle into a value block; value blocks are only read
// when a value is prepared. The footer is fixed size and holds the handles of
// the metadata blocks followed by a magic number.
package blockrun

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/cockroachdb/mergeiter/internal/compression"
)

// TrailerLen is the length of the trailer at the end of a block.
const TrailerLen = 5

// Trailer is the trailer at the end of a block, encoding the block type
// (compression) and a checksum.
type Trailer = [TrailerLen]byte

// MakeTrailer constructs a trailer from a block type and a checksum.
func MakeTrailer(blockType byte, checksum uint32) (t Trailer) {
	t[0] = blockType
	binary.LittleEndian.PutUint32(t[1:5], checksum)
	return t
}

func checksum(data []byte, blockType byte) uint32 {
	d := xxhash.New()
	_, _ = d.Write(data)
	_, _ = d.Write([]byte{blockType})
	return uint32(d.Sum64())
}

// Handle is the file offset and length of a block.
type Handle struct {
	// Offset identifies the offset of the block within the table.
	Offset uint64
	// Length is the length of the block data (excludes the trailer).
	Length uint64
}

// EncodeVarints appends the block handle to dst using a variable-width
// encoding.
func (h Handle) EncodeVarints(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, h.Offset)
	return binary.AppendUvarint(dst, h.Length)
}

// DecodeHandle returns the block handle encoded in a variable-width encoding at
// the start of src, as well as the number of bytes it occupies. It returns zero
// if given invalid input.
func DecodeHandle(src []byte) (Handle, int) {
	offset, n := binary.Uvarint(src)
	if n <= 0 {
		return Handle{}, 0
	}
	length, m := binary.Uvarint(src[n:])
	if m <= 0 {
		return Handle{}, 0
	}
	return Handle{Offset: offset, Length: length}, n + m
}

const (
	footerHandles = 5
	magicLen      = 8
	footerLen     = footerHandles*16 + magicLen
	tableMagic    = "\xf0mrgrun\x01"
)

// footer holds the handles of the metadata blocks.
type footer struct {
	index, valueIndex, tombstones, filter, properties Handle
}

func (f footer) handles() [footerHandles]Handle {
	return [footerHandles]Handle{f.index, f.valueIndex, f.tombstones, f.filter, f.properties}
}

func (f footer) encode(dst []byte) []byte {
	for _, h := range f.handles() {
		dst = binary.LittleEndian.AppendUint64(dst, h.Offset)
		dst = binary.LittleEndian.AppendUint64(dst, h.Length)
	}
	return append(dst, tableMagic...)
}

func decodeFooter(data []byte) (footer, error) {
	if len(data) < footerLen {
		return footer{}, base.CorruptionErrorf("blockrun: table too short (%d bytes)", errors.Safe(len(data)))
	}
	buf := data[len(data)-footerLen:]
	if string(buf[footerLen-magicLen:]) != tableMagic {
		return footer{}, base.CorruptionErrorf("blockrun: bad magic number")
	}
	var f footer
	hs := [footerHandles]*Handle{&f.index, &f.valueIndex, &f.tombstones, &f.filter, &f.properties}
	for i, h := range hs {
		h.Offset = binary.LittleEndian.Uint64(buf[i*16:])
		h.Length = binary.LittleEndian.Uint64(buf[i*16+8:])
		if h.Offset+h.Length+TrailerLen > uint64(len(data)-footerLen) {
			return footer{}, base.CorruptionErrorf("blockrun: footer handle %d/%d out of range",
				errors.Safe(h.Offset), errors.Safe(h.Length))
		}
	}
	return f, nil
}

// readBlock verifies the checksum of the block at h and returns its
// decompressed contents.
func readBlock(data []byte, h Handle) ([]byte, error) {
	end := h.Offset + h.Length
	if end+TrailerLen > uint64(len(data)) || end < h.Offset {
		return nil, base.CorruptionErrorf("blockrun: block %d/%d out of range",
			errors.Safe(h.Offset), errors.Safe(h.Length))
	}
	b := data[h.Offset:end]
	trailer := data[end : end+TrailerLen]
	expected := binary.LittleEndian.Uint32(trailer[1:])
	if computed := checksum(b, trailer[0]); computed != expected {
		return nil, base.CorruptionErrorf("blockrun: block %d/%d: checksum mismatch %x != %x",
			errors.Safe(h.Offset), errors.Safe(h.Length), expected, computed)
	}
	algo := compression.Algorithm(trailer[0])
	if algo == compression.NoAlgorithm {
		return b, nil
	}
	decoded, err := compression.Decompress(algo, b)
	if err != nil {
		return nil, errors.Wrapf(err, "blockrun: block %d/%d", errors.Safe(h.Offset), errors.Safe(h.Length))
	}
	return decoded, nil
}

// blockDecoder reads the varint-framed fields of a decompressed block.
type blockDecoder struct {
	buf []byte
	err error
}

func (d *blockDecoder) done() bool { return d.err != nil || len(d.buf) == 0 }

func (d *blockDecoder) fail(what string) {
	if d.err == nil {
		d.err = base.CorruptionErrorf("blockrun: malformed %s", errors.Safe(what))
	}
}

func (d *blockDecoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.fail("varint")
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *blockDecoder) bytes() []byte {
	n := d.uvarint()
	if d.err != nil {
		return nil
	}
	if n > uint64(len(d.buf)) {
		d.fail("length-prefixed field")
		return nil
	}
	b := d.buf[:n:n]
	d.buf = d.buf[n:]
	return b
}

func (d *blockDecoder) readByte() byte {
	if d.err != nil {
		return 0
	}
	if len(d.buf) == 0 {
		d.fail("block entry")
		return 0
	}
	b := d.buf[0]
	d.buf = d.buf[1:]
	return b
}

func (d *blockDecoder) internalKey() base.InternalKey {
	b := d.bytes()
	if d.err == nil && len(b) < base.InternalTrailerLen {
		d.fail("internal key")
	}
	if d.err != nil {
		return base.InternalKey{}
	}
	return base.DecodeInternalKey(b)
}

func (d *blockDecoder) handle() Handle {
	if d.err != nil {
		return Handle{}
	}
	h, n := DecodeHandle(d.buf)
	if n == 0 {
		d.fail("block handle")
		return Handle{}
	}
	d.buf = d.buf[n:]
	return h
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

func appendInternalKey(dst []byte, k base.InternalKey) []byte {
	dst = binary.AppendUvarint(dst, uint64(k.Size()))
	n := len(dst)
	dst = append(dst, make([]byte, k.Size())...)
	k.Encode(dst[n:])
	return dst
}
