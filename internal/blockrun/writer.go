// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockrun

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/cockroachdb/mergeiter/internal/compression"
	"github.com/cockroachdb/mergeiter/internal/keyspan"
)

const (
	defaultBlockSize          = 4096
	defaultValueBlockSize     = 32 << 10
	defaultMaxInlineValueSize = 32
	defaultBloomFPR           = 0.01
)

// Data block value tags.
const (
	valueInline byte = iota
	valueInBlock
)

// WriterOptions configures a Writer.
type WriterOptions struct {
	// Comparer orders the table's user keys. Its name is recorded in the
	// table and checked when the table is opened.
	Comparer *base.Comparer
	// Compression is applied to every block. A block that does not shrink by
	// at least 1/8th is stored uncompressed.
	Compression compression.Setting
	// BlockSize is the target uncompressed size of data blocks.
	BlockSize int
	// ValueBlockSize is the target uncompressed size of value blocks.
	ValueBlockSize int
	// MaxInlineValueSize is the largest value stored in the data block next
	// to its key. Larger values are stored in value blocks and only read by
	// PrepareValue. A negative value stores every value inline.
	MaxInlineValueSize int
	// BloomFPR is the false positive rate of the table's user key filter.
	BloomFPR float64
}

func (o WriterOptions) ensureDefaults() WriterOptions {
	o.Comparer = o.Comparer.EnsureDefaults()
	if o.BlockSize <= 0 {
		o.BlockSize = defaultBlockSize
	}
	if o.ValueBlockSize <= 0 {
		o.ValueBlockSize = defaultValueBlockSize
	}
	if o.MaxInlineValueSize == 0 {
		o.MaxInlineValueSize = defaultMaxInlineValueSize
	}
	if o.BloomFPR <= 0 || o.BloomFPR >= 1 {
		o.BloomFPR = defaultBloomFPR
	}
	return o
}

// Writer builds a table from point records added in increasing internal key
// order and range tombstones added in any order.
type Writer struct {
	opts       WriterOptions
	cmp        base.Compare
	compressor compression.Compressor
	scratch    []byte

	buf   []byte
	index []byte

	dataBlock  []byte
	blockFirst base.InternalKey
	blockLast  base.InternalKey
	blockCount int

	valueSection []byte
	valueBlock   []byte
	valueHandles []Handle

	userKeys   [][]byte
	tombstones []keyspan.Span
	props      Properties
	finished   bool
}

// NewWriter returns a Writer configured by opts.
func NewWriter(opts WriterOptions) *Writer {
	opts = opts.ensureDefaults()
	return &Writer{
		opts:       opts,
		cmp:        opts.Comparer.Compare,
		compressor: compression.GetCompressor(opts.Compression),
		props: Properties{
			Comparer:    opts.Comparer.Name,
			Compression: opts.Compression,
		},
	}
}

// Add adds a point record. Keys must be added in strictly increasing internal
// key order. Range deletions must be added with DeleteRange.
func (w *Writer) Add(key base.InternalKey, value []byte) error {
	if w.finished {
		return errors.AssertionFailedf("blockrun: Add on a finished writer")
	}
	if key.Kind() == base.InternalKeyKindRangeDelete {
		return errors.Errorf("blockrun: range deletions must be added with DeleteRange")
	}
	if w.props.NumEntries > 0 && base.InternalCompare(w.cmp, w.props.Largest, key) >= 0 {
		return errors.Errorf("blockrun: keys must be added in increasing order: %s, %s",
			w.props.Largest.Pretty(w.opts.Comparer.FormatKey), key.Pretty(w.opts.Comparer.FormatKey))
	}
	key = key.Clone()
	if w.props.NumEntries == 0 {
		w.props.Smallest = key
	}
	if n := len(w.userKeys); n == 0 || !w.opts.Comparer.Equal(w.userKeys[n-1], key.UserKey) {
		w.userKeys = append(w.userKeys, key.UserKey)
	}
	w.props.Largest = key
	w.props.NumEntries++

	if w.blockCount == 0 {
		w.blockFirst = key
	}
	w.blockLast = key
	w.blockCount++
	w.dataBlock = appendInternalKey(w.dataBlock, key)
	if w.opts.MaxInlineValueSize < 0 || len(value) <= w.opts.MaxInlineValueSize {
		w.dataBlock = append(w.dataBlock, valueInline)
		w.dataBlock = appendBytes(w.dataBlock, value)
	} else {
		w.dataBlock = append(w.dataBlock, valueInBlock)
		w.dataBlock = binary.AppendUvarint(w.dataBlock, uint64(len(w.valueHandles)))
		w.dataBlock = binary.AppendUvarint(w.dataBlock, uint64(len(w.valueBlock)))
		w.dataBlock = binary.AppendUvarint(w.dataBlock, uint64(len(value)))
		w.valueBlock = append(w.valueBlock, value...)
		if len(w.valueBlock) >= w.opts.ValueBlockSize {
			w.flushValueBlock()
		}
	}
	if len(w.dataBlock) >= w.opts.BlockSize {
		w.flushDataBlock()
	}
	return nil
}

// DeleteRange adds a range tombstone deleting [start, end) below seqNum.
func (w *Writer) DeleteRange(start, end []byte, seqNum base.SeqNum) error {
	if w.finished {
		return errors.AssertionFailedf("blockrun: DeleteRange on a finished writer")
	}
	if w.cmp(start, end) >= 0 {
		return errors.Errorf("blockrun: empty range deletion [%s, %s)",
			w.opts.Comparer.FormatKey(start), w.opts.Comparer.FormatKey(end))
	}
	w.tombstones = append(w.tombstones, keyspan.Span{
		Start:  append([]byte(nil), start...),
		End:    append([]byte(nil), end...),
		SeqNum: seqNum,
	})
	return nil
}

func (w *Writer) writeBlock(dst, raw []byte) ([]byte, Handle) {
	compressed, setting := w.compressor.Compress(w.scratch, raw)
	payload, algo := compressed, setting.Algorithm
	if algo == compression.NoAlgorithm || len(compressed) >= len(raw)-len(raw)/8 {
		payload, algo = raw, compression.NoAlgorithm
	}
	h := Handle{Offset: uint64(len(dst)), Length: uint64(len(payload))}
	dst = append(dst, payload...)
	trailer := MakeTrailer(byte(algo), checksum(payload, byte(algo)))
	dst = append(dst, trailer[:]...)
	w.scratch = compressed[:0]
	return dst, h
}

func (w *Writer) flushDataBlock() {
	if w.blockCount == 0 {
		return
	}
	var h Handle
	w.buf, h = w.writeBlock(w.buf, w.dataBlock)
	w.index = appendInternalKey(w.index, w.blockFirst)
	w.index = appendInternalKey(w.index, w.blockLast)
	w.index = h.EncodeVarints(w.index)
	w.props.NumDataBlocks++
	w.dataBlock = w.dataBlock[:0]
	w.blockCount = 0
}

func (w *Writer) flushValueBlock() {
	if len(w.valueBlock) == 0 {
		return
	}
	var h Handle
	w.valueSection, h = w.writeBlock(w.valueSection, w.valueBlock)
	w.valueHandles = append(w.valueHandles, h)
	w.props.NumValueBlocks++
	w.valueBlock = w.valueBlock[:0]
}

// Finish writes the remaining blocks and returns the serialized table. The
// writer must not be used afterwards.
func (w *Writer) Finish() ([]byte, error) {
	if w.finished {
		return nil, errors.AssertionFailedf("blockrun: Finish called twice")
	}
	w.finished = true
	defer w.compressor.Close()

	w.flushDataBlock()
	w.flushValueBlock()

	// Value blocks follow the data blocks.
	valueBase := uint64(len(w.buf))
	w.buf = append(w.buf, w.valueSection...)
	var valueIndex []byte
	for _, h := range w.valueHandles {
		h.Offset += valueBase
		valueIndex = h.EncodeVarints(valueIndex)
	}

	frags := keyspan.Fragment(w.cmp, w.tombstones, base.SeqNumMax)
	var tombstones []byte
	for _, f := range frags {
		tombstones = appendBytes(tombstones, f.Start)
		tombstones = appendBytes(tombstones, f.End)
		tombstones = binary.AppendUvarint(tombstones, uint64(f.SeqNum))
	}
	w.props.NumTombstones = uint64(len(frags))
	if len(frags) > 0 {
		start := base.MakeInternalKey(frags[0].Start, frags[0].SeqNum, base.InternalKeyKindRangeDelete)
		if w.props.NumEntries == 0 || base.InternalCompare(w.cmp, start, w.props.Smallest) < 0 {
			w.props.Smallest = start
		}
		end := base.MakeRangeDeleteSentinelKey(frags[len(frags)-1].End)
		if w.props.NumEntries == 0 || base.InternalCompare(w.cmp, end, w.props.Largest) > 0 {
			w.props.Largest = end
		}
	}

	var filter []byte
	if len(w.userKeys) > 0 {
		bf := bloom.NewWithEstimates(uint(len(w.userKeys)), w.opts.BloomFPR)
		for _, k := range w.userKeys {
			bf.Add(k)
		}
		var err error
		if filter, err = bf.MarshalBinary(); err != nil {
			return nil, errors.Wrap(err, "blockrun: encoding filter")
		}
	}

	var f footer
	w.buf, f.index = w.writeBlock(w.buf, w.index)
	w.buf, f.valueIndex = w.writeBlock(w.buf, valueIndex)
	w.buf, f.tombstones = w.writeBlock(w.buf, tombstones)
	w.buf, f.filter = w.writeBlock(w.buf, filter)
	w.buf, f.properties = w.writeBlock(w.buf, w.props.encode(nil))
	w.buf = f.encode(w.buf)
	return w.buf, nil
}
