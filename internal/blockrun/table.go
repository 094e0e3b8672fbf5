// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockrun

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
	"github.com/cockroachdb/mergeiter/internal/compression"
	"github.com/cockroachdb/mergeiter/internal/keyspan"
)

// Properties describes a table.
type Properties struct {
	// Comparer is the name of the comparer the table was written with.
	Comparer string
	// Compression is the setting the table was written with. Individual
	// blocks may be stored uncompressed.
	Compression compression.Setting

	NumEntries     uint64
	NumTombstones  uint64
	NumDataBlocks  uint64
	NumValueBlocks uint64

	// Smallest and Largest bound every point key and range tombstone in the
	// table. Largest is a range deletion sentinel when a tombstone ends after
	// the last point key.
	Smallest, Largest base.InternalKey
}

// Empty returns true if the table has no point records and no tombstones.
func (p *Properties) Empty() bool {
	return p.NumEntries == 0 && p.NumTombstones == 0
}

func (p *Properties) String() string {
	return fmt.Sprintf("entries=%d tombstones=%d data-blocks=%d value-blocks=%d compression=%s bounds=[%s, %s]",
		p.NumEntries, p.NumTombstones, p.NumDataBlocks, p.NumValueBlocks, p.Compression, p.Smallest, p.Largest)
}

func (p *Properties) encode(dst []byte) []byte {
	dst = appendBytes(dst, []byte(p.Comparer))
	dst = append(dst, byte(p.Compression.Algorithm), p.Compression.Level)
	for _, v := range []uint64{p.NumEntries, p.NumTombstones, p.NumDataBlocks, p.NumValueBlocks} {
		dst = binary.AppendUvarint(dst, v)
	}
	if p.Empty() {
		return dst
	}
	dst = appendInternalKey(dst, p.Smallest)
	return appendInternalKey(dst, p.Largest)
}

func (p *Properties) decode(b []byte) error {
	d := blockDecoder{buf: b}
	p.Comparer = string(d.bytes())
	p.Compression.Algorithm = compression.Algorithm(d.readByte())
	p.Compression.Level = d.readByte()
	for _, v := range []*uint64{&p.NumEntries, &p.NumTombstones, &p.NumDataBlocks, &p.NumValueBlocks} {
		*v = d.uvarint()
	}
	if d.err == nil && !p.Empty() {
		p.Smallest = d.internalKey()
		p.Largest = d.internalKey()
	}
	return d.err
}

type indexEntry struct {
	first, last base.InternalKey
	handle      Handle
}

// ReaderOptions configures the reading of a table.
type ReaderOptions struct {
	// Comparer must have the name recorded in the table.
	Comparer *base.Comparer
	// Cache, if set, holds decompressed blocks across iterators and tables.
	Cache *Cache
	// AsyncReads makes seeks that need a block that is not cached load it on
	// a goroutine. The seek reports base.ErrTryAgain, and repeating it waits
	// for the load to finish.
	AsyncReads bool
}

var nextTableID atomic.Uint64

// Table is an opened, immutable table. It is safe for concurrent use.
type Table struct {
	id       uint64
	data     []byte
	comparer *base.Comparer
	cache    *Cache
	async    bool

	index       []indexEntry
	valueBlocks []Handle
	tombstones  []keyspan.Span
	filter      *bloom.BloomFilter
	props       Properties

	blocksRead atomic.Int64
}

// Open opens the table serialized in data. The table retains data, which must
// not be modified while the table is in use.
func Open(data []byte, opts ReaderOptions) (*Table, error) {
	f, err := decodeFooter(data)
	if err != nil {
		return nil, err
	}
	t := &Table{
		id:       nextTableID.Add(1),
		data:     data,
		comparer: opts.Comparer.EnsureDefaults(),
		cache:    opts.Cache,
		async:    opts.AsyncReads,
	}
	b, err := readBlock(data, f.properties)
	if err != nil {
		return nil, err
	}
	if err := t.props.decode(b); err != nil {
		return nil, err
	}
	if t.props.Comparer != t.comparer.Name {
		return nil, errors.Errorf("blockrun: table was written with comparer %q, opened with %q",
			errors.Safe(t.props.Comparer), errors.Safe(t.comparer.Name))
	}

	if b, err = readBlock(data, f.index); err != nil {
		return nil, err
	}
	for d := (blockDecoder{buf: b}); !d.done(); {
		e := indexEntry{first: d.internalKey(), last: d.internalKey(), handle: d.handle()}
		if d.err != nil {
			return nil, d.err
		}
		t.index = append(t.index, e)
	}

	if b, err = readBlock(data, f.valueIndex); err != nil {
		return nil, err
	}
	for d := (blockDecoder{buf: b}); !d.done(); {
		h := d.handle()
		if d.err != nil {
			return nil, d.err
		}
		t.valueBlocks = append(t.valueBlocks, h)
	}

	if b, err = readBlock(data, f.tombstones); err != nil {
		return nil, err
	}
	for d := (blockDecoder{buf: b}); !d.done(); {
		s := keyspan.Span{Start: d.bytes(), End: d.bytes(), SeqNum: base.SeqNum(d.uvarint())}
		if d.err != nil {
			return nil, d.err
		}
		t.tombstones = append(t.tombstones, s)
	}

	if b, err = readBlock(data, f.filter); err != nil {
		return nil, err
	}
	if len(b) > 0 {
		t.filter = &bloom.BloomFilter{}
		if err := t.filter.UnmarshalBinary(b); err != nil {
			return nil, base.CorruptionErrorf("blockrun: filter: %v", err)
		}
	}

	if uint64(len(t.index)) != t.props.NumDataBlocks ||
		uint64(len(t.valueBlocks)) != t.props.NumValueBlocks ||
		uint64(len(t.tombstones)) != t.props.NumTombstones {
		return nil, base.CorruptionErrorf("blockrun: block counts do not match properties")
	}
	return t, nil
}

// Properties returns the table's properties.
func (t *Table) Properties() *Properties {
	return &t.props
}

// MayContain returns false if the table has no point record with the given
// user key. It ignores range tombstones.
func (t *Table) MayContain(userKey []byte) bool {
	if t.filter == nil {
		return t.props.NumEntries > 0
	}
	return t.filter.Test(userKey)
}

// BlocksRead returns the number of blocks read and decompressed from the
// table's data, excluding cache hits and metadata blocks read by Open.
func (t *Table) BlocksRead() int64 {
	return t.blocksRead.Load()
}

// NewTombstoneIter returns an iterator over the table's range tombstone
// fragments, or nil if it has none.
func (t *Table) NewTombstoneIter() base.TombstoneIterator {
	if len(t.tombstones) == 0 {
		return nil
	}
	return keyspan.NewIter(t.comparer.Compare, t.tombstones)
}

// block returns the decompressed contents of the block at h, going through
// the cache if there is one.
func (t *Table) block(h Handle) ([]byte, error) {
	k := cacheKey{table: t.id, offset: h.Offset}
	if t.cache != nil {
		if b, ok := t.cache.get(k); ok {
			return b, nil
		}
	}
	b, err := readBlock(t.data, h)
	if err != nil {
		return nil, err
	}
	t.blocksRead.Add(1)
	if t.cache != nil {
		t.cache.add(k, b)
	}
	return b, nil
}

// cachedBlock returns the block at h if it is in the cache.
func (t *Table) cachedBlock(h Handle) ([]byte, bool) {
	if t.cache == nil {
		return nil, false
	}
	return t.cache.get(cacheKey{table: t.id, offset: h.Offset})
}

func (t *Table) String() string {
	return fmt.Sprintf("table(%d)", t.id)
}
