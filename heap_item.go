// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package mergeiter

import (
	"bytes"
	"cmp"
	"fmt"

	"github.com/cockroachdb/mergeiter/internal/base"
)

type heapItemKind uint8

const (
	// heapItemPoint is positioned at the current key of a level's run.
	heapItemPoint heapItemKind = iota
	// heapItemTombstoneStart and heapItemTombstoneEnd are an endpoint of the
	// current range tombstone of a level.
	heapItemTombstoneStart
	heapItemTombstoneEnd
)

func (k heapItemKind) String() string {
	switch k {
	case heapItemPoint:
		return "point"
	case heapItemTombstoneStart:
		return "start"
	case heapItemTombstoneEnd:
		return "end"
	default:
		return fmt.Sprintf("heapItemKind(%d)", k)
	}
}

// heapItem is an element of the merging heap. Each level embeds exactly two
// heap items: one for its run's current key and one for an endpoint of its
// current range tombstone. Both are reused in place.
type heapItem struct {
	kind  heapItemKind
	level *mergingIterLevel
	// key points at level.iter.key for point items and at tombstoneKey for
	// endpoint items.
	key          *base.InternalKey
	tombstoneKey base.InternalKey
	// prefix caches the abbreviated user key when the comparer supports it,
	// and is zero otherwise.
	prefix uint64
}

// setTombstoneKey turns the item into an endpoint item. The key is given the
// kind InternalKeyKindMax so that it sorts before any point key with the same
// user key and sequence number.
func (h *heapItem) setTombstoneKey(kind heapItemKind, k base.InternalKey) {
	h.kind = kind
	h.tombstoneKey = base.MakeInternalKey(k.UserKey, k.SeqNum(), base.InternalKeyKindMax)
	h.key = &h.tombstoneKey
}

func (h *heapItem) isSentinel() bool {
	return h.kind == heapItemPoint && h.level.iter.IsBoundarySentinel()
}

func (h *heapItem) String() string {
	return fmt.Sprintf("L%d %s %s", h.level.index, h.kind, h.key)
}

// itemCompare orders heap items by their keys in the comparer's order.
type itemCompare func(a, b *heapItem) int

func comparePrefixes(a, b *heapItem) int {
	return cmp.Compare(a.prefix, b.prefix)
}

// The bytewise specializations avoid an indirect call per comparison. The
// prefix comparison is exact when the prefixes differ; the reverse comparer's
// abbreviated keys are already inverted.
func bytewiseItemCompare(a, b *heapItem) int {
	if c := comparePrefixes(a, b); c != 0 {
		return c
	}
	if c := bytes.Compare(a.key.UserKey, b.key.UserKey); c != 0 {
		return c
	}
	return cmp.Compare(b.key.Trailer, a.key.Trailer)
}

func reverseBytewiseItemCompare(a, b *heapItem) int {
	if c := comparePrefixes(a, b); c != 0 {
		return c
	}
	if c := bytes.Compare(b.key.UserKey, a.key.UserKey); c != 0 {
		return c
	}
	return cmp.Compare(b.key.Trailer, a.key.Trailer)
}

func makeItemCompare(c *base.Comparer) itemCompare {
	switch c.Ordering {
	case base.OrderingBytewise:
		return bytewiseItemCompare
	case base.OrderingReverseBytewise:
		return reverseBytewiseItemCompare
	default:
		userCmp := c.Compare
		return func(a, b *heapItem) int {
			return base.InternalCompare(userCmp, *a.key, *b.key)
		}
	}
}
