// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockrun

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/swiss"
)

type cacheKey struct {
	table  uint64
	offset uint64
}

// Cache holds decompressed blocks shared by the tables opened with it. Blocks
// are evicted in insertion order once the cache exceeds its capacity. A Cache
// is safe for concurrent use.
type Cache struct {
	capacity int64

	mu struct {
		sync.Mutex
		blocks swiss.Map[cacheKey, []byte]
		// fifo holds keys in insertion order. It may contain keys that were
		// already evicted.
		fifo   []cacheKey
		size   int64
		hits   int64
		misses int64
	}
}

// NewCache returns a cache holding up to capacity bytes of blocks.
func NewCache(capacity int64) *Cache {
	c := &Cache{capacity: capacity}
	c.mu.blocks.Init(16)
	return c
}

func (c *Cache) get(k cacheKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.mu.blocks.Get(k)
	if ok {
		c.mu.hits++
	} else {
		c.mu.misses++
	}
	return b, ok
}

func (c *Cache) add(k cacheKey, b []byte) {
	if int64(len(b)) > c.capacity {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.mu.blocks.Get(k); ok {
		return
	}
	c.mu.blocks.Put(k, b)
	c.mu.fifo = append(c.mu.fifo, k)
	c.mu.size += int64(len(b))
	for c.mu.size > c.capacity && len(c.mu.fifo) > 0 {
		victim := c.mu.fifo[0]
		c.mu.fifo = c.mu.fifo[1:]
		if v, ok := c.mu.blocks.Get(victim); ok {
			c.mu.blocks.Delete(victim)
			c.mu.size -= int64(len(v))
		}
	}
}

// CacheMetrics holds the counters of a Cache.
type CacheMetrics struct {
	Count  int
	Size   int64
	Hits   int64
	Misses int64
}

// Metrics returns the cache's current counters.
func (c *Cache) Metrics() CacheMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheMetrics{
		Count:  c.mu.blocks.Len(),
		Size:   c.mu.size,
		Hits:   c.mu.hits,
		Misses: c.mu.misses,
	}
}

func (m CacheMetrics) String() string {
	return fmt.Sprintf("%d blocks, %s, %d hits, %d misses",
		m.Count, crhumanize.Bytes(m.Size, crhumanize.Compact, crhumanize.OmitI), m.Hits, m.Misses)
}
