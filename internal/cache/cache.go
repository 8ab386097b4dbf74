/**
* Copyright 2018 Comcast Cable Communications Management, LLC
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
* http://www.apache.org/licenses/LICENSE-2.0
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
 */

// Package cache implements the GDSF (Greedy-Dual Size Frequency) cache: a
// score-ordered doubly-linked list of CacheEntry records keyed by
// (host, path). The Cache itself holds no internal lock; callers serialize
// access with a single cache-wide mutex (see internal/proxy/plainhttp and
// internal/proxy/mitm, which share one).
package cache

import (
	"errors"

	"github.com/golang/snappy"
)

// ErrInvalidSize is returned by Insert when size does not match len(body) or is not positive.
var ErrInvalidSize = errors.New("cache: size must be positive and equal to len(body)")

// Entry is the unit stored in the cache.
type Entry struct {
	Host       string
	Path       string
	Response   []byte
	Compressed bool
	Size       int64
	Frequency  int64
	Latency    float64
	Score      float64

	prev *Entry
	next *Entry
}

// score computes (frequency * latency) / size, per §3 of the specification.
func score(frequency int64, latency float64, size int64) float64 {
	if size <= 0 {
		return 0
	}
	return (float64(frequency) * latency) / float64(size)
}

// Cache is the GDSF container: a bounded map ordered by descending score.
type Cache struct {
	head *Entry
	tail *Entry

	capacity      int
	size          int
	hits, misses  int64
	evictions     int64
	compress      bool
	maxEntryBytes int64
}

// Config configures a new Cache.
type Config struct {
	// Capacity is the maximum number of entries the cache may hold.
	Capacity int
	// Compress, when true, stores response bytes snappy-compressed.
	Compress bool
	// MaxEntryBytes caps the size of any single inserted entry; 0 means unbounded,
	// matching the original implementation's lack of a per-entry ceiling.
	MaxEntryBytes int64
}

// New returns an empty Cache with the given capacity. Capacity must be positive.
func New(cfg Config) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	return &Cache{
		capacity:      cfg.Capacity,
		compress:      cfg.Compress,
		maxEntryBytes: cfg.MaxEntryBytes,
	}
}

// Size returns the current number of entries.
func (c *Cache) Size() int { return c.size }

// Capacity returns the configured maximum number of entries.
func (c *Cache) Capacity() int { return c.capacity }

// Hits returns the cumulative hit counter.
func (c *Cache) Hits() int64 { return c.hits }

// Misses returns the cumulative miss counter.
func (c *Cache) Misses() int64 { return c.misses }

// Evictions returns the cumulative eviction counter.
func (c *Cache) Evictions() int64 { return c.evictions }

func (c *Cache) removeEntry(e *Entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

// insertByScore places e according to the tie-break rules in §4.3:
// empty list -> head=tail; s >= head.score -> prepend; s <= tail.score ->
// append; otherwise scan from head for the first node with strictly lower
// score and insert before it.
func (c *Cache) insertByScore(e *Entry) {
	if c.head == nil {
		c.head, c.tail = e, e
		e.prev, e.next = nil, nil
		return
	}
	if e.Score >= c.head.Score {
		e.next = c.head
		e.prev = nil
		c.head.prev = e
		c.head = e
		return
	}
	if e.Score <= c.tail.Score {
		e.prev = c.tail
		e.next = nil
		c.tail.next = e
		c.tail = e
		return
	}
	cur := c.head.next
	for cur != nil && cur.Score >= e.Score {
		cur = cur.next
	}
	// cur is guaranteed non-nil here: the tail check above means e.Score >
	// tail.Score, so the scan cannot run off the end of the list.
	e.next = cur
	e.prev = cur.prev
	cur.prev.next = e
	cur.prev = e
}

// Lookup returns the entry matching (host, path), promoting it on hit.
func (c *Cache) Lookup(host, path string) (*Entry, bool) {
	for e := c.head; e != nil; e = e.next {
		if e.Host == host && e.Path == path {
			c.hits++
			e.Frequency++
			e.Score = score(e.Frequency, e.Latency, e.Size)
			c.removeEntry(e)
			c.insertByScore(e)
			return e, true
		}
	}
	c.misses++
	return nil, false
}

// Insert stores body under (host, path), evicting the tail if the cache
// grows past capacity. size must equal len(body) and be positive.
// Duplicate keys are not deduplicated: a second miss for an existing key
// adds a second entry alongside the first, matching the original
// implementation's insertcache().
func (c *Cache) Insert(host, path string, body []byte, size int64, latency float64) error {
	if size <= 0 || int(size) != len(body) {
		return ErrInvalidSize
	}
	if c.maxEntryBytes > 0 && size > c.maxEntryBytes {
		return ErrInvalidSize
	}

	stored := make([]byte, len(body))
	copy(stored, body)
	if c.compress {
		stored = snappy.Encode(nil, stored)
	}

	e := &Entry{
		Host:       host,
		Path:       path,
		Response:   stored,
		Compressed: c.compress,
		Size:       size,
		Frequency:  1,
		Latency:    latency,
	}
	e.Score = score(e.Frequency, e.Latency, e.Size)

	c.insertByScore(e)
	c.size++

	if c.size > c.capacity {
		victim := c.tail
		c.removeEntry(victim)
		c.size--
		c.evictions++
	}

	return nil
}

// Body returns the entry's response bytes, decompressing if necessary.
func (e *Entry) Body() []byte {
	if !e.Compressed {
		return e.Response
	}
	out, err := snappy.Decode(nil, e.Response)
	if err != nil {
		return e.Response
	}
	return out
}

// Destroy releases all entries.
func (c *Cache) Destroy() {
	c.head = nil
	c.tail = nil
	c.size = 0
}

// Snapshot returns entries in head-to-tail (highest to lowest score) order,
// for diagnostics (adapted from original_source/proxy/CacheData.c's
// print_cache_state, as structured data instead of stdout text).
func (c *Cache) Snapshot() []Entry {
	out := make([]Entry, 0, c.size)
	for e := c.head; e != nil; e = e.next {
		cp := *e
		cp.prev, cp.next = nil, nil
		out = append(out, cp)
	}
	return out
}
