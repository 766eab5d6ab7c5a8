// Package cache implements the proxy's shared, byte-accounted LRU
// response cache: a bounded content store keyed by canonical URI, with
// reader/writer concurrency and a two-phase lookup protocol that
// tolerates concurrent eviction between finding an entry and using it.
//
// The structure — a doubly-linked list with dummy head/tail sentinels
// plus a map from key to list node for O(1) membership — is adapted
// from the teacher's middleware.Cache, generalized from a
// count-and-TTL-bounded response cache into a pure byte-accounted one
// with no expiry, matching the design this package implements.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mendesjr/fproxy/internal/logging"
	"github.com/mendesjr/fproxy/internal/proxyerr"
)

// MaxCacheSize is the total number of content bytes the cache may hold
// across all resident entries.
const MaxCacheSize = 1_049_000

// MaxObjectSize is the largest single response eligible for caching.
const MaxObjectSize = 102_400

// node is one resident entry plus its list links.
type node struct {
	key   string
	bytes []byte
	prev  *node
	next  *node
}

// Entry is a read-only view of a single resident cache entry. No Cache
// method returns one.
type Entry struct {
	Key   string
	Bytes []byte
}

// Cache is the bounded LRU store described by the design: writers are
// exclusive, readers are shared, and promotion-on-hit is deliberately a
// write (see Lookup).
type Cache struct {
	mu   sync.RWMutex
	head *node // dummy sentinel; head.next is most-recently-used
	tail *node // dummy sentinel; tail.prev is least-recently-used

	index     map[string]*node
	count     int
	usedBytes int

	log *logging.Logger
}

// New returns an empty cache. Passing a nil logger disables status
// logging.
func New(log *logging.Logger) *Cache {
	head := &node{}
	tail := &node{}
	head.next = tail
	tail.prev = head

	return &Cache{
		head:  head,
		tail:  tail,
		index: make(map[string]*node),
		log:   log,
	}
}

// Lookup implements the two-phase protocol: phase one looks the key up
// in the index under the read lock and remembers its identity (the
// node pointer is a stable handle — nothing but eviction of this exact
// entry invalidates it); phase two re-acquires the write lock and
// re-verifies the handle is still resident before promoting it to
// head and copying its bytes out. If the entry was evicted in the gap
// between the two locks, phase two finds the index no longer maps the
// key to that handle and returns a miss instead of using freed data.
func (c *Cache) Lookup(key string) ([]byte, bool) {
	c.mu.RLock()
	n, found := c.index[key]
	c.mu.RUnlock()

	if !found {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.index[key]; !ok || cur != n {
		// Evicted (or replaced) between the read and write lock.
		return nil, false
	}

	c.detach(n)
	c.pushFront(n)

	out := make([]byte, len(n.bytes))
	copy(out, n.bytes)

	c.logStatus(context.Background(), "cache hit", key)
	return out, true
}

// Add inserts content under key, evicting least-recently-used entries
// from the tail until there is room. Content that is empty or larger
// than MaxObjectSize is silently not cached. Content is
// copied outside the lock (mirroring the original's
// malloc-then-acquire-write-lock ordering) so that an expensive copy
// never holds the lock other workers are waiting on.
//
// A key already resident is replaced rather than duplicated: Add
// removes any existing entry for key before inserting the new one,
// which the design's two-phase index-based lookup requires (the index
// can only map a key to one node at a time).
func (c *Cache) Add(key string, content []byte) {
	if len(content) == 0 || len(content) > MaxObjectSize {
		return
	}

	owned := make([]byte, len(content))
	copy(owned, content)
	n := &node{key: key, bytes: owned}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.index[key]; ok {
		c.detach(existing)
		delete(c.index, key)
		c.usedBytes -= len(existing.bytes)
		c.count--
	}

	for c.unusedBytesLocked() < len(owned) && c.tail.prev != c.head {
		c.evictTailLocked()
	}

	c.pushFront(n)
	c.index[key] = n
	c.usedBytes += len(owned)
	c.count++

	c.logStatus(context.Background(), "cache insert", key)
}

// detach unlinks n from the list without touching byte/count
// accounting; callers adjust accounting themselves depending on whether
// the node is being promoted (no accounting change) or evicted/replaced
// (accounting change). Must be called under the write lock.
func (c *Cache) detach(n *node) {
	n.prev.next = n.next
	n.next.prev = n.prev
}

// pushFront links n immediately after the head sentinel. Must be called
// under the write lock.
func (c *Cache) pushFront(n *node) {
	n.prev = c.head
	n.next = c.head.next
	c.head.next.prev = n
	c.head.next = n
}

// evictTailLocked removes and discards the least-recently-used entry.
// Must be called under the write lock with at least one resident entry.
func (c *Cache) evictTailLocked() {
	victim := c.tail.prev
	c.detach(victim)
	delete(c.index, victim.key)
	c.usedBytes -= len(victim.bytes)
	c.count--
}

// unusedBytesLocked returns MaxCacheSize - usedBytes. Must be called
// under the write lock (or read lock, for Stats).
func (c *Cache) unusedBytesLocked() int {
	return MaxCacheSize - c.usedBytes
}

// Stats reports the current occupancy for logging and metrics: resident
// item count, used bytes, and free bytes. The free percentage that the
// status log line carries is computed in logStatus, not stored here.
type Stats struct {
	Count     int
	UsedBytes int
	FreeBytes int
}

// Stats returns a snapshot of cache occupancy under the read lock.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Count:     c.count,
		UsedBytes: c.usedBytes,
		FreeBytes: c.unusedBytesLocked(),
	}
}

// logStatus emits the occupancy line the original prints after every
// hit-promotion and insert, then runs the consistency check.
func (c *Cache) logStatus(ctx context.Context, event, key string) {
	pct := c.unusedBytesLocked() * 100 / MaxCacheSize
	if c.log != nil {
		c.log.Info(ctx, event,
			slog.String("uri", key),
			slog.Int("cached_items", c.count),
			slog.Int("free_bytes", c.unusedBytesLocked()),
			slog.Int("free_pct", pct),
		)
	}
	c.checkConsistencyLocked(ctx)
}

// checkConsistencyLocked walks the list forward from head and backward
// from tail and terminates the process if either walk disagrees with
// count or with each other. A cache invariant violation is
// unrecoverable, matching the original's check_cache_consistency, which
// calls exit(1) on the same mismatch.
func (c *Cache) checkConsistencyLocked(ctx context.Context) {
	forward := 0
	for n := c.head.next; n != c.tail; n = n.next {
		forward++
	}
	backward := 0
	for n := c.tail.prev; n != c.head; n = n.prev {
		backward++
	}
	if forward != backward || forward != c.count {
		detail := &proxyerr.CacheCorruption{Detail: fmt.Sprintf(
			"forward=%d backward=%d count=%d", forward, backward, c.count)}
		if c.log != nil {
			c.log.Fatal(ctx, "cache corrupted", detail)
			return
		}
		panic(detail)
	}
}
