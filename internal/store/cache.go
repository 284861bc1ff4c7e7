package store

import (
	"container/list"
	"fmt"
	"sync"

	"arrow/internal/callgroup"
	"arrow/internal/layout"
)

// MaxOpenBuckets bounds how many bucket files are kept mmap'd at once.
// Beyond this, the least-recently-used bucket is unmapped and closed.
const MaxOpenBuckets = 128

// bucketCache keeps a bounded set of open buckets mmap'd, evicting the
// least recently used bucket once the cap is exceeded. Concurrent opens
// of the same bucket id are deduplicated through callgroup so a cold
// cache under concurrent load maps a bucket file exactly once.
type bucketCache struct {
	dir layout.Dir

	mu      sync.Mutex
	entries map[uint64]*list.Element // bucket id -> lru element
	order   *list.List               // front = most recently used

	opens callgroup.Group[uint64]
}

type cacheEntry struct {
	id uint64
	b  *bucket
}

func newBucketCache(dir layout.Dir) *bucketCache {
	return &bucketCache{
		dir:     dir,
		entries: make(map[uint64]*list.Element),
		order:   list.New(),
	}
}

// get returns the open bucket for id, opening and caching it if needed.
func (c *bucketCache) get(id uint64) (*bucket, error) {
	if b, ok := c.touch(id); ok {
		return b, nil
	}

	err := <-c.opens.DoChan(id, func() error {
		c.mu.Lock()
		if _, ok := c.entries[id]; ok {
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		b, err := openBucket(c.dir.BucketPath(id), id)
		if err != nil {
			return err
		}
		c.put(id, b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open bucket %d: %w", id, err)
	}

	b, ok := c.touch(id)
	if !ok {
		return nil, fmt.Errorf("open bucket %d: %w", id, ErrCorrupt)
	}
	return b, nil
}

func (c *bucketCache) touch(id uint64) (*bucket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).b, true
}

func (c *bucketCache) put(id uint64, b *bucket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[id]; ok {
		el.Value.(*cacheEntry).b = b
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{id: id, b: b})
	c.entries[id] = el

	for c.order.Len() > MaxOpenBuckets {
		c.evictOldestLocked()
	}
}

// evictOldestLocked must be called with c.mu held.
func (c *bucketCache) evictOldestLocked() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	entry := oldest.Value.(*cacheEntry)
	c.order.Remove(oldest)
	delete(c.entries, entry.id)
	_ = entry.b.close()
}

// invalidate closes and drops bucket id from the cache, forcing the next
// get to reopen it. Used after a bucket's file is replaced in place by a
// grow-in-place or split.
func (c *bucketCache) invalidate(id uint64) {
	c.mu.Lock()
	el, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.order.Remove(el)
	delete(c.entries, id)
	c.mu.Unlock()
	_ = el.Value.(*cacheEntry).b.close()
}

func (c *bucketCache) closeAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for el := c.order.Front(); el != nil; el = el.Next() {
		if err := el.Value.(*cacheEntry).b.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.entries = make(map[uint64]*list.Element)
	c.order = list.New()
	return firstErr
}
