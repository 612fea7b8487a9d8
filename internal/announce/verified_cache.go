package announce

import (
	"container/list"
	"os"
	"strconv"
	"sync"
	"time"
)

// verifiedCache remembers digests of announcements whose signature already
// verified, so a re-delivered broadcast skips the ECDSA recovery. Every
// other validation step still runs.
type verifiedCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	items   map[[32]byte]*list.Element
	order   *list.List
	now     func() time.Time
}

type verifiedEntry struct {
	key [32]byte
	ts  time.Time
}

func newVerifiedCache(now func() time.Time) *verifiedCache {
	ttl := 60 * time.Second
	if raw := os.Getenv("SUPERNODE_ANNOUNCE_CACHE_TTL_SEC"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			ttl = time.Duration(v) * time.Second
		}
	}
	maxSize := 256
	if raw := os.Getenv("SUPERNODE_ANNOUNCE_CACHE_MAX"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			maxSize = v
		}
	}
	if now == nil {
		now = time.Now
	}
	return &verifiedCache{
		ttl:     ttl,
		maxSize: maxSize,
		items:   make(map[[32]byte]*list.Element),
		order:   list.New(),
		now:     now,
	}
}

func (c *verifiedCache) has(key [32]byte) bool {
	if c == nil || c.maxSize == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneExpiredLocked(c.now())
	_, ok := c.items[key]
	return ok
}

func (c *verifiedCache) add(key [32]byte) {
	if c == nil || c.maxSize == 0 {
		return
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneExpiredLocked(now)
	if el, ok := c.items[key]; ok {
		el.Value.(*verifiedEntry).ts = now
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&verifiedEntry{key: key, ts: now})
	for c.order.Len() > c.maxSize {
		back := c.order.Back()
		if back == nil {
			break
		}
		delete(c.items, back.Value.(*verifiedEntry).key)
		c.order.Remove(back)
	}
}

func (c *verifiedCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *verifiedCache) pruneExpiredLocked(now time.Time) {
	if c.ttl <= 0 {
		return
	}
	cutoff := now.Add(-c.ttl)
	for {
		back := c.order.Back()
		if back == nil {
			return
		}
		ent := back.Value.(*verifiedEntry)
		if ent.ts.After(cutoff) {
			return
		}
		delete(c.items, ent.key)
		c.order.Remove(back)
	}
}
