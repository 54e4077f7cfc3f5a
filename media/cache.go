package media

import (
	"sync"
)

// ---------------------- Response cache (LRU by bytes) ----------------------

type lruEntry struct {
	key        string
	data       []byte
	mime       string
	prev, next *lruEntry
}

type memLRU struct {
	mu   sync.Mutex
	max  int64
	size int64
	m    map[string]*lruEntry
	head *lruEntry
	tail *lruEntry
}

func newMemLRU(max int64) *memLRU {
	if max <= 0 {
		return nil
	}
	return &memLRU{max: max, m: map[string]*lruEntry{}}
}

func (c *memLRU) moveFront(e *lruEntry) {
	if c.head == e {
		return
	}
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if c.tail == e {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *memLRU) get(key string) ([]byte, string, bool) {
	if c == nil {
		return nil, "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.m[key]; ok {
		c.moveFront(e)
		return append([]byte(nil), e.data...), e.mime, true
	}
	return nil, "", false
}

func (c *memLRU) put(key string, data []byte, mime string) {
	if c == nil || int64(len(data)) > c.max {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.m[key]; ok {
		c.size -= int64(len(e.data))
		e.data = append([]byte(nil), data...)
		e.mime = mime
		c.size += int64(len(e.data))
		c.moveFront(e)
	} else {
		e := &lruEntry{key: key, data: append([]byte(nil), data...), mime: mime}
		e.next = c.head
		if c.head != nil {
			c.head.prev = e
		}
		c.head = e
		if c.tail == nil {
			c.tail = e
		}
		c.m[key] = e
		c.size += int64(len(e.data))
	}
	for c.size > c.max && c.tail != nil {
		old := c.tail
		delete(c.m, old.key)
		c.size -= int64(len(old.data))
		c.tail = old.prev
		if c.tail != nil {
			c.tail.next = nil
		} else {
			c.head = nil
		}
	}
}

func (c *memLRU) len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// CacheConfig sizes the response cache. Zero MemoryBytes disables the memory
// tier; an empty DiskDir disables the disk tier.
type CacheConfig struct {
	MemoryBytes int64
	DiskDir     string
	DiskBytes   int64
}

// Cache holds media response bodies already seen, keyed by absolute URL.
// It backs the cache-assisted download mode: lookups never touch the network.
type Cache struct {
	mem  *memLRU
	disk *diskCache
}

// NewCache builds a two tier cache. A nil *Cache is valid and always misses.
func NewCache(cfg CacheConfig) *Cache {
	return &Cache{
		mem:  newMemLRU(cfg.MemoryBytes),
		disk: newDiskCache(cfg.DiskDir, cfg.DiskBytes),
	}
}

// Get returns a cached body and its media type.
func (c *Cache) Get(url string) ([]byte, string, bool) {
	if c == nil {
		return nil, "", false
	}
	key := StripFragment(url)
	if data, mt, ok := c.mem.get(key); ok {
		return data, mt, true
	}
	if data, mt, ok := c.disk.get(key); ok {
		c.mem.put(key, data, mt)
		return data, mt, true
	}
	return nil, "", false
}

// Put stores a complete response body.
func (c *Cache) Put(url string, data []byte, mime string) {
	if c == nil || len(data) == 0 {
		return
	}
	key := StripFragment(url)
	c.mem.put(key, data, mime)
	c.disk.put(key, data, mime)
}
