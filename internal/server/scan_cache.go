package server

import (
	"sync"
	"time"

	"hoversave/internal/bus"
)

type scanEntry struct {
	reply   bus.ScanReply
	created time.Time
}

// scanCache keeps recent scan results so repeated lookups of the same page
// do not refetch it. A non-positive ttl disables it.
type scanCache struct {
	mu   sync.RWMutex
	now  func() time.Time
	ttl  time.Duration
	data map[string]scanEntry
}

func newScanCache(now func() time.Time, ttl time.Duration) *scanCache {
	if now == nil {
		now = time.Now
	}
	return &scanCache{now: now, ttl: ttl, data: make(map[string]scanEntry)}
}

func (c *scanCache) Store(target string, reply bus.ScanReply) {
	if c.ttl <= 0 {
		return
	}
	reply.Candidates = append(reply.Candidates[:0:0], reply.Candidates...)
	c.mu.Lock()
	c.data[target] = scanEntry{reply: reply, created: c.now()}
	c.mu.Unlock()
}

func (c *scanCache) Select(target string) (bus.ScanReply, bool) {
	if c.ttl <= 0 {
		return bus.ScanReply{}, false
	}
	c.mu.RLock()
	e, ok := c.data[target]
	c.mu.RUnlock()
	if !ok {
		return bus.ScanReply{}, false
	}
	if c.now().Sub(e.created) > c.ttl {
		c.mu.Lock()
		delete(c.data, target)
		c.mu.Unlock()
		return bus.ScanReply{}, false
	}
	r := e.reply
	r.Candidates = append(r.Candidates[:0:0], r.Candidates...)
	return r, true
}

func (c *scanCache) Clear() {
	c.mu.Lock()
	c.data = make(map[string]scanEntry)
	c.mu.Unlock()
}
