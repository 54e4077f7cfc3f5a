package settings

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Cache keeps the current Snapshot in memory and refreshes it from change
// notifications, so hot paths never go to storage.
type Cache struct {
	cur     atomic.Pointer[Snapshot]
	log     zerolog.Logger
	applyMu sync.Mutex

	mu        sync.Mutex
	listeners []func(prev, next Snapshot)
	cancel    func()
}

// NewCache loads the initial snapshot from store and subscribes to it.
func NewCache(ctx context.Context, store *Store, log zerolog.Logger) (*Cache, error) {
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	c := &Cache{log: log.With().Str("component", "settings-cache").Logger()}
	c.cur.Store(&snap)
	c.cancel = store.Subscribe(c.apply)
	return c, nil
}

// Fixed returns a cache that never changes unless Replace is called.
func Fixed(s Snapshot) *Cache {
	c := &Cache{log: zerolog.Nop()}
	s = s.Clone()
	c.cur.Store(&s)
	return c
}

// Snapshot returns a copy of the current settings.
func (c *Cache) Snapshot() Snapshot {
	return c.cur.Load().Clone()
}

// OnChange registers fn, called after each refresh with the previous and the
// new snapshot.
func (c *Cache) OnChange(fn func(prev, next Snapshot)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Replace swaps in s wholesale and notifies listeners.
func (c *Cache) Replace(s Snapshot) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	s = s.Clone()
	prev := c.cur.Swap(&s)
	c.fire(*prev, s)
}

// Close stops following the store.
func (c *Cache) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Cache) apply(ch Change) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	prev := c.Snapshot()
	next := prev.Clone()
	raw := ch.New
	if raw == nil {
		v, err := Defaults().Get(ch.Key)
		if err != nil {
			return
		}
		raw, _ = json.Marshal(v)
	}
	if err := next.Apply(ch.Key, raw); err != nil {
		c.log.Warn().Err(err).Str("key", ch.Key).Msg("ignoring setting change")
		return
	}
	c.cur.Store(&next)
	c.fire(prev, next)
}

func (c *Cache) fire(prev, next Snapshot) {
	c.mu.Lock()
	fns := append([]func(prev, next Snapshot){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(prev, next)
	}
}
