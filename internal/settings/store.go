package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Scope mirrors the storage area a setting lives in.
type Scope string

const (
	ScopeSync  Scope = "sync"
	ScopeLocal Scope = "local"
)

// Entry is one persisted setting. Value holds JSON. Revision increases with
// every write to the table, whichever process made it.
type Entry struct {
	Key       string `gorm:"primaryKey;size:64"`
	Scope     Scope  `gorm:"size:16;index"`
	Value     string `gorm:"type:text"`
	Revision  int64  `gorm:"index;not null;default:0"`
	UpdatedAt time.Time
}

func (Entry) TableName() string { return "settings" }

// Change is delivered to subscribers after a write. New is nil when the key
// was reset to its default.
type Change struct {
	Key   string
	Scope Scope
	Old   json.RawMessage
	New   json.RawMessage
}

// Store persists settings and fans out change notifications.
type Store struct {
	db    *gorm.DB
	log   zerolog.Logger
	clock func() time.Time

	mu      sync.Mutex
	subs    map[uint64]func(Change)
	nextSub uint64
	lastRev int64
}

// NewStore migrates the settings table on db.
func NewStore(db *gorm.DB, log zerolog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("settings: migrate: %w", err)
	}
	return &Store{
		db:    db,
		log:   log.With().Str("component", "settings").Logger(),
		clock: time.Now,
		subs:  map[uint64]func(Change){},
	}, nil
}

// Get returns the stored JSON for key; ok is false when unset.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var e Entry
	err := s.db.WithContext(ctx).Where(map[string]any{"key": key}).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("settings: get %s: %w", key, err)
	}
	return json.RawMessage(e.Value), true, nil
}

// Set validates and persists value under the sync scope.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("settings: encode %s: %w", key, err)
	}
	return s.SetRaw(ctx, key, ScopeSync, raw)
}

// SetRaw persists already-encoded JSON. The value is validated by applying it
// to a scratch snapshot first, so invalid input never reaches the table.
func (s *Store) SetRaw(ctx context.Context, key string, scope Scope, raw json.RawMessage) error {
	scratch := Defaults()
	if err := scratch.Apply(key, raw); err != nil {
		return err
	}
	// store the normalised form
	v, _ := scratch.Get(key)
	norm, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("settings: encode %s: %w", key, err)
	}
	old, _, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	e := Entry{Key: key, Scope: scope, Value: string(norm), UpdatedAt: s.clock().UTC()}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var top int64
		if err := tx.Model(&Entry{}).Select("COALESCE(MAX(revision), 0)").Scan(&top).Error; err != nil {
			return err
		}
		e.Revision = top + 1
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&e).Error
	})
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	s.markSeen(e.Revision)
	s.log.Debug().Str("key", key).RawJSON("value", norm).Msg("setting stored")
	s.notify(Change{Key: key, Scope: scope, Old: old, New: norm})
	return nil
}

// Delete resets key to its default.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := Defaults().Get(key); err != nil {
		return err
	}
	old, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return err
	}
	if err := s.db.WithContext(ctx).Where(map[string]any{"key": key}).Delete(&Entry{}).Error; err != nil {
		return fmt.Errorf("settings: delete %s: %w", key, err)
	}
	s.notify(Change{Key: key, Scope: ScopeSync, Old: old})
	return nil
}

// All returns every stored entry.
func (s *Store) All(ctx context.Context) ([]Entry, error) {
	var out []Entry
	if err := s.db.WithContext(ctx).Order(clause.OrderByColumn{Column: clause.Column{Name: "key"}}).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("settings: list: %w", err)
	}
	return out, nil
}

// Snapshot overlays stored entries on the defaults. Entries that no longer
// validate are logged and skipped.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	entries, err := s.All(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Defaults()
	for _, e := range entries {
		if err := snap.Apply(e.Key, json.RawMessage(e.Value)); err != nil {
			s.log.Warn().Err(err).Str("key", e.Key).Msg("ignoring stored setting")
		}
		s.markSeen(e.Revision)
	}
	return snap, nil
}

// Subscribe registers fn for every subsequent change. The returned func
// unregisters it.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(ch Change) {
	s.mu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}

func (s *Store) markSeen(rev int64) {
	s.mu.Lock()
	if rev > s.lastRev {
		s.lastRev = rev
	}
	s.mu.Unlock()
}

// Watch polls for writes made by other processes sharing the database and
// notifies subscribers about them. It returns when ctx is done.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.poll(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("settings poll failed")
			}
		}
	}
}

func (s *Store) poll(ctx context.Context) error {
	s.mu.Lock()
	since := s.lastRev
	s.mu.Unlock()
	var changed []Entry
	if err := s.db.WithContext(ctx).Where("revision > ?", since).Order("revision").Find(&changed).Error; err != nil {
		return err
	}
	for _, e := range changed {
		s.markSeen(e.Revision)
		s.notify(Change{Key: e.Key, Scope: e.Scope, New: json.RawMessage(e.Value)})
	}
	return nil
}
