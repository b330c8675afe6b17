package cache

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"
)

// entry is the in-memory representation of a cached value.
type entry[V any] struct {
	value     V
	writtenAt time.Time
	ttl       time.Duration // 0 means the cache-wide TTL
}

// storedEntry is the JSON document written to the persistent tier.
type storedEntry struct {
	Value     json.RawMessage `json:"value"`
	WrittenAt int64           `json:"writtenAt"`     // unix ms
	TTL       int64           `json:"ttl,omitempty"` // ms
}

// indexEntry records recency for one key. The index slice is kept in
// ascending recency order: oldest first, newest last.
type indexEntry struct {
	Key       string `json:"key"`
	WrittenAt int64  `json:"writtenAt"` // unix ms
}

// TTLCache is an expiring cache of V values. With a persistent tier the
// persisted index decides which keys are live, so caches in several
// processes on one namespace share a single bound. The tier is best-effort
// and every failure in it degrades to memory-only behaviour for that call.
//
// A TTLCache is safe for concurrent use.
type TTLCache[V any] struct {
	mu    sync.Mutex
	opts  Options
	mem   map[string]*entry[V]
	index []indexEntry
}

// New creates a cache. When opts.Storage is set, the persisted index is
// loaded so that entries written by an earlier instance stay reachable and
// bounded.
func New[V any](opts Options) *TTLCache[V] {
	opts.init()
	c := &TTLCache[V]{
		opts: opts,
		mem:  make(map[string]*entry[V]),
	}
	if opts.Storage != nil {
		c.loadIndex()
	}
	return c
}

// Get returns the value for key. A missing, expired or unreadable entry is
// reported as absent; Get never fails.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Clock()
	c.syncLocked()
	if e, ok := c.mem[key]; ok {
		if c.expired(e.writtenAt, e.ttl, now) {
			c.dropLocked(key)
			c.opts.Metrics.miss()
			return zero, false
		}
		c.touchLocked(key, now)
		c.opts.Metrics.hit()
		return e.value, true
	}

	if c.opts.Storage == nil {
		c.opts.Metrics.miss()
		return zero, false
	}

	e, ok := c.loadLocked(key, now)
	if !ok {
		c.opts.Metrics.miss()
		return zero, false
	}
	c.mem[key] = e
	if !c.indexed(key) {
		c.index = append(c.index, indexEntry{Key: key, WrittenAt: e.writtenAt.UnixMilli()})
		c.evictLocked()
		c.saveIndexLocked()
	}
	c.touchLocked(key, now)
	c.opts.Metrics.hit()
	return e.value, true
}

// Set stores value under key. An optional ttl overrides the cache-wide TTL
// for this entry only.
func (c *TTLCache[V]) Set(key string, value V, ttl ...time.Duration) {
	var override time.Duration
	if len(ttl) > 0 && ttl[0] > 0 {
		override = ttl[0]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.syncLocked()
	now := c.opts.Clock()
	c.mem[key] = &entry[V]{value: value, writtenAt: now, ttl: override}
	c.stampLocked(key, now)

	if c.opts.Storage != nil {
		payload, err := encodeEntry(value, now, override)
		if err != nil {
			c.report(OpSet, key, err)
		} else if err := c.storageSet(c.storageKey(key), payload); err != nil {
			c.report(OpSet, key, err)
		}
	}

	c.evictLocked()
	c.saveIndexLocked()
}

// Remove deletes key from both tiers. Removing an absent key is a no-op.
func (c *TTLCache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncLocked()
	c.dropLocked(key)
}

// Clear empties the memory tier and deletes every indexed entry, and the
// index itself, from the persistent tier. Entries indexed by other caches
// sharing the namespace are deleted too.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.syncLocked()
	c.mem = make(map[string]*entry[V])
	if c.opts.Storage != nil {
		for _, ie := range c.index {
			if err := c.storageRemove(c.storageKey(ie.Key)); err != nil {
				c.report(OpClear, ie.Key, err)
			}
		}
		if err := c.storageRemove(c.indexKey()); err != nil {
			c.report(OpClear, "", err)
		}
	}
	c.index = nil
}

// Stats returns a snapshot of occupancy. StoredEntries is the persisted
// index length when a persistent tier is configured and 0 otherwise.
func (c *TTLCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.syncLocked()

	s := Stats{
		MemoryEntries: len(c.mem),
		TTL:           c.opts.TTL,
		MaxEntries:    c.opts.MaxEntries,
	}
	if c.opts.Storage != nil {
		s.StoredEntries = len(c.index)
	}
	return s
}

// TTL is the cache-wide expiration.
func (c *TTLCache[V]) TTL() time.Duration { return c.opts.TTL }

func (c *TTLCache[V]) expired(writtenAt time.Time, ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		ttl = c.opts.TTL
	}
	return now.Sub(writtenAt) > ttl
}

// loadLocked reads key from the persistent tier. Unreadable or expired
// entries are removed.
func (c *TTLCache[V]) loadLocked(key string, now time.Time) (*entry[V], bool) {
	raw, ok, err := c.storageGet(c.storageKey(key))
	if err != nil {
		c.report(OpGet, key, err)
		return nil, false
	}
	if !ok {
		if c.unindexLocked(key) {
			c.saveIndexLocked()
		}
		return nil, false
	}

	var se storedEntry
	if err := json.Unmarshal([]byte(raw), &se); err != nil {
		c.report(OpGet, key, fmt.Errorf("decode entry: %w", err))
		c.dropLocked(key)
		return nil, false
	}
	var v V
	if err := json.Unmarshal(se.Value, &v); err != nil {
		c.report(OpGet, key, fmt.Errorf("decode value: %w", err))
		c.dropLocked(key)
		return nil, false
	}

	e := &entry[V]{
		value:     v,
		writtenAt: time.UnixMilli(se.WrittenAt),
		ttl:       time.Duration(se.TTL) * time.Millisecond,
	}
	if c.expired(e.writtenAt, e.ttl, now) {
		c.dropLocked(key)
		return nil, false
	}
	return e, true
}

// dropLocked removes key from memory, the index and the persistent tier.
func (c *TTLCache[V]) dropLocked(key string) {
	delete(c.mem, key)
	changed := c.unindexLocked(key)
	if c.opts.Storage == nil {
		return
	}
	if err := c.storageRemove(c.storageKey(key)); err != nil {
		c.report(OpRemove, key, err)
	}
	if changed {
		c.saveIndexLocked()
	}
}

// stampLocked moves key to the newest end of the index.
func (c *TTLCache[V]) stampLocked(key string, now time.Time) {
	c.unindexLocked(key)
	c.index = append(c.index, indexEntry{Key: key, WrittenAt: now.UnixMilli()})
}

// touchLocked refreshes recency on read when evicting by access.
func (c *TTLCache[V]) touchLocked(key string, now time.Time) {
	if c.opts.EvictionPolicy != EvictByAccess {
		return
	}
	c.stampLocked(key, now)
	c.saveIndexLocked()
}

func (c *TTLCache[V]) indexed(key string) bool {
	return slices.ContainsFunc(c.index, func(ie indexEntry) bool { return ie.Key == key })
}

func (c *TTLCache[V]) unindexLocked(key string) bool {
	n := len(c.index)
	c.index = slices.DeleteFunc(c.index, func(ie indexEntry) bool { return ie.Key == key })
	return len(c.index) != n
}

// evictLocked keeps the MaxEntries most recent index entries and deletes
// the rest from both tiers.
func (c *TTLCache[V]) evictLocked() {
	excess := len(c.index) - c.opts.MaxEntries
	if excess <= 0 {
		return
	}
	// Stable: equal stamps keep their write order.
	slices.SortStableFunc(c.index, func(a, b indexEntry) int {
		return cmp.Compare(a.WrittenAt, b.WrittenAt)
	})
	for _, ie := range c.index[:excess] {
		delete(c.mem, ie.Key)
		if c.opts.Storage != nil {
			if err := c.storageRemove(c.storageKey(ie.Key)); err != nil {
				c.report(OpRemove, ie.Key, err)
			}
		}
		c.opts.Metrics.evict()
		c.opts.Logger.Debug().Str("key", ie.Key).Msg("cache entry evicted")
	}
	c.index = slices.Clone(c.index[excess:])
}

func (c *TTLCache[V]) loadIndex() {
	if idx, ok := c.readIndex(); ok {
		c.index = idx
	}
}

// syncLocked replaces the local index with the persisted one, so that
// several caches on one namespace (the api and the worker, say) bound and
// clear each other's entries. Memory entries the persisted index no longer
// lists were evicted or cleared elsewhere and are dropped. On a read
// failure the local index is kept.
func (c *TTLCache[V]) syncLocked() {
	if c.opts.Storage == nil {
		return
	}
	idx, ok := c.readIndex()
	if !ok {
		return
	}
	listed := make(map[string]bool, len(idx))
	for _, ie := range idx {
		listed[ie.Key] = true
	}
	for key := range c.mem {
		if !listed[key] {
			delete(c.mem, key)
		}
	}
	c.index = idx
}

// readIndex returns the persisted index oldest first. A missing index is
// empty; ok is false only when the index could not be read or decoded.
func (c *TTLCache[V]) readIndex() (idx []indexEntry, ok bool) {
	raw, found, err := c.storageGet(c.indexKey())
	if err != nil {
		c.report(OpIndex, "", err)
		return nil, false
	}
	if !found {
		return nil, true
	}
	var stored []indexEntry
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		c.report(OpIndex, "", fmt.Errorf("decode index: %w", err))
		return nil, false
	}
	// Later duplicates win.
	seen := make(map[string]bool, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		if seen[stored[i].Key] {
			continue
		}
		seen[stored[i].Key] = true
		idx = append(idx, stored[i])
	}
	slices.Reverse(idx)
	slices.SortStableFunc(idx, func(a, b indexEntry) int {
		return cmp.Compare(a.WrittenAt, b.WrittenAt)
	})
	return idx, true
}

func (c *TTLCache[V]) saveIndexLocked() {
	if c.opts.Storage == nil {
		return
	}
	b, err := json.Marshal(c.index)
	if err != nil {
		c.report(OpIndex, "", err)
		return
	}
	if err := c.storageSet(c.indexKey(), string(b)); err != nil {
		c.report(OpIndex, "", err)
	}
}

// Entry keys and the index key use different separators so no caller key
// can collide with the index.
func (c *TTLCache[V]) storageKey(key string) string { return c.opts.Namespace + ":" + key }
func (c *TTLCache[V]) indexKey() string { return c.opts.Namespace + "|index" }

func (c *TTLCache[V]) report(op Op, key string, err error) {
	ioErr := &IOError{Op: op, Key: key, Err: err}
	c.opts.Logger.Warn().Err(err).Str("op", string(op)).Str("key", key).Msg("cache storage degraded")
	c.opts.Metrics.storageError(op)
	if c.opts.OnError != nil {
		c.opts.OnError(ioErr)
	}
}

// The storage wrappers turn adapter panics into errors so that a broken
// adapter cannot take the caller down with it.

func (c *TTLCache[V]) storageGet(key string) (v string, ok bool, err error) {
	defer recoverInto(&err)
	return c.opts.Storage.Get(key)
}

func (c *TTLCache[V]) storageSet(key, value string) (err error) {
	defer recoverInto(&err)
	return c.opts.Storage.Set(key, value)
}

func (c *TTLCache[V]) storageRemove(key string) (err error) {
	defer recoverInto(&err)
	return c.opts.Storage.Remove(key)
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("storage panic: %v", r)
	}
}

func encodeEntry[V any](value V, writtenAt time.Time, ttl time.Duration) (string, error) {
	v, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	b, err := json.Marshal(storedEntry{
		Value:     v,
		WrittenAt: writtenAt.UnixMilli(),
		TTL:       ttl.Milliseconds(),
	})
	if err != nil {
		return "", fmt.Errorf("encode entry: %w", err)
	}
	return string(b), nil
}
