// Package cache provides the concurrent, indexed store that event sources use
// to hold the last observed state of resources.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/giantswarm/reconcilekit/internal/resource"
)

// Token orders observations. A token is taken before reading from an external
// system and handed back with the write, so a slow reader cannot overwrite a
// deletion that was observed after it started.
type Token uint64

// IndexFunc computes the secondary index keys of a value.
type IndexFunc[T any] func(id resource.ID, value T) []string

// Cache is a concurrent map from resource.ID to T with optional secondary indexes.
// Writes are per-key last-writer-wins, except that a write carrying a token older
// than the key's tombstone is discarded.
type Cache[T any] struct {
	mu sync.RWMutex

	items      map[resource.ID]T
	tombstones map[resource.ID]Token

	indexers map[string]IndexFunc[T]
	// indices maps index name -> index key -> ids
	indices map[string]map[string]sets.Set[resource.ID]

	seq atomic.Uint64
}

// New creates an empty cache.
func New[T any]() *Cache[T] {
	return &Cache[T]{
		items:      make(map[resource.ID]T),
		tombstones: make(map[resource.ID]Token),
		indexers:   make(map[string]IndexFunc[T]),
		indices:    make(map[string]map[string]sets.Set[resource.ID]),
	}
}

// Observe returns a token that orders after every previously issued token.
func (c *Cache[T]) Observe() Token {
	return Token(c.seq.Add(1))
}

// AddIndexer registers a secondary index and indexes the current content.
func (c *Cache[T]) AddIndexer(name string, fn IndexFunc[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.indexers[name]; exists {
		return fmt.Errorf("indexer %q already registered", name)
	}
	c.indexers[name] = fn
	c.indices[name] = make(map[string]sets.Set[resource.ID])
	for id, v := range c.items {
		c.addToIndex(name, fn, id, v)
	}
	return nil
}

// Get returns the value stored for id.
func (c *Cache[T]) Get(id resource.ID) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[id]
	return v, ok
}

// Put stores value unconditionally and clears any tombstone for id.
func (c *Cache[T]) Put(id resource.ID, value T) {
	c.PutObserved(id, value, c.Observe())
}

// PutObserved stores value unless id was deleted after token was issued.
// It reports whether the value was stored.
func (c *Cache[T]) PutObserved(id resource.ID, value T, token Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deletedAt, ok := c.tombstones[id]; ok {
		if token < deletedAt {
			return false
		}
		delete(c.tombstones, id)
	}

	if old, ok := c.items[id]; ok {
		c.removeFromIndices(id, old)
	}
	c.items[id] = value
	for name, fn := range c.indexers {
		c.addToIndex(name, fn, id, value)
	}
	return true
}

// Delete removes id and records a tombstone. It returns the removed value.
func (c *Cache[T]) Delete(id resource.ID) (T, bool) {
	token := c.Observe()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.tombstones[id] = token
	old, ok := c.items[id]
	if ok {
		c.removeFromIndices(id, old)
		delete(c.items, id)
	}
	return old, ok
}

// ForgetTombstone drops the tombstone for id once no stale writer can exist.
func (c *Cache[T]) ForgetTombstone(id resource.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tombstones, id)
}

// PruneTombstones drops every tombstone issued before token.
func (c *Cache[T]) PruneTombstones(before Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.tombstones {
		if t < before {
			delete(c.tombstones, id)
		}
	}
}

// Keys returns the ids currently stored, in no particular order.
func (c *Cache[T]) Keys() []resource.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]resource.ID, 0, len(c.items))
	for id := range c.items {
		keys = append(keys, id)
	}
	return keys
}

// List returns the values currently stored, in no particular order.
func (c *Cache[T]) List() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	values := make([]T, 0, len(c.items))
	for _, v := range c.items {
		values = append(values, v)
	}
	return values
}

// Len returns the number of stored values.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// ByIndex returns the ids whose index function produced key.
func (c *Cache[T]) ByIndex(name, key string) ([]resource.ID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	index, ok := c.indices[name]
	if !ok {
		return nil, fmt.Errorf("index %q does not exist", name)
	}
	return index[key].UnsortedList(), nil
}

func (c *Cache[T]) addToIndex(name string, fn IndexFunc[T], id resource.ID, value T) {
	index := c.indices[name]
	for _, key := range fn(id, value) {
		set, ok := index[key]
		if !ok {
			set = sets.New[resource.ID]()
			index[key] = set
		}
		set.Insert(id)
	}
}

func (c *Cache[T]) removeFromIndices(id resource.ID, value T) {
	for name, fn := range c.indexers {
		index := c.indices[name]
		for _, key := range fn(id, value) {
			set, ok := index[key]
			if !ok {
				continue
			}
			set.Delete(id)
			if set.Len() == 0 {
				delete(index, key)
			}
		}
	}
}
