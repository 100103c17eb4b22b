// Package cache keeps one instance per entity key so that tracker sets and tag checks see the same address, block and
// transaction objects for the lifetime of a process.
package cache

import (
	"strconv"
	"strings"
	"sync"

	"github.com/life0fun/ethtaint/lib/primitives"
)

// Bucket maps keys to values. Once Set, Get for the same key returns the same value. It is safe for concurrent use, but
// there is no atomic check-and-set: callers that race on a key must serialize their writes.
type Bucket[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

// NewBucket returns an empty bucket.
func NewBucket[V any]() *Bucket[V] {
	return &Bucket[V]{m: make(map[string]V)}
}

// Get returns the value for key and whether it was present.
func (b *Bucket[V]) Get(key string) (V, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.m[key]
	return v, ok
}

// Set stores v under key.
func (b *Bucket[V]) Set(key string, v V) {
	b.mu.Lock()
	b.m[key] = v
	b.mu.Unlock()
}

// Len returns the number of keys.
func (b *Bucket[V]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.m)
}

// Cache groups the three entity buckets. Addresses are keyed by canonical hex, blocks by decimal height and
// transactions by lowercase hash.
type Cache struct {
	Addresses    *Bucket[*primitives.Address]
	Blocks       *Bucket[*primitives.Block]
	Transactions *Bucket[*primitives.Transaction]
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		Addresses:    NewBucket[*primitives.Address](),
		Blocks:       NewBucket[*primitives.Block](),
		Transactions: NewBucket[*primitives.Transaction](),
	}
}

// Address returns the cached address for hex, creating and caching it on first reference.
func (c *Cache) Address(hex string) (*primitives.Address, error) {
	h, err := primitives.NormalizeHex(hex)
	if err != nil {
		return nil, err
	}
	if a, ok := c.Addresses.Get(h); ok {
		return a, nil
	}
	a, err := primitives.NewAddress(h)
	if err != nil {
		return nil, err
	}
	c.Addresses.Set(h, a)
	return a, nil
}

// Block returns the cached block at height n, creating it on first reference.
func (c *Cache) Block(n uint64) *primitives.Block {
	key := strconv.FormatUint(n, 10)
	if b, ok := c.Blocks.Get(key); ok {
		return b
	}
	b := primitives.NewBlock(n)
	c.Blocks.Set(key, b)
	return b
}

// Transaction returns the cached transaction for hash. On a miss it calls build and caches the result.
func (c *Cache) Transaction(hash string, build func() (*primitives.Transaction, error)) (*primitives.Transaction, error) {
	hash = strings.ToLower(hash)
	if tx, ok := c.Transactions.Get(hash); ok {
		return tx, nil
	}
	tx, err := build()
	if err != nil {
		return nil, err
	}
	c.Transactions.Set(tx.Hash(), tx)
	return tx, nil
}
