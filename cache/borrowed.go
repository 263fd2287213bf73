package cache

import (
	"context"
	"sync/atomic"
)

// Borrowed is a lease on a cached value. While at least one lease for a key is
// outstanding the entry is pinned and the value stays open.
//
// Read the value only between GetOrFill and Release. Release is idempotent:
// only the first call gives the borrow back.
type Borrowed[K comparable, V Sized] struct {
	c        *Cache[K, V]
	n        *node[K, V]
	released atomic.Bool
}

// Key returns the borrowed key.
func (b *Borrowed[K, V]) Key() K { return b.n.key }

// Value returns the borrowed value.
func (b *Borrowed[K, V]) Value() V { return b.n.val }

// Release returns the borrow to the cache. The entry becomes evictable once its
// last borrow is released; eviction itself happens on a later fill.
func (b *Borrowed[K, V]) Release() {
	if !b.released.CompareAndSwap(false, true) {
		return
	}
	// shared mode keeps the decrement from interleaving with an eviction scan;
	// Background because a release must never be abandoned
	_ = b.c.lock.RLock(context.Background())
	left := b.n.borrows.Add(-1)
	b.c.lock.RUnlock()
	if left < 0 {
		panic("cache: borrow count went negative")
	}
}
