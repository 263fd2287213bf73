package cache

import "sync/atomic"

// node is an intrusive doubly linked list element owned by a Cache.
// It stores the key/value alongside list links and the accounting used by
// eviction.
type node[K comparable, V Sized] struct {
	key K
	val V

	// Intrusive list links: head is MRU, tail is LRU.
	prev *node[K, V]
	next *node[K, V]

	// Weight charged against MaxBytes, fixed at insertion.
	size int64

	// Outstanding borrows. Incremented under either lock mode, decremented under
	// the read lock; only read for eviction under the write lock.
	borrows atomic.Int64
}
