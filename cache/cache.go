package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/IvanBrykalov/glovebox/internal/rwlock"
	"github.com/IvanBrykalov/glovebox/internal/util"
)

// ErrOversizedEntry is returned by GetOrFill when a filled value's size meets or
// exceeds the cache limit. Such a value could never be served from the cache.
var ErrOversizedEntry = errors.New("cache: entry size exceeds cache limit")

// Sized is implemented by every value held in a Cache. Size is the weight, in
// bytes, charged against Options.MaxBytes.
type Sized interface {
	Size() int64
}

// FillFunc produces the value for a missing key. It runs under the cache's
// exclusive lock, so it is never invoked twice concurrently.
type FillFunc[K comparable, V Sized] func(ctx context.Context, k K) (V, error)

// Cache is a size-bounded LRU cache of reference-counted values.
// All methods are safe for concurrent use by multiple goroutines.
//
// Values are handed out as Borrowed leases. While a key has outstanding borrows
// it is never evicted, even if that leaves the cache over budget. Evicted values
// implementing io.Closer are closed once they leave the cache.
type Cache[K comparable, V Sized] struct {
	lock *rwlock.RWMutex

	// ---- guarded by lock (write) ----
	m    map[K]*node[K, V]
	size int64 // resident total
	max  int64

	overBudget bool // last reported state

	// orderMu serializes recency updates made by read-locked hits.
	// The write lock alone is enough for everything else touching the list.
	orderMu sync.Mutex
	head    *node[K, V] // MRU
	tail    *node[K, V] // LRU

	opt    Options[K, V]
	logger log.Logger

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.Counter
	misses util.Counter
	evicts util.Counter
}

// New constructs a Cache with the provided Options.
// Defaults:
//   - nil Metrics -> NoopMetrics
//   - nil Logger  -> no-op logger
func New[K comparable, V Sized](opt Options[K, V]) *Cache[K, V] {
	if opt.MaxBytes <= 0 {
		panic("MaxBytes must be > 0")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = log.NewNopLogger()
	}
	return &Cache[K, V]{
		lock:   rwlock.New(),
		m:      make(map[K]*node[K, V]),
		max:    opt.MaxBytes,
		opt:    opt,
		logger: log.With(opt.Logger, "component", "lru-cache"),
	}
}

// GetOrFill returns a borrow of the value for k, calling fill on a miss.
//
// Hits are served under the shared lock. A miss takes the exclusive lock,
// re-checks, runs fill, inserts the result as most recently used and borrows it
// before the lock is released, then evicts unborrowed entries from the LRU end
// until the cache is back within budget. Concurrent callers for the same absent
// key therefore trigger exactly one fill; a failed fill leaves the key absent.
//
// The caller must Release the returned handle exactly once.
func (c *Cache[K, V]) GetOrFill(ctx context.Context, k K, fill FillFunc[K, V]) (*Borrowed[K, V], error) {
	// fast path: already resident
	if err := c.lock.RLock(ctx); err != nil {
		return nil, err
	}
	if n, ok := c.m[k]; ok {
		c.orderMu.Lock()
		c.moveToFront(n)
		c.orderMu.Unlock()
		b := c.borrow(n)
		c.lock.RUnlock()
		c.hit()
		return b, nil
	}
	c.lock.RUnlock()

	// slow path: re-check, fill, insert, trim
	if err := c.lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer c.lock.Unlock()

	if n, ok := c.m[k]; ok {
		c.moveToFront(n)
		c.hit()
		return c.borrow(n), nil
	}
	c.misses.Inc()
	c.opt.Metrics.Miss()

	start := c.now()
	v, err := fill(ctx, k)
	c.opt.Metrics.ObserveFill(time.Duration(c.now()-start), err)
	if err != nil {
		return nil, err
	}

	size := v.Size()
	if size < 0 {
		size = 0
	}
	if size >= c.max {
		c.closeValue(k, v)
		return nil, fmt.Errorf("%w: %v is %d bytes, limit is %d", ErrOversizedEntry, k, size, c.max)
	}

	n := &node[K, V]{key: k, val: v, size: size}
	c.m[k] = n
	c.pushFront(n)
	c.size += size
	// this is going to be used right away, pin it before anything can evict it
	b := c.borrow(n)

	if c.size > c.max {
		c.evictLocked()
	}
	c.reportBudget()
	c.opt.Metrics.Size(len(c.m), c.size)
	return b, nil
}

// Use borrows the value for k (filling it on a miss), passes it to fn and
// releases the borrow when fn returns, whatever the outcome.
func Use[K comparable, V Sized, R any](ctx context.Context, c *Cache[K, V], k K, fill FillFunc[K, V], fn func(V) (R, error)) (R, error) {
	b, err := c.GetOrFill(ctx, k, fill)
	if err != nil {
		var zero R
		return zero, err
	}
	defer b.Release()
	return fn(b.Value())
}

// Len returns the number of resident entries.
func (c *Cache[K, V]) Len() int {
	_ = c.lock.RLock(context.Background())
	defer c.lock.RUnlock()
	return len(c.m)
}

// Bytes returns the resident total size.
func (c *Cache[K, V]) Bytes() int64 {
	_ = c.lock.RLock(context.Background())
	defer c.lock.RUnlock()
	return c.size
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
	Pinned    int // entries with at least one outstanding borrow
	Bytes     int64
	MaxBytes  int64
}

// Stats returns counters and residency under the shared lock.
func (c *Cache[K, V]) Stats() Stats {
	_ = c.lock.RLock(context.Background())
	defer c.lock.RUnlock()

	pinned := 0
	for _, n := range c.m {
		if n.borrows.Load() > 0 {
			pinned++
		}
	}
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evicts.Load(),
		Entries:   len(c.m),
		Pinned:    pinned,
		Bytes:     c.size,
		MaxBytes:  c.max,
	}
}

// -------------------- internals --------------------

func (c *Cache[K, V]) hit() {
	c.hits.Inc()
	c.opt.Metrics.Hit()
}

func (c *Cache[K, V]) borrow(n *node[K, V]) *Borrowed[K, V] {
	n.borrows.Add(1)
	return &Borrowed[K, V]{c: c, n: n}
}

// evictLocked walks from the LRU end towards the MRU end, removing every
// unborrowed entry until the resident total fits the budget.
//
// When the walk reaches the MRU end still over budget, every remaining entry is
// borrowed. The cache then stays over budget until a later fill finds something
// evictable; this is reported, never retried in a loop.
func (c *Cache[K, V]) evictLocked() {
	for n := c.tail; n != nil && c.size > c.max; {
		prev := n.prev
		if n.borrows.Load() == 0 {
			c.evictNode(n)
		}
		n = prev
	}
	if c.size > c.max {
		level.Warn(c.logger).Log(
			"msg", "cache over budget, all remaining entries are borrowed",
			"bytes", c.size,
			"limit", c.max,
			"entries", len(c.m),
		)
	}
}

// reportBudget publishes the current overage, and a single zero once the cache
// is back within budget.
func (c *Cache[K, V]) reportBudget() {
	switch {
	case c.size > c.max:
		c.overBudget = true
		c.opt.Metrics.OverBudget(c.size - c.max)
	case c.overBudget:
		c.overBudget = false
		c.opt.Metrics.OverBudget(0)
	}
}

// evictNode removes n from the map and list, updates counters, calls OnEvict
// and closes the value.
func (c *Cache[K, V]) evictNode(n *node[K, V]) {
	c.removeNode(n)
	delete(c.m, n.key)
	c.size -= n.size
	c.evicts.Inc()
	c.opt.Metrics.Evict()
	if cb := c.opt.OnEvict; cb != nil {
		cb(n.key, n.val)
	}
	c.closeValue(n.key, n.val)
}

func (c *Cache[K, V]) closeValue(k K, v V) {
	cl, ok := any(v).(io.Closer)
	if !ok {
		return
	}
	if err := cl.Close(); err != nil {
		level.Warn(c.logger).Log("msg", "failed to close cache value", "key", fmt.Sprint(k), "err", err)
	}
}

func (c *Cache[K, V]) now() int64 {
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

// pushFront inserts n at MRU in O(1).
func (c *Cache[K, V]) pushFront(n *node[K, V]) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

// moveToFront promotes n to MRU in O(1).
func (c *Cache[K, V]) moveToFront(n *node[K, V]) {
	if n == c.head {
		return
	}
	c.removeNode(n)
	c.pushFront(n)
}

// removeNode detaches n from the list in O(1).
func (c *Cache[K, V]) removeNode(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if c.head == n {
		c.head = n.next
	}
	if c.tail == n {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}
