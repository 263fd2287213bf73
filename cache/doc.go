// Package cache provides the concurrent containers behind the content server: a
// size-bounded, reference-counted LRU cache of closeable values and a
// lock-guarded map.
//
// Design
//
//   - Concurrency: both containers sit behind internal/rwlock, a context-aware
//     reader/writer lock. Hits take the shared lock; misses, inserts and
//     evictions take it exclusively. Fill functions run under the exclusive
//     lock, so concurrent callers for the same absent key cause a single fill.
//
//   - Storage: Cache keeps a map[K]*node for lookups and an intrusive
//     MRU↔LRU doubly linked list for ordering. Shared-lock hits promote the
//     node under a small mutex dedicated to list order.
//
//   - Borrowing: GetOrFill returns a Borrowed lease. Each node carries an
//     atomic borrow count; an entry with outstanding borrows is never evicted.
//     A value is closed (if it implements io.Closer) once it has been evicted,
//     which can only happen after its last borrow was released.
//
//   - Size: every value reports its weight through Sized. A value whose size
//     meets or exceeds Options.MaxBytes is rejected with ErrOversizedEntry and
//     closed. After each insert the cache trims unborrowed entries from the LRU
//     end. If only borrowed entries remain it stays over budget and reports it
//     through Metrics.OverBudget, then reports 0 once an insert ends within it.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size/ObserveFill/
//     OverBudget signals. NoopMetrics is the default; metrics/prom exports them
//     to Prometheus.
//
// Basic usage
//
//	c := cache.New[string, *archive.VirtualArchive](cache.Options[string, *archive.VirtualArchive]{
//	    MaxBytes: 100 << 20,
//	})
//	b, err := c.GetOrFill(ctx, "g:n:1.0", fetchAndExtract)
//	if err != nil {
//	    return err
//	}
//	defer b.Release()
//	_, data, err := b.Value().Lookup("index.html")
//
// Scoped usage
//
//	n, err := cache.Use(ctx, c, key, fetchAndExtract, func(a *archive.VirtualArchive) (int64, error) {
//	    return a.Size(), nil
//	})
package cache
