package cache

import (
	"time"

	"github.com/go-kit/log"
)

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict()
	Size(entries int, bytes int64)
	// ObserveFill reports how long a fill function ran and whether it failed.
	ObserveFill(d time.Duration, err error)
	// OverBudget is signalled when an eviction scan ends with the resident total
	// still above the limit because every remaining entry is borrowed. A later
	// insert that leaves the cache within budget signals 0.
	OverBudget(excess int64)
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures a Cache. Zero values are safe except MaxBytes;
// defaults are applied in New():
//   - nil Metrics => NoopMetrics
//   - nil Logger  => log.NewNopLogger()
//   - nil Clock   => time.Now()
type Options[K comparable, V Sized] struct {
	// MaxBytes is the resident size budget. A single value must be strictly
	// smaller than MaxBytes to be admitted.
	MaxBytes int64

	// OnEvict is called under the write lock for every evicted entry, before the
	// value is closed. Keep it lightweight.
	OnEvict func(k K, v V)

	Metrics Metrics
	Logger  log.Logger

	// Clock allows overriding time source (tests). Nil => time.Now().
	Clock Clock
}
