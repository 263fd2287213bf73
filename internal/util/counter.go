// Package util contains internal helpers shared by the cache packages.
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import (
	"sync/atomic"
	"unsafe"
)

// CacheLineSize is a reasonable default for most modern CPUs.
const CacheLineSize = 64

// CacheLinePad separates groups of hot fields into distinct cache lines.
type CacheLinePad struct{ _ [CacheLineSize]byte }

// Counter is a monotonically increasing atomic counter padded to one cache line,
// so counters bumped from different goroutines do not false-share.
type Counter struct {
	n atomic.Uint64
	_ [CacheLineSize - 8]byte
}

// Inc adds one.
func (c *Counter) Inc() { c.n.Add(1) }

// Add adds d.
func (c *Counter) Add(d uint64) { c.n.Add(d) }

// Load returns the current value.
func (c *Counter) Load() uint64 { return c.n.Load() }

// must be exactly one cache line
var _ [CacheLineSize - int(unsafe.Sizeof(Counter{}))]byte
