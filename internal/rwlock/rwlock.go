// Package rwlock implements a context-aware reader/writer lock built from two
// binary gates, following the classic first-reader/last-reader construction.
//
// Readers pass an admission gate that guards the reader count. The first reader
// to arrive acquires the global gate (waiting for any writer to leave); the last
// reader to leave releases it. Writers acquire the global gate directly.
//
// Known limitation: writers can starve. While at least one reader holds the lock,
// newly arriving readers are admitted without touching the global gate, so a
// continuous stream of overlapping readers keeps writers waiting indefinitely.
// Keep read-locked sections short.
//
// Unlike sync.RWMutex, the global gate may be released by a different goroutine
// than the one that acquired it (the last reader, not the first).
package rwlock

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// RWMutex is a reader/writer lock whose acquisitions can be abandoned through a
// context. The zero value is not usable; construct with New.
type RWMutex struct {
	admission *semaphore.Weighted // guards readers
	global    *semaphore.Weighted // held by a writer, or by the reader group

	readers int
}

// New returns an unlocked RWMutex.
func New() *RWMutex {
	return &RWMutex{
		admission: semaphore.NewWeighted(1),
		global:    semaphore.NewWeighted(1),
	}
}

// RLock acquires a shared lock. Only the first concurrent reader contends with
// writers; later readers are admitted as long as the reader group holds the lock.
// If ctx is done before the lock is acquired, RLock returns ctx.Err() and the
// lock is not held.
func (l *RWMutex) RLock(ctx context.Context) error {
	if err := l.admission.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.admission.Release(1)

	l.readers++
	if l.readers == 1 {
		if err := l.global.Acquire(ctx, 1); err != nil {
			l.readers--
			return err
		}
	}
	return nil
}

// RUnlock releases a shared lock. The last reader out hands the global gate back
// to writers.
func (l *RWMutex) RUnlock() {
	// Background context: the admission gate is only ever held briefly, and an
	// unlock must not be abandoned.
	_ = l.admission.Acquire(context.Background(), 1)
	defer l.admission.Release(1)

	l.readers--
	switch {
	case l.readers == 0:
		l.global.Release(1)
	case l.readers < 0:
		panic("rwlock: RUnlock of unlocked RWMutex")
	}
}

// Lock acquires the exclusive lock, excluding readers and other writers.
func (l *RWMutex) Lock(ctx context.Context) error {
	return l.global.Acquire(ctx, 1)
}

// Unlock releases the exclusive lock.
func (l *RWMutex) Unlock() { l.global.Release(1) }

// TryLock acquires the exclusive lock without waiting and reports success.
func (l *RWMutex) TryLock() bool { return l.global.TryAcquire(1) }
