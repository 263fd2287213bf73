package cache

import (
	"context"

	"github.com/IvanBrykalov/glovebox/internal/rwlock"
)

// GuardedMap is a map protected by a context-aware reader/writer lock.
// Lookups share the lock; every mutation, including the compute family, holds
// it exclusively for the whole call, so a mapping function never runs twice
// concurrently for the same map.
//
// Mapping functions must not call back into the same GuardedMap.
type GuardedMap[K comparable, V any] struct {
	lock *rwlock.RWMutex
	m    map[K]V
}

// NewGuardedMap returns an empty GuardedMap.
func NewGuardedMap[K comparable, V any]() *GuardedMap[K, V] {
	return &GuardedMap[K, V]{lock: rwlock.New(), m: make(map[K]V)}
}

// Get returns the value for k and whether it is present.
func (g *GuardedMap[K, V]) Get(ctx context.Context, k K) (v V, ok bool, err error) {
	if err = g.lock.RLock(ctx); err != nil {
		return v, false, err
	}
	v, ok = g.m[k]
	g.lock.RUnlock()
	return v, ok, nil
}

// Put stores v under k, replacing any previous value.
func (g *GuardedMap[K, V]) Put(ctx context.Context, k K, v V) error {
	if err := g.lock.Lock(ctx); err != nil {
		return err
	}
	g.m[k] = v
	g.lock.Unlock()
	return nil
}

// Delete removes k. Deleting an absent key is a no-op.
func (g *GuardedMap[K, V]) Delete(ctx context.Context, k K) error {
	if err := g.lock.Lock(ctx); err != nil {
		return err
	}
	delete(g.m, k)
	g.lock.Unlock()
	return nil
}

// ComputeIfAbsent returns the value for k, calling fn to create and store it when
// k is absent. Presence is checked under the shared lock first and re-checked
// under the exclusive lock before fn runs. If fn fails nothing is stored and its
// error is returned.
func (g *GuardedMap[K, V]) ComputeIfAbsent(ctx context.Context, k K, fn func(ctx context.Context, k K) (V, error)) (V, error) {
	if v, ok, err := g.Get(ctx, k); err != nil || ok {
		return v, err
	}

	if err := g.lock.Lock(ctx); err != nil {
		var zero V
		return zero, err
	}
	defer g.lock.Unlock()

	if v, ok := g.m[k]; ok {
		return v, nil
	}
	v, err := fn(ctx, k)
	if err != nil {
		var zero V
		return zero, err
	}
	g.m[k] = v
	return v, nil
}

// Compute replaces the mapping for k with the result of fn, which receives the
// current value and whether it was present. When fn reports keep == false the
// key is removed. If fn fails the map is left unchanged.
func (g *GuardedMap[K, V]) Compute(ctx context.Context, k K, fn func(ctx context.Context, k K, old V, present bool) (v V, keep bool, err error)) (V, bool, error) {
	var zero V
	if err := g.lock.Lock(ctx); err != nil {
		return zero, false, err
	}
	defer g.lock.Unlock()

	old, present := g.m[k]
	v, keep, err := fn(ctx, k, old, present)
	if err != nil {
		return zero, false, err
	}
	if !keep {
		delete(g.m, k)
		return zero, false, nil
	}
	g.m[k] = v
	return v, true, nil
}

// Len returns the number of entries.
func (g *GuardedMap[K, V]) Len() int {
	_ = g.lock.RLock(context.Background())
	defer g.lock.RUnlock()
	return len(g.m)
}
