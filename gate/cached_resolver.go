package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CachedResolver keeps resolved profiles for ttl. Concurrent misses for the
// same user share one call to the inner resolver. A nil profile is cached,
// an error never is.
type CachedResolver[U comparable] struct {
	inner ProfileResolver[U]
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	entries map[U]cacheEntry
	// gen is bumped by InvalidateAll so an in-flight load does not store a
	// profile resolved before the invalidation.
	gen uint64
}

type cacheEntry struct {
	profile   Profile
	expiresAt time.Time
}

// NewCachedResolver wraps inner.
func NewCachedResolver[U comparable](inner ProfileResolver[U], ttl time.Duration) *CachedResolver[U] {
	return &CachedResolver[U]{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[U]cacheEntry),
	}
}

func (r *CachedResolver[U]) Resolve(ctx context.Context, user U) (Profile, error) {
	r.mu.RLock()
	e, ok := r.entries[user]
	gen := r.gen
	r.mu.RUnlock()
	if ok && r.now().Before(e.expiresAt) {
		return e.profile, nil
	}

	v, err, _ := r.group.Do(fmt.Sprint(user), func() (any, error) {
		p, err := r.inner.Resolve(ctx, user)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if r.gen == gen {
			r.entries[user] = cacheEntry{profile: p, expiresAt: r.now().Add(r.ttl)}
		}
		r.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p, _ := v.(Profile)
	return p, nil
}

// Invalidate drops the given users, after a profile or department change.
func (r *CachedResolver[U]) Invalidate(users ...U) {
	r.mu.Lock()
	for _, u := range users {
		delete(r.entries, u)
	}
	r.mu.Unlock()
}

// InvalidateAll drops every entry, after a profile's permissions change.
func (r *CachedResolver[U]) InvalidateAll() {
	r.mu.Lock()
	r.entries = make(map[U]cacheEntry)
	r.gen++
	r.mu.Unlock()
}

// Prune removes expired entries and returns how many were dropped.
func (r *CachedResolver[U]) Prune() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for u, e := range r.entries {
		if !now.Before(e.expiresAt) {
			delete(r.entries, u)
			n++
		}
	}
	return n
}

// Len is the number of cached users, expired ones included until pruned.
func (r *CachedResolver[U]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
