// Package nodepool provides a bounded free list for recycling small,
// frequently allocated nodes on a single goroutine.
//
// Unlike sync.Pool, a Pool never drops cached nodes behind the caller's back,
// and it never caches more than its configured limit: once the free list is
// full, released nodes are left to the garbage collector.
package nodepool

import (
	"github.com/eapache/queue"
)

// Pool is a bounded free list of *T. It is not safe for concurrent use.
type Pool[T any] struct {
	free   *queue.Queue
	limit  int
	hits   uint64
	misses uint64
}

// New returns a pool that caches at most limit released nodes. A limit of
// zero or less disables caching.
func New[T any](limit int) *Pool[T] {
	if limit < 0 {
		limit = 0
	}
	return &Pool[T]{free: queue.New(), limit: limit}
}

// Get returns a zeroed node, reusing a cached one when available.
func (p *Pool[T]) Get() *T {
	if p.free.Length() != 0 {
		p.hits++
		return p.free.Remove().(*T)
	}
	p.misses++
	return new(T)
}

// Put zeroes v and caches it if there is room. The caller must not retain v.
func (p *Pool[T]) Put(v *T) {
	if v == nil {
		return
	}
	var zero T
	*v = zero
	if p.free.Length() < p.limit {
		p.free.Add(v)
	}
}

// Len returns the number of cached nodes.
func (p *Pool[T]) Len() int { return p.free.Length() }

// Limit returns the configured cache bound.
func (p *Pool[T]) Limit() int { return p.limit }

// Stats returns the number of Get calls served from the cache, and the
// number that had to allocate.
func (p *Pool[T]) Stats() (hits, misses uint64) { return p.hits, p.misses }

// Drain drops every cached node.
func (p *Pool[T]) Drain() {
	for p.free.Length() != 0 {
		p.free.Remove()
	}
}
