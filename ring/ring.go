// Package ring implements a generic fixed-capacity ring buffer.
//
// Inserting past capacity silently evicts the oldest entry. All
// operations are O(1) except Items, which is O(n).
package ring

// Ring is a fixed-capacity FIFO ring buffer. Not safe for concurrent use;
// callers serialize access.
type Ring[T any] struct {
	buf   []T
	start int
	count int
}

// New creates a ring with the given capacity. Panics if capacity < 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		panic("ring: capacity must be >= 1")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry when full. It returns the
// evicted value and true if an eviction occurred.
func (r *Ring[T]) Push(v T) (T, bool) {
	var zero T
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = v
		r.count++
		return zero, false
	}
	evicted := r.buf[r.start]
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
	return evicted, true
}

// Len returns the number of stored entries.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Items returns the entries oldest-first.
func (r *Ring[T]) Items() []T {
	out := make([]T, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

// Newest returns the most recently pushed entry, or the zero value and
// false when empty.
func (r *Ring[T]) Newest() (T, bool) {
	if r.count == 0 {
		var zero T
		return zero, false
	}
	return r.buf[(r.start+r.count-1)%len(r.buf)], true
}

// Clear removes all entries. Capacity is retained.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start = 0
	r.count = 0
}
