// Package ringbuf provides a bounded FIFO history buffer. When full, Push
// evicts the oldest element. It is not safe for concurrent use; the
// pipeline owns every instance from a single goroutine.
package ringbuf

// Ring is a fixed-capacity ring that keeps the most recent values.
type Ring[T any] struct {
	buf  []T
	head int // index of the oldest element
	size int
}

// New creates a ring holding at most capacity values. Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest value when the ring is full.
// Returns true if an element was evicted.
func (r *Ring[T]) Push(v T) bool {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = v
		r.size++
		return false
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	return true
}

// Last returns the most recent value.
func (r *Ring[T]) Last() (T, bool) {
	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.buf[(r.head+r.size-1)%len(r.buf)], true
}

// At returns the i-th value, oldest first.
func (r *Ring[T]) At(i int) (T, bool) {
	if i < 0 || i >= r.size {
		var zero T
		return zero, false
	}
	return r.buf[(r.head+i)%len(r.buf)], true
}

// Slice copies the contents oldest first.
func (r *Ring[T]) Slice() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Len returns the current number of values.
func (r *Ring[T]) Len() int { return r.size }
