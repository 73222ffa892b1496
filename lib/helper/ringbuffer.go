package helper

import (
	"sync"
)

// RingBuffer keeps the most recent values up to a fixed size. It is safe for
// concurrent use.
type RingBuffer[T any] struct {
	mu     sync.Mutex
	buffer []T
	size   int
	write  int
	count  int
}

// NewRingBuffer creates a new ring buffer with a fixed size. Sizes below one
// are raised to one.
func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size < 1 {
		size = 1
	}
	return &RingBuffer[T]{
		buffer: make([]T, size),
		size:   size,
	}
}

// Add inserts a new element into the buffer, overwriting the oldest if full.
func (rb *RingBuffer[T]) Add(value T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buffer[rb.write] = value
	rb.write = (rb.write + 1) % rb.size

	if rb.count < rb.size {
		rb.count++
	}
}

// Oldest returns the contents of the buffer in insertion order.
func (rb *RingBuffer[T]) Oldest() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	result := make([]T, 0, rb.count)
	for i := 0; i < rb.count; i++ {
		result = append(result, rb.buffer[rb.index(i)])
	}
	return result
}

// Newest returns the contents of the buffer, most recent first.
func (rb *RingBuffer[T]) Newest() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	result := make([]T, 0, rb.count)
	for i := rb.count - 1; i >= 0; i-- {
		result = append(result, rb.buffer[rb.index(i)])
	}
	return result
}

// index maps the i-th oldest element to its slot. Caller holds the lock.
func (rb *RingBuffer[T]) index(i int) int {
	return (rb.write + rb.size - rb.count + i) % rb.size
}

// Len returns the current number of elements in the buffer.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Cap returns the fixed size of the buffer.
func (rb *RingBuffer[T]) Cap() int {
	return rb.size
}
