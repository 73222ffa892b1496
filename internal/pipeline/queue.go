package pipeline

import (
	"context"
	"sync/atomic"
)

// Queue is the bounded buffer between the capture source and the workers.
// One producer and any number of consumers may use it concurrently; every
// accepted frame is delivered to exactly one Take call.
type Queue struct {
	frames     chan Frame
	dropOnFull bool

	accepted atomic.Uint64
	dropped  atomic.Uint64
}

// NewQueue creates a queue holding at most capacity frames.
func NewQueue(capacity int, dropOnFull bool) *Queue {
	return &Queue{
		frames:     make(chan Frame, capacity),
		dropOnFull: dropOnFull,
	}
}

// Submit enqueues a frame. When the queue is full the frame is either
// counted as dropped or the caller blocks until a worker frees a slot,
// depending on the drop policy. ctx only releases a blocked caller when the
// process shuts down. Submit reports whether the frame was enqueued.
func (q *Queue) Submit(ctx context.Context, frame Frame) bool {
	if frame == nil {
		return false
	}

	select {
	case q.frames <- frame:
		q.accepted.Add(1)
		return true
	default:
	}

	if q.dropOnFull {
		q.dropped.Add(1)
		return false
	}

	select {
	case q.frames <- frame:
		q.accepted.Add(1)
		return true
	case <-ctx.Done():
		return false
	}
}

// Take blocks until a frame is available and returns it in FIFO order. It
// returns false once ctx is done.
func (q *Queue) Take(ctx context.Context) (Frame, bool) {
	select {
	case frame := <-q.frames:
		return frame, true
	case <-ctx.Done():
		return nil, false
	}
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	return len(q.frames)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.frames)
}

// Accepted returns the number of frames enqueued so far.
func (q *Queue) Accepted() uint64 {
	return q.accepted.Load()
}

// Dropped returns the number of frames discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// DropOnFull reports the queue's full-queue policy.
func (q *Queue) DropOnFull() bool {
	return q.dropOnFull
}
