// Package ringbuffer implements a single-reader queue, with a blocking Pull,
// used as the write-side of the async RTP/RTCP writer (internal/asyncprocessor).
// This is distinct from the multi-reader, cursor-based packet ring that
// backs a ReflectorStream (internal/reflector): that ring has independent
// per-output read cursors; this one has exactly one consumer. Neither blocks
// a producer: once this queue is full, Push evicts the oldest queued item.
package ringbuffer

import "sync"

// RingBuffer is a circular FIFO queue with one writer and one reader.
type RingBuffer struct {
	buffer []interface{}
	mutex  sync.Mutex
	cond   *sync.Cond
	head   int
	tail   int
	count  int
	closed bool
}

// New allocates a RingBuffer. size must be a power of two.
func New(size uint64) *RingBuffer {
	rb := &RingBuffer{
		buffer: make([]interface{}, size),
	}
	rb.cond = sync.NewCond(&rb.mutex)
	return rb
}

// Push appends an item, evicting the oldest if the buffer is full.
// Returns false if the buffer has been closed.
func (r *RingBuffer) Push(item interface{}) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return false
	}

	if r.count == len(r.buffer) {
		// drop oldest
		r.head = (r.head + 1) % len(r.buffer)
		r.count--
	}

	r.buffer[r.tail] = item
	r.tail = (r.tail + 1) % len(r.buffer)
	r.count++

	r.cond.Signal()
	return true
}

// Pull blocks until an item is available or the buffer is closed.
func (r *RingBuffer) Pull() (interface{}, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for r.count == 0 && !r.closed {
		r.cond.Wait()
	}

	if r.count == 0 && r.closed {
		return nil, false
	}

	item := r.buffer[r.head]
	r.buffer[r.head] = nil
	r.head = (r.head + 1) % len(r.buffer)
	r.count--

	return item, true
}

// Close unblocks any pending Pull and causes future Push calls to fail.
func (r *RingBuffer) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.closed = true
	r.cond.Broadcast()
}

// Reset clears the buffer and reopens it for use.
func (r *RingBuffer) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.head, r.tail, r.count, r.closed = 0, 0, 0, false
	for i := range r.buffer {
		r.buffer[i] = nil
	}
}
