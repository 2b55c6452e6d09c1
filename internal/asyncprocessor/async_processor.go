// Package asyncprocessor queues outbound work (an interleaved RTP/RTCP frame
// write, a flush) onto a single background goroutine, so that a slow client
// socket never blocks the RTP delivery goroutine that produced the work.
// RTSP responses are not queued here; they are written directly.
package asyncprocessor

import (
	"context"

	"github.com/coldcutmedia/rtspreflect/pkg/ringbuffer"
)

// Processor runs queued closures on a single background goroutine, in
// submission order.
type Processor struct {
	// BufferSize is the queue depth; must be a power of two.
	BufferSize int

	// OnError is called when a queued function returns an error; the
	// background goroutine then stops.
	OnError func(ctx context.Context, err error)

	queue *ringbuffer.RingBuffer
	ctx   context.Context
	done  chan struct{}
}

// Initialize allocates the Processor's queue.
func (p *Processor) Initialize() {
	if p.BufferSize == 0 {
		p.BufferSize = 256
	}
	p.queue = ringbuffer.New(uint64(p.BufferSize))
}

// Start begins processing queued functions until ctx is cancelled or Close
// is called.
func (p *Processor) Start(ctx context.Context) {
	p.ctx = ctx
	p.done = make(chan struct{})
	go p.run()
	go func() {
		select {
		case <-ctx.Done():
			p.queue.Close()
		case <-p.done:
		}
	}()
}

// Close stops the Processor and waits for the background goroutine to
// exit.
func (p *Processor) Close() {
	p.queue.Close()
	<-p.done
}

// Push enqueues a function to run on the background goroutine. It never
// blocks: if the queue is full, the oldest pending function is dropped.
func (p *Processor) Push(fn func() error) {
	p.queue.Push(fn)
}

func (p *Processor) run() {
	defer close(p.done)

	for {
		item, ok := p.queue.Pull()
		if !ok {
			return
		}

		fn := item.(func() error)
		if err := fn(); err != nil {
			if p.OnError != nil {
				p.OnError(p.ctx, err)
			}
			return
		}
	}
}
