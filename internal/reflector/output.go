package reflector

import (
	"sync"
	"sync/atomic"
)

// Loss-feedback thresholds, expressed in RTCP fraction-lost units
// (1/256ths of packets lost since the previous receiver report). The gap
// between the two forms the hysteresis band: a report landing between them
// leaves the quality level untouched.
const (
	lossRaiseThreshold = 26 // ~10% loss: thin harder
	lossLowerThreshold = 5  // ~2% loss: recover one level
)

// Output is a pull client's binding to a Stream: an independent read
// cursor plus thinning state, signalled whenever the stream gains a new
// packet.
type Output struct {
	stream *Stream

	wake chan struct{}

	mutex   sync.Mutex
	cursor  uint64
	quality int

	totalLost atomic.Uint64
	seq       uint64 // monotonic packet count seen by this output, for round-robin thinning
}

// NewOutput attaches a new Output to stream, starting at the stream's
// current write cursor: a freshly joined client receives packets from the
// moment it joins, not the stream's whole backlog. defaultQuality is the
// thinning level new outputs start at (default_stream_quality).
func NewOutput(stream *Stream, defaultQuality int) *Output {
	o := &Output{
		stream:  stream,
		wake:    make(chan struct{}, 1),
		cursor:  stream.writeCursorValue(),
		quality: defaultQuality,
	}
	stream.attach(o)
	return o
}

// Close detaches the output from its stream.
func (o *Output) Close() {
	o.stream.detach(o)
}

func (o *Output) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Wake returns the channel an output's consumer goroutine should select on
// to learn that new packets may be available.
func (o *Output) Wake() <-chan struct{} {
	return o.wake
}

// Cursor returns the output's current read cursor into its stream, used to
// peek at the next packet this output will deliver without consuming it.
func (o *Output) Cursor() uint64 {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.cursor
}

// Stream returns the reflector stream this output reads from.
func (o *Output) Stream() *Stream {
	return o.stream
}

// SetQuality changes the thinning level applied to future reads.
func (o *Output) SetQuality(q int) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.quality = clampQuality(q)
}

// Quality returns the current thinning level.
func (o *Output) Quality() int {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.quality
}

// RaiseQuality moves one level toward heavier thinning, used when the
// output's transport is flow-controlled.
func (o *Output) RaiseQuality() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.quality = clampQuality(o.quality + 1)
}

// ApplyLossFeedback adjusts the thinning level from a client receiver
// report's fraction-lost field: heavy loss raises the level, near-zero
// loss lowers it, and anything inside the hysteresis band leaves it alone.
func (o *Output) ApplyLossFeedback(fractionLost uint8) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	switch {
	case fractionLost >= lossRaiseThreshold:
		o.quality = clampQuality(o.quality + 1)
	case fractionLost <= lossLowerThreshold:
		o.quality = clampQuality(o.quality - 1)
	}
}

func clampQuality(q int) int {
	if q < QualityFull {
		return QualityFull
	}
	if q > QualityMax {
		return QualityMax
	}
	return q
}

// TotalLost returns the cumulative count of packets this output never saw
// because they were evicted from the ring before it caught up to them.
func (o *Output) TotalLost() uint64 {
	return o.totalLost.Load()
}

// Next returns the next packet this output should deliver, or ok=false if
// the output is fully caught up with the stream. Packets dropped by the
// thinning policy (shouldDrop) are skipped and counted as loss along with
// ring-eviction loss, but the cursor still advances past them so the
// output never re-examines a packet twice.
func (o *Output) Next() (pkt Packet, ok bool) {
	o.mutex.Lock()
	cursor := o.cursor
	quality := o.quality
	o.mutex.Unlock()

	for {
		p, next, lost, readOK := o.stream.readAt(cursor)
		if !readOK {
			return Packet{}, false
		}

		if lost > 0 {
			o.totalLost.Add(lost)
		}

		seq := atomic.AddUint64(&o.seq, 1)
		drop := shouldDrop(quality, seq, p)

		o.mutex.Lock()
		o.cursor = next
		o.mutex.Unlock()

		if drop {
			o.totalLost.Add(1)
			cursor = next
			continue
		}

		return p, true
	}
}
