package reflector

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/coldcutmedia/rtspreflect/pkg/rtpreceiver"
)

// Stream is the per-track ingestion and fan-out object. Unlike
// pkg/ringbuffer's single-reader queue, Stream's ring has no consumer of
// its own: every Output holds an independent read cursor into the same
// backing array, and ingestion never blocks on a slow output: it just
// overwrites the oldest slot, and a lagging output discovers the gap (and
// counts it as loss) the next time it reads.
type Stream struct {
	mutex sync.Mutex

	ring        []Packet
	writeCursor uint64 // index of the next packet to be written

	outputs map[*Output]struct{}

	// Ingest-side sender-report cache, transformed and re-emitted on each
	// output's own schedule.
	lastSR       *rtcp.SenderReport
	lastSRSystem time.Time

	// Receiver tracks loss/jitter on the ingest side, independent of any
	// output's thinning decisions, and can report back to the broadcaster
	// once its WritePacketRTCP is bound (see rtspsession's RECORD path).
	Receiver *rtpreceiver.Receiver
}

// NewStream allocates a Stream with a ring of the given depth
// (reflector_bucket_size_packets; default 1024). clockRate is the track's
// RTP clock rate, used for ingest jitter accounting and NTP derivation.
func NewStream(bucketSize, clockRate int) *Stream {
	if bucketSize <= 0 {
		bucketSize = 1024
	}
	return &Stream{
		ring:    make([]Packet, bucketSize),
		outputs: make(map[*Output]struct{}),
		Receiver: &rtpreceiver.Receiver{
			ClockRate: clockRate,
		},
	}
}

// Push ingests one packet. Under the stream mutex: if the ring is full the
// oldest packet is simply overwritten (eviction is therefore O(1) and
// requires no bookkeeping beyond advancing writeCursor), the packet is
// recorded, and every attached output is signalled.
func (s *Stream) Push(channel Channel, payload []byte, arrival time.Time) {
	cp := make([]byte, len(payload))
	copy(cp, payload)

	var seq uint16
	var ts uint32
	if channel == ChannelRTP {
		seq, ts, _ = parseRTPHeader(cp)

		var p rtp.Packet
		if err := p.Unmarshal(cp); err == nil {
			s.Receiver.ProcessPacket(&p, arrival)
		}
	}

	s.mutex.Lock()

	idx := int(s.writeCursor % uint64(len(s.ring)))
	s.ring[idx] = Packet{
		Channel:        channel,
		Arrival:        arrival,
		SequenceNumber: seq,
		Timestamp:      ts,
		Payload:        cp,
	}
	s.writeCursor++

	outputs := make([]*Output, 0, len(s.outputs))
	for o := range s.outputs {
		outputs = append(outputs, o)
	}

	s.mutex.Unlock()

	for _, o := range outputs {
		o.signal()
	}
}

// ProcessSenderReport caches an ingested RTCP sender report for
// re-emission by each output, and feeds it to the ingest Receiver so that
// subsequent packets can be mapped to absolute (NTP) time.
func (s *Stream) ProcessSenderReport(sr *rtcp.SenderReport, system time.Time) {
	s.Receiver.ProcessSenderReport(sr, system)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastSR = sr
	s.lastSRSystem = system
}

// LastSenderReport returns the most recently cached ingest sender report.
func (s *Stream) LastSenderReport() (*rtcp.SenderReport, time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastSR, s.lastSRSystem
}

// PacketNTP maps an ingested RTP timestamp to absolute time, derived from
// the broadcaster's most recent sender report.
func (s *Stream) PacketNTP(ts uint32) (time.Time, bool) {
	return s.Receiver.PacketNTP(ts)
}

// writeCursorValue returns the current write cursor.
func (s *Stream) writeCursorValue() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.writeCursor
}

// readAt returns the packet at cursor, the next cursor to use, and how
// many packets were skipped because they were evicted before the caller
// reached them.
func (s *Stream) readAt(cursor uint64) (pkt Packet, nextCursor uint64, lost uint64, ok bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if cursor >= s.writeCursor {
		return Packet{}, cursor, 0, false
	}

	oldest := uint64(0)
	if s.writeCursor > uint64(len(s.ring)) {
		oldest = s.writeCursor - uint64(len(s.ring))
	}

	if cursor < oldest {
		lost = oldest - cursor
		cursor = oldest
	}

	idx := int(cursor % uint64(len(s.ring)))
	return s.ring[idx], cursor + 1, lost, true
}

func (s *Stream) attach(o *Output) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.outputs[o] = struct{}{}
}

func (s *Stream) detach(o *Output) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.outputs, o)
}

// FirstPacketSeqTS returns the sequence number and timestamp of the packet
// buffered at cursor (the oldest still buffered if that one was evicted),
// or ok=false if none has arrived there yet; used by PLAY's bounded wait
// for the first RTP-Info entry.
func (s *Stream) FirstPacketSeqTS(cursor uint64) (seq uint16, ts uint32, ok bool) {
	pkt, _, _, ok := s.readAt(cursor)
	if !ok {
		return 0, 0, false
	}
	return pkt.SequenceNumber, pkt.Timestamp, true
}
