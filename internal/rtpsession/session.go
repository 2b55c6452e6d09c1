package rtpsession

import (
	"context"
	"sync"

	"github.com/pion/rtcp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/coldcutmedia/rtspreflect/internal/reflector"
)

// maxConsecutiveWriteFailures is how many back-to-back transport failures
// a track tolerates before the session gives up on it: an RTCP BYE is
// emitted and the output is dropped.
const maxConsecutiveWriteFailures = 10

// Sink is the transport-specific delivery surface a Session writes
// rewritten packets to: UDP pair write, or interleaved-TCP frame write.
type Sink interface {
	WriteRTP(trackID int, payload []byte) error
	WriteRTCP(trackID int, payload []byte) error
}

// flusher is implemented by sinks that coalesce small writes (the
// interleaved-TCP sink) and need an explicit flush once a burst of packets
// has been drained from the reflector.
type flusher interface {
	Flush() error
}

// Session is the delivery scheduler for one pull client across all of its
// setup tracks. One goroutine per track drains its reflector.Output as
// packets arrive and its own RTCP sender-report ticker fires.
type Session struct {
	sink    Sink
	limiter *rate.Limiter
	log     zerolog.Logger

	mutex   sync.Mutex
	streams []*Stream

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Session delivering through sink, paced by limiter (derived
// from overbuffer_rate), logging via log.
func New(sink Sink, limiter *rate.Limiter, log zerolog.Logger) *Session {
	return &Session{sink: sink, limiter: limiter, log: log}
}

// AddStream attaches a track to the session. Must be called before Start.
func (rs *Session) AddStream(s *Stream) {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()
	rs.streams = append(rs.streams, s)
}

// Streams returns the attached streams in setup order.
func (rs *Session) Streams() []*Stream {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()
	out := make([]*Stream, len(rs.streams))
	copy(out, rs.streams)
	return out
}

// Start launches one delivery goroutine and one RTCP sender-report ticker
// per attached stream.
func (rs *Session) Start(ctx context.Context) {
	rs.ctx, rs.cancel = context.WithCancel(ctx)

	for _, s := range rs.streams {
		s := s
		s.Sender.WritePacketRTCP = func(p rtcp.Packet) {
			rs.writeRTCP(s, p)
		}
		s.Sender.Start()

		rs.wg.Add(1)
		go rs.run(s)
	}
}

// Close stops every track's goroutine and sender-report ticker and waits
// for them to exit. The reflector outputs stay attached: a PAUSE closes
// the delivery session but the client may PLAY again, so detaching is the
// owning connection's teardown decision, not this one's.
func (rs *Session) Close() {
	if rs.cancel != nil {
		rs.cancel()
	}
	for _, s := range rs.streams {
		s.Sender.Close()
	}
	rs.wg.Wait()
}

func (rs *Session) run(s *Stream) {
	defer rs.wg.Done()

	for {
		select {
		case <-rs.ctx.Done():
			return
		case <-s.output.Wake():
		}

		for {
			pkt, ok := s.output.Next()
			if !ok {
				break
			}

			if rs.limiter != nil {
				if err := rs.limiter.Wait(rs.ctx); err != nil {
					return
				}
			}

			switch pkt.Channel {
			case reflector.ChannelRTP:
				if !rs.deliverRTP(s, pkt) {
					return
				}
			case reflector.ChannelRTCP:
				// Ingest RTCP (the broadcaster's own reports) is not
				// forwarded to pull clients; only the session's own
				// sender reports are.
			}
		}

		if f, ok := rs.sink.(flusher); ok {
			if err := f.Flush(); err != nil {
				return
			}
		}
	}
}

// deliverRTP rewrites and transmits one packet, returning false once the
// track's transport has failed often enough that the output was dropped.
func (rs *Session) deliverRTP(s *Stream, pkt reflector.Packet) bool {
	out, seq, ts, err := s.Rewrite(pkt)
	if err != nil {
		rs.log.Debug().Err(err).Int("track", s.TrackID).Msg("dropping unparseable packet")
		return true
	}

	if err := rs.sink.WriteRTP(s.TrackID, out); err != nil {
		s.writeFailures++
		s.output.RaiseQuality()
		if s.writeFailures >= maxConsecutiveWriteFailures {
			rs.log.Debug().Err(err).Int("track", s.TrackID).Msg("transport failing, dropping output")
			rs.sendBye(s)
			s.output.Close()
			return false
		}
		return true
	}
	s.writeFailures = 0

	ntpTime := pkt.Arrival
	if t, ok := s.output.Stream().PacketNTP(pkt.Timestamp); ok {
		ntpTime = t
	}
	s.Sender.ProcessPacket(seq, ts, ntpTime, len(out))

	return true
}

func (rs *Session) sendBye(s *Stream) {
	bye := &rtcp.Goodbye{Sources: []uint32{s.ssrc}}
	buf, err := bye.Marshal()
	if err != nil {
		return
	}
	_ = rs.sink.WriteRTCP(s.TrackID, buf)
}

func (rs *Session) writeRTCP(s *Stream, p rtcp.Packet) {
	buf, err := p.Marshal()
	if err != nil {
		return
	}
	_ = rs.sink.WriteRTCP(s.TrackID, buf)
}
