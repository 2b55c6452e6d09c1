package rtspsession

import (
	"context"
	"net"

	"github.com/rs/zerolog"

	"github.com/coldcutmedia/rtspreflect/internal/asyncprocessor"
	"github.com/coldcutmedia/rtspreflect/internal/udppool"
	"github.com/coldcutmedia/rtspreflect/pkg/base"
	"github.com/coldcutmedia/rtspreflect/pkg/conn"
)

// udpSink delivers a pull client's rewritten packets over a dedicated UDP
// pair to the client's reported client_port.
type udpSink struct {
	pairs map[int]*udppool.Pair
	dests map[int][2]*net.UDPAddr // [0]=RTP dest, [1]=RTCP dest
}

func newUDPSink() *udpSink {
	return &udpSink{
		pairs: make(map[int]*udppool.Pair),
		dests: make(map[int][2]*net.UDPAddr),
	}
}

func (s *udpSink) bind(trackID int, pair *udppool.Pair, rtpDest, rtcpDest *net.UDPAddr) {
	s.pairs[trackID] = pair
	s.dests[trackID] = [2]*net.UDPAddr{rtpDest, rtcpDest}
}

func (s *udpSink) WriteRTP(trackID int, payload []byte) error {
	p, ok := s.pairs[trackID]
	if !ok {
		return nil
	}
	_, err := p.RTP.WriteToUDP(payload, s.dests[trackID][0])
	return err
}

func (s *udpSink) WriteRTCP(trackID int, payload []byte) error {
	p, ok := s.pairs[trackID]
	if !ok {
		return nil
	}
	_, err := p.RTCP.WriteToUDP(payload, s.dests[trackID][1])
	return err
}

// tcpSink delivers a pull client's rewritten packets as interleaved frames
// on the RTSP TCP connection itself. Writes are queued onto a single
// background goroutine (internal/asyncprocessor) so that a slow client
// socket stalls only its own delivery queue, never the RTP scheduler tick
// that produced the packet.
type tcpSink struct {
	c        *conn.Conn
	channels map[int][2]int // trackID -> [rtpChannel, rtcpChannel]
	proc     *asyncprocessor.Processor
}

func newTCPSink(c *conn.Conn, log zerolog.Logger) *tcpSink {
	proc := &asyncprocessor.Processor{
		OnError: func(_ context.Context, err error) {
			log.Debug().Err(err).Msg("tcp delivery write failed")
		},
	}
	proc.Initialize()
	return &tcpSink{c: c, channels: make(map[int][2]int), proc: proc}
}

func (s *tcpSink) bind(trackID, rtpChannel, rtcpChannel int) {
	s.channels[trackID] = [2]int{rtpChannel, rtcpChannel}
}

// Start launches the sink's background writer goroutine.
func (s *tcpSink) Start(ctx context.Context) {
	s.proc.Start(ctx)
}

// Close stops the background writer goroutine, waiting for it to drain.
func (s *tcpSink) Close() {
	s.proc.Close()
}

func (s *tcpSink) WriteRTP(trackID int, payload []byte) error {
	ch, ok := s.channels[trackID]
	if !ok {
		return nil
	}
	s.proc.Push(func() error {
		return s.c.WriteInterleavedFrame(&base.InterleavedFrame{Channel: ch[0], Payload: payload})
	})
	return nil
}

func (s *tcpSink) WriteRTCP(trackID int, payload []byte) error {
	ch, ok := s.channels[trackID]
	if !ok {
		return nil
	}
	s.proc.Push(func() error {
		return s.c.WriteInterleavedFrame(&base.InterleavedFrame{Channel: ch[1], Payload: payload})
	})
	return nil
}

// Flush pushes out any interleaved frames still held in the connection's
// coalescing buffer, satisfying rtpsession's flusher interface.
func (s *tcpSink) Flush() error {
	s.proc.Push(s.c.Flush)
	return nil
}
