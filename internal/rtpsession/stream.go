// Package rtpsession implements the per-client RTP delivery side: one
// goroutine-backed scheduler per output track that drains a
// reflector.Output, rewrites each packet's SSRC, sequence number and
// timestamp into the client's own numbering space, and paces delivery
// through a shared rate limiter before handing bytes to a
// transport-specific Sink.
package rtpsession

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/pion/rtp"

	"github.com/coldcutmedia/rtspreflect/internal/reflector"
	"github.com/coldcutmedia/rtspreflect/pkg/rtpsender"
	"github.com/coldcutmedia/rtspreflect/pkg/rtptime"
)

// Stream is one track's outbound delivery state within a Session: a
// freshly generated SSRC, a random 16-bit initial sequence-number offset
// and a random 32-bit initial timestamp offset, all applied to every
// forwarded packet.
type Stream struct {
	TrackID int

	output *reflector.Output
	ssrc   uint32
	seqOff uint16

	mutex     sync.Mutex
	tsBase    uint32
	tsBaseSet bool
	tsEncoder *rtptime.Encoder

	// writeFailures counts consecutive transport errors; only touched by
	// the session's per-track delivery goroutine.
	writeFailures int

	Sender *rtpsender.Sender
}

// NewStream binds a Stream to output with freshly generated identifiers.
func NewStream(trackID int, output *reflector.Output, clockRate int) *Stream {
	ssrc := randomUint32()
	return &Stream{
		TrackID:   trackID,
		output:    output,
		ssrc:      ssrc,
		seqOff:    randomUint16(),
		tsEncoder: rtptime.NewEncoder(clockRate, randomUint32()),
		Sender: &rtpsender.Sender{
			SSRC:      ssrc,
			ClockRate: clockRate,
		},
	}
}

// SSRC returns the SSRC this stream presents to its client.
func (s *Stream) SSRC() uint32 {
	return s.ssrc
}

// Output returns the reflector output this stream drains.
func (s *Stream) Output() *reflector.Output {
	return s.output
}

// Rewrite transforms a packet read from the reflector ring into the bytes
// to send to this client: the sequence number is offset directly and the
// SSRC replaced, while the timestamp is rebased from the first packet's original
// timestamp through the stream's Encoder.
func (s *Stream) Rewrite(pkt reflector.Packet) (payload []byte, seq uint16, ts uint32, err error) {
	var p rtp.Packet
	if err := p.Unmarshal(pkt.Payload); err != nil {
		return nil, 0, 0, err
	}

	s.mutex.Lock()
	if !s.tsBaseSet {
		s.tsBase = p.Timestamp
		s.tsBaseSet = true
	}
	base := s.tsBase
	s.mutex.Unlock()

	p.SequenceNumber += s.seqOff
	p.Timestamp = s.tsEncoder.Encode(p.Timestamp, base)
	p.SSRC = s.ssrc

	out, err := p.Marshal()
	if err != nil {
		return nil, 0, 0, err
	}
	return out, p.SequenceNumber, p.Timestamp, nil
}

// PredictRTPInfo projects a raw (ingest-side) sequence number and
// timestamp into this stream's outbound numbering space, for PLAY's
// RTP-Info header. It must only be called with the first
// packet this stream is about to deliver: like Rewrite, it treats rawTS as
// its own timestamp base, so calling it with any later packet would
// desynchronize from the base Rewrite itself later captures.
func (s *Stream) PredictRTPInfo(rawSeq uint16, rawTS uint32) (seq uint16, ts uint32) {
	return rawSeq + s.seqOff, s.tsEncoder.Encode(rawTS, rawTS)
}

func randomUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func randomUint16() uint16 {
	var b [2]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint16(b[:])
}
