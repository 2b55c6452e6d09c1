// Package rtpsender emits periodic RTCP sender reports for an outbound
// RTP stream, re-deriving NTP/RTP times from the ingest-side cached sender
// report.
package rtpsender

import (
	"sync"
	"time"

	"github.com/pion/rtcp"

	"github.com/coldcutmedia/rtspreflect/pkg/ntp"
)

// MaxPeriod is the maximum interval between sender reports.
const MaxPeriod = 7 * time.Second

// Sender emits RTCP sender reports for one outbound RTP stream.
type Sender struct {
	// SSRC of the outbound stream.
	SSRC uint32

	// ClockRate of the track.
	ClockRate int

	// Period between sender reports; capped at MaxPeriod.
	Period time.Duration

	// TimeNow overrides time.Now, for tests.
	TimeNow func() time.Time

	// WritePacketRTCP is called when a sender report is ready.
	WritePacketRTCP func(rtcp.Packet)

	mutex sync.Mutex

	terminate chan struct{}
	done      chan struct{}

	lastSeq        uint16
	lastRTP        uint32
	lastNTP        time.Time
	packetCount    uint32
	octetCount     uint32
	hasFirstPacket bool
}

// Start initializes and starts the Sender's periodic reporting loop.
func (s *Sender) Start() {
	if s.Period == 0 || s.Period > MaxPeriod {
		s.Period = MaxPeriod
	}
	if s.TimeNow == nil {
		s.TimeNow = time.Now
	}

	s.terminate = make(chan struct{})
	s.done = make(chan struct{})

	go s.run()
}

// Close stops the Sender.
func (s *Sender) Close() {
	close(s.terminate)
	<-s.done
}

func (s *Sender) run() {
	defer close(s.done)

	t := time.NewTicker(s.Period)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if rep := s.report(); rep != nil {
				s.WritePacketRTCP(rep)
			}
		case <-s.terminate:
			return
		}
	}
}

func (s *Sender) report() rtcp.Packet {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.hasFirstPacket {
		return nil
	}

	return &rtcp.SenderReport{
		SSRC:        s.SSRC,
		NTPTime:     ntp.Encode(s.lastNTP),
		RTPTime:     s.lastRTP,
		PacketCount: s.packetCount,
		OctetCount:  s.octetCount,
	}
}

// ProcessPacket records an outbound packet's position for the next sender
// report, where ntpTime is the wall-clock time corresponding to rtpTime
// (derived from the ingest rtpreceiver.Receiver.PacketNTP of the source
// packet this output packet was rewritten from).
func (s *Sender) ProcessPacket(seq uint16, rtpTime uint32, ntpTime time.Time, payloadSize int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.hasFirstPacket = true
	s.lastSeq = seq
	s.lastRTP = rtpTime
	s.lastNTP = ntpTime
	s.packetCount++
	s.octetCount += uint32(payloadSize)
}

// Stats are the statistics needed to build a RTP-Info header entry.
type Stats struct {
	LastSequenceNumber uint16
	LastRTP            uint32
}

// Stats returns a snapshot, or nil if no packet has been processed yet.
func (s *Sender) Stats() *Stats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.hasFirstPacket {
		return nil
	}

	return &Stats{LastSequenceNumber: s.lastSeq, LastRTP: s.lastRTP}
}
