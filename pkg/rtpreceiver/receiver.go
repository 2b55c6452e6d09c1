// Package rtpreceiver tracks loss and jitter for an ingested RTP stream
// and emits periodic RTCP receiver reports back to its sender.
package rtpreceiver

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/coldcutmedia/rtspreflect/pkg/ntp"
	"github.com/coldcutmedia/rtspreflect/pkg/rtptime"
)

// Receiver tracks an incoming RTP stream: sequence continuity, jitter, and
// the most recent RTCP sender report, and periodically emits RTCP receiver
// reports.
type Receiver struct {
	// ClockRate of the track.
	ClockRate int

	// LocalSSRC to report under.
	LocalSSRC uint32

	// Period between receiver reports.
	Period time.Duration

	// TimeNow overrides time.Now, for tests.
	TimeNow func() time.Time

	// WritePacketRTCP is called when a receiver report is ready.
	WritePacketRTCP func(rtcp.Packet)

	mutex sync.Mutex

	firstPacketReceived  bool
	timeInitialized      bool
	lastSeqNum           uint16
	seqNumCycles         uint16
	remoteSSRC           uint32
	lastSystem           time.Time
	tsDecoder            *rtptime.Decoder
	lastTSOverall        int64
	totalReceived        uint64
	totalLost            uint64
	totalLostSinceReport uint64
	totalSinceReport     uint64
	jitter               float64

	firstSenderReportReceived  bool
	lastSenderReportTimeNTP    uint64
	lastSenderReportTimeRTP    uint32
	lastSenderReportTimeSystem time.Time

	terminate chan struct{}
	done      chan struct{}
}

// Start initializes and starts the Receiver's periodic reporting loop.
func (rr *Receiver) Start() error {
	if rr.Period == 0 {
		return fmt.Errorf("invalid Period")
	}
	if rr.TimeNow == nil {
		rr.TimeNow = time.Now
	}

	rr.terminate = make(chan struct{})
	rr.done = make(chan struct{})

	go rr.run()

	return nil
}

// Close stops the Receiver.
func (rr *Receiver) Close() {
	close(rr.terminate)
	<-rr.done
}

func (rr *Receiver) run() {
	defer close(rr.done)

	t := time.NewTicker(rr.Period)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if report := rr.report(); report != nil {
				rr.WritePacketRTCP(report)
			}
		case <-rr.terminate:
			return
		}
	}
}

func (rr *Receiver) report() rtcp.Packet {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	if !rr.firstPacketReceived || rr.ClockRate == 0 {
		return nil
	}

	system := rr.TimeNow()

	var fractionLost uint8
	if rr.totalSinceReport != 0 {
		fractionLost = uint8((min(rr.totalLostSinceReport, 0xFFFFFF) * 256) / rr.totalSinceReport)
	}

	rep := &rtcp.ReceiverReport{
		SSRC: rr.LocalSSRC,
		Reports: []rtcp.ReceptionReport{
			{
				SSRC:               rr.remoteSSRC,
				LastSequenceNumber: uint32(rr.seqNumCycles)<<16 | uint32(rr.lastSeqNum),
				FractionLost:       fractionLost,
				TotalLost:          uint32(min(rr.totalLost, 0xFFFFFF)),
				Jitter:             uint32(rr.jitter),
			},
		},
	}

	if rr.firstSenderReportReceived {
		rep.Reports[0].LastSenderReport = uint32(rr.lastSenderReportTimeNTP >> 16)
		rep.Reports[0].Delay = uint32(system.Sub(rr.lastSenderReportTimeSystem).Seconds() * 65536)
	}

	rr.totalLostSinceReport = 0
	rr.totalSinceReport = 0

	return rep
}

// ProcessPacket updates loss/jitter state for an arriving RTP packet.
// The reflector's ring buffer intentionally preserves arrival order, so
// this Receiver only tracks statistics; it never reorders or buffers
// packets itself.
func (rr *Receiver) ProcessPacket(pkt *rtp.Packet, system time.Time) {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	if !rr.firstPacketReceived {
		rr.firstPacketReceived = true
		rr.totalReceived = 1
		rr.totalSinceReport = 1
		rr.lastSeqNum = pkt.SequenceNumber
		rr.remoteSSRC = pkt.SSRC
		rr.timeInitialized = true
		rr.tsDecoder = rtptime.NewDecoder(rr.ClockRate)
		rr.lastTSOverall = rr.tsDecoder.Decode(pkt.Timestamp)
		rr.lastSystem = system
		return
	}

	diff := int32(pkt.SequenceNumber) - int32(rr.lastSeqNum)
	if diff < -0x0FFF {
		rr.seqNumCycles++
	}

	lost := uint64(0)
	if diff > 1 {
		lost = uint64(diff - 1)
	}

	rr.totalLost += lost
	rr.totalLostSinceReport += lost
	rr.totalReceived++
	rr.totalSinceReport++
	rr.lastSeqNum = pkt.SequenceNumber

	overall := rr.tsDecoder.Decode(pkt.Timestamp)
	if rr.timeInitialized && rr.ClockRate != 0 {
		d := system.Sub(rr.lastSystem).Seconds()*float64(rr.ClockRate) -
			float64(overall-rr.lastTSOverall)
		if d < 0 {
			d = -d
		}
		rr.jitter += (d - rr.jitter) / 16
	}

	rr.lastTSOverall = overall
	rr.lastSystem = system
}

// ProcessSenderReport caches an incoming RTCP sender report, used to
// compute the NTP time of subsequent RTP packets for each output's
// re-emitted SR.
func (rr *Receiver) ProcessSenderReport(sr *rtcp.SenderReport, system time.Time) {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	rr.firstSenderReportReceived = true
	rr.lastSenderReportTimeNTP = sr.NTPTime
	rr.lastSenderReportTimeRTP = sr.RTPTime
	rr.lastSenderReportTimeSystem = system
}

// PacketNTP returns the NTP (absolute) time of a RTP timestamp, derived
// from the most recently cached sender report.
func (rr *Receiver) PacketNTP(ts uint32) (time.Time, bool) {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	if !rr.firstSenderReportReceived || rr.ClockRate == 0 {
		return time.Time{}, false
	}

	diff := int32(ts - rr.lastSenderReportTimeRTP)
	d := (time.Duration(diff) * time.Second) / time.Duration(rr.ClockRate)

	return ntp.Decode(rr.lastSenderReportTimeNTP).Add(d), true
}

// Stats are the statistics accumulated so far.
type Stats struct {
	LastSequenceNumber uint16
	Jitter             float64
	TotalReceived      uint64
	TotalLost          uint64
}

// Stats returns a snapshot of the Receiver's statistics.
func (rr *Receiver) Stats() *Stats {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	if !rr.firstPacketReceived {
		return nil
	}

	return &Stats{
		LastSequenceNumber: rr.lastSeqNum,
		Jitter:             rr.jitter,
		TotalReceived:      rr.totalReceived,
		TotalLost:          rr.totalLost,
	}
}
