package rtspsession

import (
	"net"
	"time"

	"github.com/pion/rtcp"

	"github.com/coldcutmedia/rtspreflect/internal/reflector"
	"github.com/coldcutmedia/rtspreflect/internal/udppool"
)

// runUDPIngest reads packets arriving on pair (bound to a broadcaster's
// track) and pushes them into stream until the session is torn down. Two
// goroutines are started, one per socket of the pair.
func runUDPIngest(done <-chan struct{}, pair *udppool.Pair, stream *reflector.Stream) {
	go readLoop(done, pair.RTP, reflector.ChannelRTP, stream)
	go readLoop(done, pair.RTCP, reflector.ChannelRTCP, stream)
}

func readLoop(done <-chan struct{}, c *net.UDPConn, channel reflector.Channel, stream *reflector.Stream) {
	buf := make([]byte, 65536)
	for {
		select {
		case <-done:
			return
		default:
		}

		_ = c.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := c.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		arrival := time.Now()
		stream.Push(channel, buf[:n], arrival)

		if channel == reflector.ChannelRTCP {
			processIngestRTCP(stream, buf[:n], arrival)
		}
	}
}

// clientRTCPLoop reads a pull client's RTCP (receiver reports) from the
// track's UDP RTCP socket and feeds the loss feedback into the output's
// thinning level.
func clientRTCPLoop(done <-chan struct{}, c *net.UDPConn, output *reflector.Output) {
	buf := make([]byte, 65536)
	for {
		select {
		case <-done:
			return
		default:
		}

		_ = c.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := c.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		applyReceiverReports(output, buf[:n])
	}
}

// applyReceiverReports parses an RTCP compound packet from a pull client
// and applies each receiver report's fraction-lost to the output.
func applyReceiverReports(output *reflector.Output, payload []byte) {
	packets, err := rtcp.Unmarshal(payload)
	if err != nil {
		return
	}
	for _, p := range packets {
		if rr, ok := p.(*rtcp.ReceiverReport); ok {
			for _, rep := range rr.Reports {
				output.ApplyLossFeedback(rep.FractionLost)
			}
		}
	}
}

// dispatchInterleavedIngest routes an interleaved frame received on a push
// session's RTSP connection to the matching track's stream, based on the
// channel-ID-to-track mapping negotiated at SETUP.
func dispatchInterleavedIngest(rs *Session, channelID int, payload []byte) {
	trackID, channel, ok := rs.trackForIngestChannel(channelID)
	if !ok {
		return
	}

	stream := rs.reflSession.Stream(trackID)
	if stream == nil {
		return
	}

	arrival := time.Now()
	stream.Push(channel, payload, arrival)

	if channel == reflector.ChannelRTCP {
		processIngestRTCP(stream, payload, arrival)
	}
}

func processIngestRTCP(stream *reflector.Stream, payload []byte, arrival time.Time) {
	packets, err := rtcp.Unmarshal(payload)
	if err != nil {
		return
	}
	for _, p := range packets {
		if sr, ok := p.(*rtcp.SenderReport); ok {
			stream.ProcessSenderReport(sr, arrival)
		}
	}
}
