package rtspsession

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pion/rtcp"

	"github.com/coldcutmedia/rtspreflect/internal/reflector"
	"github.com/coldcutmedia/rtspreflect/internal/rtpsession"
	"github.com/coldcutmedia/rtspreflect/pkg/base"
	"github.com/coldcutmedia/rtspreflect/pkg/description"
	"github.com/coldcutmedia/rtspreflect/pkg/headers"
	"github.com/coldcutmedia/rtspreflect/pkg/liberrors"
)

const (
	// rtpInfoWaitLoopCount and rtpInfoWaitInterval bound PLAY's wait for
	// the first buffered packet on each track before giving up on that
	// track's RTP-Info entry.
	rtpInfoWaitLoopCount = 10
	rtpInfoWaitInterval  = 100 * time.Millisecond

	// estimatedTrackBytesPerSec is the flat per-track bandwidth
	// reservation charged against max_bandwidth_kbps at SETUP. Payloads
	// are opaque to the reflector, so there is no real per-track bitrate
	// to measure at admission time; a flat reservation (~2Mbps) is a
	// conservative stand-in for a single audio+video track.
	estimatedTrackBytesPerSec = 250000

	// ingestReceiverReportPeriod is how often a push track's ingest
	// Receiver reports back to the broadcaster.
	ingestReceiverReportPeriod = 10 * time.Second
)

// waitForFirstPacket polls stream for the packet at cursor, waiting up to
// rtpInfoWaitLoopCount*rtpInfoWaitInterval for a broadcaster to produce it.
func waitForFirstPacket(ctx context.Context, stream *reflector.Stream, cursor uint64) (seq uint16, ts uint32, ok bool) {
	for i := 0; i < rtpInfoWaitLoopCount; i++ {
		if seq, ts, ok = stream.FirstPacketSeqTS(cursor); ok {
			return
		}
		select {
		case <-ctx.Done():
			return 0, 0, false
		case <-time.After(rtpInfoWaitInterval):
		}
	}
	return 0, 0, false
}

// trackURL builds the per-track URL reported in RTP-Info, matching the
// "a=control:trackID=<n>" attribute this server always emits on DESCRIBE.
func trackURL(base *base.URL, trackID int) string {
	u := base.Clone()
	u.Path = strings.TrimSuffix(u.Path, "/") + fmt.Sprintf("/trackID=%d", trackID)
	return u.String()
}

func (rs *Session) handleOptions(req *base.Request) (*base.Response, error) {
	return &base.Response{
		StatusCode: base.StatusOK,
		Header: base.Header{
			"Public": base.HeaderValue{
				"OPTIONS, DESCRIBE, ANNOUNCE, SETUP, PLAY, RECORD, PAUSE, TEARDOWN, GET_PARAMETER, SET_PARAMETER",
			},
		},
	}, nil
}

func (rs *Session) handleDescribe(req *base.Request) (*base.Response, error) {
	key := req.URL.PresentationKey()

	rs.mutex.Lock()
	reg := rs.registry
	rs.mutex.Unlock()

	sess, err := reg.Describe(key)
	if err != nil {
		return nil, err
	}
	defer reg.Release(key)

	body, err := sess.Description.Marshal(rs.serverAddr)
	if err != nil {
		return nil, err
	}

	return &base.Response{
		StatusCode: base.StatusOK,
		Header: base.Header{
			"Content-Type": base.HeaderValue{"application/sdp"},
			"Content-Base": base.HeaderValue{req.URL.String()},
		},
		Body: body,
	}, nil
}

func (rs *Session) handleAnnounce(req *base.Request) (*base.Response, error) {
	// Broadcasting restricted to a group only works when a validator can
	// establish membership; with none configured, every ANNOUNCE would
	// have to be taken on faith, so refuse instead.
	if rs.cfg.BroadcasterGroup != "" && rs.authValid == nil {
		return nil, liberrors.ErrServerAuth{}
	}

	desc, err := description.Unmarshal(req.Body)
	if err != nil {
		return nil, liberrors.ErrServerSDPInvalid{Err: err}
	}

	key := req.URL.PresentationKey()

	rs.mutex.Lock()
	if rs.state != StateInit {
		rs.mutex.Unlock()
		return nil, liberrors.ErrServerInvalidState{State: rs.state}
	}
	rs.mutex.Unlock()

	sess := rs.registry.GetOrCreate(key, desc)
	if !sess.AcquireBroadcaster() {
		rs.registry.Release(key)
		return nil, liberrors.ErrServerDuplicateBroadcast{Key: key}
	}

	rs.mutex.Lock()
	rs.presentationKey = key
	rs.reflSession = sess
	rs.isPush = true
	rs.state = StateReady
	rs.mutex.Unlock()

	return &base.Response{StatusCode: base.StatusOK}, nil
}

func (rs *Session) handleSetup(req *base.Request) (*base.Response, error) {
	rs.mutex.Lock()
	state := rs.state
	sess := rs.reflSession
	mutexKey := rs.presentationKey
	isPush := rs.isPush
	rs.mutex.Unlock()

	if state != StateInit && state != StateReady {
		return nil, liberrors.ErrServerInvalidState{State: state}
	}

	// A pull client's first SETUP resolves the presentation; a push
	// client's SETUP always follows its ANNOUNCE. acquiredHere tracks
	// whether this call is the one that took the registry reference, so an
	// error path below releases it at most once: a later SETUP on an
	// already-bound session must never release the one reference the
	// whole connection holds (teardownInternal releases it exactly once).
	acquiredHere := false
	if sess == nil {
		key := req.URL.PresentationKey()
		var err error
		sess, err = rs.registry.Describe(key)
		if err != nil {
			return nil, err
		}
		mutexKey = key
		acquiredHere = true
	}

	var th headers.Transport
	v, ok := req.Header["Transport"]
	if !ok {
		if acquiredHere {
			rs.registry.Release(mutexKey)
		}
		return nil, liberrors.ErrServerTransportHeaderInvalid{Err: fmt.Errorf("missing Transport header")}
	}
	if err := th.Read(v); err != nil {
		if acquiredHere {
			rs.registry.Release(mutexKey)
		}
		return nil, liberrors.ErrServerTransportHeaderInvalid{Err: err}
	}

	trackID, err := trackIDFromControl(sess.Description, req.URL)
	if err != nil {
		if acquiredHere {
			rs.registry.Release(mutexKey)
		}
		return nil, liberrors.ErrServerTrackNotFound{TrackID: 0}
	}
	if sess.Stream(trackID) == nil {
		if acquiredHere {
			rs.registry.Release(mutexKey)
		}
		return nil, liberrors.ErrServerTrackNotFound{TrackID: trackID}
	}

	rs.mutex.Lock()
	if _, exists := rs.bindings[trackID]; exists {
		rs.mutex.Unlock()
		if isPush {
			return nil, liberrors.ErrServerDuplicateBroadcast{Key: mutexKey}
		}
		return nil, liberrors.ErrServerTrackAlreadySetup{TrackID: trackID}
	}
	rs.presentationKey = mutexKey
	rs.reflSession = sess
	rs.mutex.Unlock()

	// Pull-client tracks consume outbound bandwidth; a push client's own
	// RECORD stream does not.
	if !isPush && rs.admission != nil {
		if err := rs.admission.AdmitBandwidth(estimatedTrackBytesPerSec); err != nil {
			if acquiredHere {
				rs.registry.Release(mutexKey)
			}
			return nil, err
		}
	}

	binding := &trackBinding{trackID: trackID, transport: th}
	respTransport := th

	if th.Protocol == headers.TransportProtocolTCP {
		rtpCh, rtcpCh := 2*(trackID-1), 2*(trackID-1)+1
		if th.InterleavedIDs != nil {
			rtpCh, rtcpCh = th.InterleavedIDs[0], th.InterleavedIDs[1]
		}
		binding.rtpChannel = rtpCh
		binding.rtcpChannel = rtcpCh
		ids := [2]int{rtpCh, rtcpCh}
		respTransport.InterleavedIDs = &ids
	} else {
		pair, err := rs.udpPool.Acquire()
		if err != nil {
			if acquiredHere {
				rs.registry.Release(mutexKey)
			}
			return nil, err
		}
		if th.TTL != nil {
			if err := pair.SetTTL(int(*th.TTL)); err != nil {
				pair.Release()
				if acquiredHere {
					rs.registry.Release(mutexKey)
				}
				return nil, liberrors.ErrServerTransportHeaderInvalid{Err: err}
			}
		}
		binding.pair = pair
		serverPort := pair.RTP.LocalAddr().(*net.UDPAddr).Port
		ports := [2]int{serverPort, serverPort + 1}
		respTransport.ServerPorts = &ports
	}

	if !isPush {
		output := reflector.NewOutput(sess.Stream(trackID), rs.cfg.DefaultStreamQuality)
		binding.output = output
	}

	rs.mutex.Lock()
	rs.bindings[trackID] = binding
	rs.state = StateReady
	rs.mutex.Unlock()

	return &base.Response{
		StatusCode: base.StatusOK,
		Header: base.Header{
			"Transport":     respTransport.Write(),
			"Session":       headers.Session{Session: rs.ID}.Write(),
			"Cache-Control": base.HeaderValue{"no-cache"},
		},
	}, nil
}

func (rs *Session) handlePlay(req *base.Request) (*base.Response, error) {
	rs.mutex.Lock()
	if rs.state != StateReady || rs.isPush {
		st := rs.state
		rs.mutex.Unlock()
		return nil, liberrors.ErrServerInvalidState{State: st}
	}
	if len(rs.bindings) == 0 {
		rs.mutex.Unlock()
		return nil, liberrors.ErrServerNoTracksSetup{}
	}
	bindings := rs.bindings
	rs.mutex.Unlock()

	// Live presentations only play from the live edge; a range implying a
	// seek into the past has no backlog to serve.
	if v, ok := req.Header["Range"]; ok {
		var rng headers.Range
		if err := rng.Read(v); err == nil && !rng.IsLiveNow() {
			return nil, liberrors.ErrServerInvalidRangeForLive{}
		}
	}

	log := rs.log
	limiter := overbufferLimiter(rs.cfg)

	var sink rtpsession.Sink
	if rs.hasTCPBinding() {
		ts := newTCPSink(rs.conn, log)
		for tid, b := range bindings {
			ts.bind(tid, b.rtpChannel, b.rtcpChannel)
		}
		ts.Start(rs.ctx)

		rs.mutex.Lock()
		rs.sinkCloser = ts.Close
		rs.mutex.Unlock()

		sink = ts
	} else {
		us := newUDPSink()
		for tid, b := range bindings {
			dest := rs.remoteTransportDest(b)
			if dest != nil {
				rtpDest := &net.UDPAddr{IP: rs.remoteIP, Port: dest[0]}
				rtcpDest := &net.UDPAddr{IP: rs.remoteIP, Port: dest[1]}
				us.bind(tid, b.pair, rtpDest, rtcpDest)
			}
			// The client's receiver reports arrive on the pair's RTCP
			// socket and drive this output's thinning level.
			if b.pair != nil {
				go clientRTCPLoop(rs.ctx.Done(), b.pair.RTCP, b.output)
			}
		}
		sink = us
	}

	rtpSess := rtpsession.New(sink, limiter, log)

	rtpInfo := headers.RTPInfo{}
	for tid, b := range bindings {
		m := rs.reflSession.Description.FindTrack(tid)
		clockRate := 90000
		if m != nil {
			clockRate = m.ClockRate()
		}

		stream := rs.reflSession.Stream(tid)
		rtpStream := rtpsession.NewStream(tid, b.output, clockRate)
		rtpSess.AddStream(rtpStream)

		entry := &headers.RTPInfoEntry{URL: trackURL(req.URL, tid)}
		if rs.cfg.EmitRTPInfo {
			if rawSeq, rawTS, ok := waitForFirstPacket(rs.ctx, stream, b.output.Cursor()); ok {
				seq, ts := rtpStream.PredictRTPInfo(rawSeq, rawTS)
				entry.SequenceNumber = &seq
				entry.Timestamp = &ts
			}
		}
		rtpInfo = append(rtpInfo, entry)
	}

	rs.mutex.Lock()
	rs.rtpSess = rtpSess
	rs.state = StatePlaying
	rs.mutex.Unlock()

	rtpSess.Start(rs.ctx)

	res := &base.Response{
		StatusCode: base.StatusOK,
		Header: base.Header{
			"Session": headers.Session{Session: rs.ID}.Write(),
		},
	}
	if rs.cfg.EmitRTPInfo {
		res.Header["RTP-Info"] = rtpInfo.Write()
	}
	return res, nil
}

func (rs *Session) handleRecord(req *base.Request) (*base.Response, error) {
	rs.mutex.Lock()
	if rs.state != StateReady || !rs.isPush {
		st := rs.state
		rs.mutex.Unlock()
		return nil, liberrors.ErrServerInvalidState{State: st}
	}
	bindings := rs.bindings
	sess := rs.reflSession
	rs.mutex.Unlock()

	for tid, b := range bindings {
		stream := sess.Stream(tid)
		if b.pair != nil {
			runUDPIngest(rs.ctx.Done(), b.pair, stream)
		}
		rs.startIngestReceiver(b, stream)
	}

	rs.mutex.Lock()
	rs.state = StateRecording
	rs.mutex.Unlock()

	return &base.Response{
		StatusCode: base.StatusOK,
		Header: base.Header{
			"Session": headers.Session{Session: rs.ID}.Write(),
		},
	}, nil
}

// startIngestReceiver arms a push track's loss/jitter tracker to report
// back to the broadcaster: over the UDP pair's RTCP socket when the push
// uses dedicated ports, or as an interleaved frame on the track's RTCP
// channel when the push rides the RTSP connection.
func (rs *Session) startIngestReceiver(b *trackBinding, stream *reflector.Stream) {
	rcv := stream.Receiver
	rcv.LocalSSRC = randomSSRC()
	rcv.Period = ingestReceiverReportPeriod

	if b.pair != nil {
		if b.transport.ClientPorts == nil {
			return
		}
		dest := &net.UDPAddr{IP: rs.remoteIP, Port: b.transport.ClientPorts[1]}
		pair := b.pair
		rcv.WritePacketRTCP = func(p rtcp.Packet) {
			buf, err := p.Marshal()
			if err != nil {
				return
			}
			_, _ = pair.RTCP.WriteToUDP(buf, dest)
		}
	} else {
		ch := b.rtcpChannel
		rcv.WritePacketRTCP = func(p rtcp.Packet) {
			buf, err := p.Marshal()
			if err != nil {
				return
			}
			_ = rs.conn.WriteInterleavedFrame(&base.InterleavedFrame{Channel: ch, Payload: buf})
			_ = rs.conn.Flush()
		}
	}

	if err := rcv.Start(); err == nil {
		b.receiverStarted = true
	}
}

func randomSSRC() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func (rs *Session) handlePause(req *base.Request) (*base.Response, error) {
	rs.mutex.Lock()
	if rs.state != StatePlaying {
		st := rs.state
		rs.mutex.Unlock()
		return nil, liberrors.ErrServerInvalidState{State: st}
	}
	rtpSess := rs.rtpSess
	rs.rtpSess = nil
	sinkCloser := rs.sinkCloser
	rs.sinkCloser = nil
	rs.state = StateReady
	rs.mutex.Unlock()

	if rtpSess != nil {
		rtpSess.Close()
	}
	if sinkCloser != nil {
		sinkCloser()
	}

	return &base.Response{
		StatusCode: base.StatusOK,
		Header:     base.Header{"Session": headers.Session{Session: rs.ID}.Write()},
	}, nil
}

func (rs *Session) handleTeardown(req *base.Request) (*base.Response, error) {
	rs.teardownInternal()

	rs.mutex.Lock()
	rs.state = StateInit
	rs.mutex.Unlock()

	return &base.Response{StatusCode: base.StatusOK}, nil
}

// handleGetParameter and handleSetParameter are treated as liveness
// keep-alives: a bare, bodiless GET_PARAMETER or SET_PARAMETER refreshes
// the session timeout and otherwise does nothing (no server parameters
// are exposed for querying or setting).
func (rs *Session) handleGetParameter(req *base.Request) (*base.Response, error) {
	return &base.Response{
		StatusCode: base.StatusOK,
		Header:     base.Header{"Session": headers.Session{Session: rs.ID}.Write()},
	}, nil
}

func (rs *Session) handleSetParameter(req *base.Request) (*base.Response, error) {
	return &base.Response{
		StatusCode: base.StatusOK,
		Header:     base.Header{"Session": headers.Session{Session: rs.ID}.Write()},
	}, nil
}

func (rs *Session) hasTCPBinding() bool {
	for _, b := range rs.bindings {
		if b.transport.Protocol == headers.TransportProtocolTCP {
			return true
		}
	}
	return false
}

func (rs *Session) remoteTransportDest(b *trackBinding) *[2]int {
	if b.transport.ClientPorts == nil {
		return nil
	}
	return b.transport.ClientPorts
}
