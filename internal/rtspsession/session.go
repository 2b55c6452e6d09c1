// Package rtspsession implements the per-TCP-connection RTSP state machine:
// one goroutine per client connection, dispatching OPTIONS, DESCRIBE,
// ANNOUNCE, SETUP, PLAY, RECORD, PAUSE, TEARDOWN, GET_PARAMETER and
// SET_PARAMETER against a shared presentation registry.
package rtspsession

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/coldcutmedia/rtspreflect/internal/admission"
	"github.com/coldcutmedia/rtspreflect/internal/reflector"
	"github.com/coldcutmedia/rtspreflect/internal/registry"
	"github.com/coldcutmedia/rtspreflect/internal/rtpsession"
	"github.com/coldcutmedia/rtspreflect/internal/serverconfig"
	"github.com/coldcutmedia/rtspreflect/internal/udppool"
	"github.com/coldcutmedia/rtspreflect/pkg/auth"
	"github.com/coldcutmedia/rtspreflect/pkg/base"
	"github.com/coldcutmedia/rtspreflect/pkg/bytecounter"
	"github.com/coldcutmedia/rtspreflect/pkg/conn"
	"github.com/coldcutmedia/rtspreflect/pkg/description"
	"github.com/coldcutmedia/rtspreflect/pkg/headers"
	"github.com/coldcutmedia/rtspreflect/pkg/liberrors"
)

// maxAuthFailures is how many rejected Authorization attempts a connection
// gets before further requests are answered 403 instead of a fresh 401
// challenge.
const maxAuthFailures = 3

// State is the session's position in the RTSP method sequence.
type State int

// Session states.
const (
	StateInit State = iota
	StateReady
	StatePlaying
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// deadlineSetter is satisfied by net.Conn; a plain io.ReadWriter without
// SetReadDeadline simply skips idle-timeout enforcement.
type deadlineSetter interface {
	SetReadDeadline(t time.Time) error
}

type trackBinding struct {
	trackID     int
	transport   headers.Transport
	pair        *udppool.Pair
	rtpChannel  int
	rtcpChannel int
	output      *reflector.Output

	// receiverStarted marks a push track whose ingest Receiver was
	// started on RECORD and must be closed on teardown.
	receiverStarted bool
}

// Session is one client connection's state machine.
type Session struct {
	// ID is the opaque 64-bit decimal session identifier minted for the
	// Session response header.
	ID string

	connID     string
	conn       *conn.Conn
	byteCount  *bytecounter.ByteCounter
	deadline   deadlineSetter
	remoteIP   net.IP
	cfg        serverconfig.Config
	registry   *registry.Registry
	udpPool    *udppool.Pool
	admission  *admission.Controller
	log        zerolog.Logger
	authValid  *auth.Validator
	serverAddr string

	mutex           sync.Mutex
	state           State
	presentationKey string
	isPush          bool
	reflSession     *reflector.Session
	bindings        map[int]*trackBinding
	authFailures    int

	rtpSess    *rtpsession.Session
	sinkCloser func()

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Session bound to rw, a client connection identified by
// remoteIP. admissionCtl may be nil, in which case bandwidth admission
// checks at SETUP are skipped.
func New(rw io.ReadWriter, remoteIP net.IP, cfg serverconfig.Config, reg *registry.Registry,
	pool *udppool.Pool, admissionCtl *admission.Controller, log zerolog.Logger, authValid *auth.Validator) *Session {
	bc := bytecounter.New(rw)
	ds, _ := rw.(deadlineSetter)
	return &Session{
		ID:         newSessionID(),
		connID:     uuid.NewString(),
		conn:       conn.New(bc),
		byteCount:  bc,
		deadline:   ds,
		remoteIP:   remoteIP,
		admission:  admissionCtl,
		cfg:        cfg,
		registry:   reg,
		udpPool:    pool,
		log:        log,
		authValid:  authValid,
		serverAddr: cfg.ServerAddress,
		state:      StateInit,
		bindings:   make(map[int]*trackBinding),
	}
}

// newSessionID mints an opaque 64-bit decimal session identifier.
func newSessionID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return strconv.FormatUint(binary.BigEndian.Uint64(b[:])&(1<<63-1), 10)
}

// Run drives the connection until it closes or ctx is cancelled.
func (rs *Session) Run(ctx context.Context) {
	rs.ctx, rs.cancel = context.WithCancel(ctx)
	defer rs.teardownInternal()
	defer func() {
		rs.log.Debug().
			Uint64("bytes_received", rs.byteCount.BytesReceived()).
			Uint64("bytes_sent", rs.byteCount.BytesSent()).
			Str("conn", rs.connID).
			Msg("connection closed")
	}()

	idleTimeout := rs.cfg.RTSPTimeout
	if idleTimeout <= 0 {
		idleTimeout = 180 * time.Second
	}

	for {
		// Any successful read resets the idle timer. Writes happen
		// synchronously inside handleRequest below, on the same goroutine,
		// so re-arming once per loop iteration covers both directions.
		if rs.deadline != nil {
			_ = rs.deadline.SetReadDeadline(time.Now().Add(idleTimeout))
		}

		msg, err := rs.conn.ReadInterleavedFrameOrRequest()
		if err != nil {
			return
		}

		switch m := msg.(type) {
		case *base.Request:
			if !rs.handleRequest(m) {
				return
			}
		case *base.InterleavedFrame:
			if rs.isPush {
				dispatchInterleavedIngest(rs, m.Channel, m.Payload)
			} else {
				rs.handleClientRTCPFrame(m.Channel, m.Payload)
			}
		}

		select {
		case <-rs.ctx.Done():
			return
		default:
		}
	}
}

func (rs *Session) trackForIngestChannel(channelID int) (trackID int, channel reflector.Channel, ok bool) {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	for _, b := range rs.bindings {
		if b.rtpChannel == channelID {
			return b.trackID, reflector.ChannelRTP, true
		}
		if b.rtcpChannel == channelID {
			return b.trackID, reflector.ChannelRTCP, true
		}
	}
	return 0, 0, false
}

// handleClientRTCPFrame processes an interleaved frame received from a
// pull client: the only meaningful traffic is RTCP receiver reports on a
// track's RTCP channel, which feed the matching output's thinning level.
func (rs *Session) handleClientRTCPFrame(channelID int, payload []byte) {
	rs.mutex.Lock()
	var output *reflector.Output
	for _, b := range rs.bindings {
		if b.rtcpChannel == channelID {
			output = b.output
			break
		}
	}
	rs.mutex.Unlock()

	if output == nil {
		return
	}
	applyReceiverReports(output, payload)
}

// handleRequest dispatches one request and writes its response, returning
// false if the connection should be closed afterward.
func (rs *Session) handleRequest(req *base.Request) bool {
	cseq, hasCSeq := req.Header["CSeq"]
	if !hasCSeq {
		rs.writeError(req, base.StatusBadRequest, liberrors.ErrServerCSeqMissing{})
		return true
	}

	if rs.authValid != nil && req.Method != base.Options {
		if !rs.authenticate(req, cseq) {
			return true
		}
	}

	// A request carrying a Session header must name this connection's
	// session; anything else is addressed to a session we don't own.
	if v, ok := req.Header["Session"]; ok {
		var sh headers.Session
		if err := sh.Read(v); err != nil || sh.Session != rs.ID {
			rs.writeError(req, base.StatusSessionNotFound, liberrors.ErrServerSessionNotFound{})
			return true
		}
	}

	var err error
	var res *base.Response

	switch req.Method {
	case base.Options:
		res, err = rs.handleOptions(req)
	case base.Describe:
		res, err = rs.handleDescribe(req)
	case base.Announce:
		res, err = rs.handleAnnounce(req)
	case base.Setup:
		res, err = rs.handleSetup(req)
	case base.Play:
		res, err = rs.handlePlay(req)
	case base.Record:
		res, err = rs.handleRecord(req)
	case base.Pause:
		res, err = rs.handlePause(req)
	case base.Teardown:
		res, err = rs.handleTeardown(req)
	case base.GetParameter:
		res, err = rs.handleGetParameter(req)
	case base.SetParameter:
		res, err = rs.handleSetParameter(req)
	default:
		rs.writeError(req, base.StatusNotImplemented, nil)
		return true
	}

	if err != nil {
		rs.writeError(req, statusForError(err), err)
		return req.Method != base.Teardown
	}

	if res.Header == nil {
		res.Header = base.Header{}
	}
	res.Header["CSeq"] = cseq
	res.Header["Server"] = base.HeaderValue{"rtspreflectd"}

	closeRequested := connectionCloseRequested(req)
	if req.Method == base.Teardown || closeRequested {
		res.Header["Connection"] = base.HeaderValue{"close"}
	}

	if err := rs.conn.WriteResponse(res); err != nil {
		return false
	}

	return req.Method != base.Teardown && !closeRequested
}

func connectionCloseRequested(req *base.Request) bool {
	for _, v := range req.Header["Connection"] {
		if strings.EqualFold(strings.TrimSpace(v), "close") {
			return true
		}
	}
	return false
}

// authenticate evaluates the request's Authorization header, writing the
// 401 challenge (or, after repeated failures, a 403) itself. It returns
// true if the request may proceed.
func (rs *Session) authenticate(req *base.Request, cseq base.HeaderValue) bool {
	var authz *headers.Authorization
	if v, ok := req.Header["Authorization"]; ok {
		authz = &headers.Authorization{}
		if err := authz.Read(v); err != nil {
			authz = nil
		}
	}

	if err := rs.authValid.ValidateRequest(authz); err != nil {
		rs.mutex.Lock()
		rs.authFailures++
		failures := rs.authFailures
		rs.mutex.Unlock()

		if failures > maxAuthFailures {
			rs.writeError(req, base.StatusForbidden, err)
			return false
		}

		res := &base.Response{
			StatusCode: base.StatusUnauthorized,
			Header:     base.Header{"CSeq": cseq},
		}
		challenge := rs.authValid.Challenge()
		res.Header["WWW-Authenticate"] = challenge.Write()
		_ = rs.conn.WriteResponse(res)
		return false
	}

	rs.mutex.Lock()
	rs.authFailures = 0
	rs.mutex.Unlock()
	return true
}

func (rs *Session) writeError(req *base.Request, code base.StatusCode, cause error) {
	res := &base.Response{
		StatusCode:    code,
		StatusMessage: base.StatusMessages[code],
		Header:        base.Header{},
	}
	if req != nil {
		if cseq, ok := req.Header["CSeq"]; ok {
			res.Header["CSeq"] = cseq
		}
	}
	if cause != nil {
		rs.log.Debug().Err(cause).Str("conn", rs.connID).Msg("request failed")
	}
	_ = rs.conn.WriteResponse(res)
}

// statusForError maps a typed server error to its RTSP status code.
func statusForError(err error) base.StatusCode {
	switch err.(type) {
	case liberrors.ErrServerPresentationNotFound:
		return base.StatusNotFound
	case liberrors.ErrServerTrackNotFound:
		return base.StatusBadRequest
	case liberrors.ErrServerDuplicateBroadcast:
		return base.StatusPreconditionFailed
	case liberrors.ErrServerTrackAlreadySetup:
		return base.StatusAggregateOperationNotAllowed
	case liberrors.ErrServerTransportHeaderInvalid:
		return base.StatusUnsupportedTransport
	case liberrors.ErrServerSDPInvalid:
		return base.StatusUnsupportedMediaType
	case liberrors.ErrServerNoTracksSetup:
		return base.StatusMethodNotValidInThisState
	case liberrors.ErrServerInvalidRangeForLive:
		return base.StatusInvalidRange
	case liberrors.ErrServerPortsExhausted:
		return base.StatusInternalServerError
	case liberrors.ErrServerMaxConnectionsReached:
		return base.StatusNotEnoughBandwidth
	case liberrors.ErrServerBandwidthExceeded:
		return base.StatusNotEnoughBandwidth
	case liberrors.ErrServerSessionNotFound:
		return base.StatusSessionNotFound
	case liberrors.ErrServerAuth:
		return base.StatusUnauthorized
	case liberrors.ErrServerInvalidState:
		return base.StatusMethodNotValidInThisState
	case liberrors.ErrServerCSeqMissing:
		return base.StatusBadRequest
	default:
		return base.StatusInternalServerError
	}
}

func trackIDFromControl(desc *description.Session, url *base.URL) (int, error) {
	if url == nil {
		return 0, fmt.Errorf("missing URL")
	}
	path, _ := url.RTSPPathAndQuery()

	segment := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		segment = path[idx+1:]
	}

	for _, m := range desc.Medias {
		if m.Control != "" && (path == m.Control || segment == m.Control) {
			return m.TrackID, nil
		}
	}

	var n int
	if _, err := fmt.Sscanf(segment, "trackID=%d", &n); err == nil {
		return n, nil
	}
	return 0, fmt.Errorf("could not resolve track from URL %v", url)
}

func (rs *Session) teardownInternal() {
	rs.mutex.Lock()
	key := rs.presentationKey
	hadSession := rs.reflSession != nil
	wasPush := rs.isPush
	sess := rs.reflSession
	// Clear everything released below so a second call (explicit TEARDOWN
	// followed by the connection's own deferred teardown) is a no-op
	// rather than a double release.
	rs.reflSession = nil
	rs.presentationKey = ""
	rs.isPush = false
	bindings := rs.bindings
	rs.bindings = make(map[int]*trackBinding)
	rtpSess := rs.rtpSess
	rs.rtpSess = nil
	sinkCloser := rs.sinkCloser
	rs.sinkCloser = nil
	rs.mutex.Unlock()

	if rs.cancel != nil {
		rs.cancel()
	}

	if rtpSess != nil {
		rtpSess.Close()
	}

	if sinkCloser != nil {
		sinkCloser()
	}

	for _, b := range bindings {
		if b.receiverStarted {
			if stream := sess.Stream(b.trackID); stream != nil {
				stream.Receiver.Close()
			}
		}
		if b.output != nil {
			b.output.Close()
		}
		if b.pair != nil {
			b.pair.Release()
		}
	}

	if hadSession {
		if wasPush {
			sess.ReleaseBroadcaster()
		}
		rs.registry.Release(key)
	}
}

func overbufferLimiter(cfg serverconfig.Config) *rate.Limiter {
	// overbuffer_rate is a multiplier over real-time delivery; absent a
	// known per-track bitrate this is expressed as packets/sec headroom
	// over a conservative 1000 pkt/s baseline (about 11 Mbps of 1400-byte
	// packets), scaled by the multiplier.
	const baselinePacketsPerSec = 1000
	limit := rate.Limit(float64(baselinePacketsPerSec) * cfg.OverbufferRate)
	burst := int(float64(baselinePacketsPerSec) * cfg.OverbufferRate)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(limit, burst)
}
