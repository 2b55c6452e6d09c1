package rtspsession

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/coldcutmedia/rtspreflect/internal/registry"
	"github.com/coldcutmedia/rtspreflect/internal/serverconfig"
	"github.com/coldcutmedia/rtspreflect/internal/udppool"
	"github.com/coldcutmedia/rtspreflect/pkg/base"
)

const singleTrackSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=live\r\n" +
	"t=0 0\r\n" +
	"m=video 0 RTP/AVP 96\r\n" +
	"a=rtpmap:96 H264/90000\r\n"

const twoTrackSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=live\r\n" +
	"t=0 0\r\n" +
	"m=audio 0 RTP/AVP 97\r\n" +
	"a=rtpmap:97 mpeg4-generic/48000\r\n" +
	"m=video 0 RTP/AVP 96\r\n" +
	"a=rtpmap:96 H264/90000\r\n"

// testHarness pairs a Session driven over one end of a net.Pipe with a
// raw-protocol client on the other end.
type testHarness struct {
	t      *testing.T
	client net.Conn
	br     *bufio.Reader
}

func newHarness(t *testing.T, cfg serverconfig.Config, reg *registry.Registry, pool *udppool.Pool) *testHarness {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	sess := New(serverConn, net.ParseIP("127.0.0.1"), cfg, reg, pool, nil, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = clientConn.Close()
	})

	go sess.Run(ctx)

	return &testHarness{t: t, client: clientConn, br: bufio.NewReader(clientConn)}
}

func (h *testHarness) do(req *base.Request) *base.Response {
	h.t.Helper()

	buf, err := req.Marshal()
	require.NoError(h.t, err)
	_, err = h.client.Write(buf)
	require.NoError(h.t, err)

	res := &base.Response{}
	require.NoError(h.t, res.Unmarshal(h.br))
	return res
}

// readInterleavedFrame reads one interleaved frame from the client side,
// failing if the next byte does not start one (used after PLAY, once only
// frames are expected).
func (h *testHarness) readInterleavedFrame() (*base.InterleavedFrame, error) {
	b, err := h.br.Peek(1)
	if err != nil {
		return nil, err
	}
	if b[0] != base.InterleavedFrameMagicByte {
		h.t.Fatalf("expected interleaved frame, got byte 0x%x", b[0])
	}
	f := &base.InterleavedFrame{}
	if err := f.Unmarshal(h.br); err != nil {
		return nil, err
	}
	return f, nil
}

func mustURL(t *testing.T, s string) *base.URL {
	t.Helper()
	u, err := base.ParseURL(s)
	require.NoError(t, err)
	return u
}

func newTestConfig() serverconfig.Config {
	cfg := serverconfig.Defaults()
	cfg.ReflectorBucketSizePackets = 64
	cfg.ServerAddress = "127.0.0.1"
	return cfg
}

func TestOptionsBaseline(t *testing.T) {
	cfg := newTestConfig()
	reg := registry.New(cfg.ReflectorBucketSizePackets, cfg.AllowDuplicateBroadcasts)
	pool := udppool.New("127.0.0.1", 40000, 40100)
	t.Cleanup(pool.Close)

	h := newHarness(t, cfg, reg, pool)

	res := h.do(&base.Request{
		Method: base.Options,
		URL:    mustURL(t, "rtsp://127.0.0.1/"),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
	})

	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{"1"}, res.Header["CSeq"])
	require.Contains(t, res.Header["Public"][0], "OPTIONS")
	require.Contains(t, res.Header["Public"][0], "RECORD")
}

func TestAnnounceDescribeRoundTrip(t *testing.T) {
	cfg := newTestConfig()
	reg := registry.New(cfg.ReflectorBucketSizePackets, cfg.AllowDuplicateBroadcasts)
	pool := udppool.New("127.0.0.1", 40200, 40300)
	t.Cleanup(pool.Close)

	broadcaster := newHarness(t, cfg, reg, pool)
	res := broadcaster.do(&base.Request{
		Method: base.Announce,
		URL:    mustURL(t, "rtsp://127.0.0.1/live.sdp"),
		Header: base.Header{
			"CSeq":         base.HeaderValue{"1"},
			"Content-Type": base.HeaderValue{"application/sdp"},
		},
		Body: []byte(twoTrackSDP),
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	puller := newHarness(t, cfg, reg, pool)
	res = puller.do(&base.Request{
		Method: base.Describe,
		URL:    mustURL(t, "rtsp://127.0.0.1/live.sdp"),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{"application/sdp"}, res.Header["Content-Type"])

	body := string(res.Body)
	require.Equal(t, 2, strings.Count(body, "\r\nm="))
	require.Contains(t, body, "a=control:trackID=1")
	require.Contains(t, body, "a=control:trackID=2")
}

func TestDuplicateBroadcastRejected(t *testing.T) {
	cfg := newTestConfig()
	reg := registry.New(cfg.ReflectorBucketSizePackets, cfg.AllowDuplicateBroadcasts)
	pool := udppool.New("127.0.0.1", 40400, 40500)
	t.Cleanup(pool.Close)

	first := newHarness(t, cfg, reg, pool)
	res := first.do(&base.Request{
		Method: base.Announce,
		URL:    mustURL(t, "rtsp://127.0.0.1/dup.sdp"),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
		Body:   []byte(singleTrackSDP),
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	second := newHarness(t, cfg, reg, pool)
	res = second.do(&base.Request{
		Method: base.Announce,
		URL:    mustURL(t, "rtsp://127.0.0.1/dup.sdp"),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
		Body:   []byte(singleTrackSDP),
	})
	require.Equal(t, base.StatusPreconditionFailed, res.StatusCode)

	// The first broadcaster is unaffected and can still RECORD.
	res = first.do(&base.Request{
		Method: base.Setup,
		URL:    mustURL(t, "rtsp://127.0.0.1/dup.sdp/trackID=1"),
		Header: base.Header{
			"CSeq":      base.HeaderValue{"2"},
			"Transport": base.HeaderValue{"RTP/AVP/TCP;unicast;interleaved=0-1;mode=record"},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)
}

func TestPushPullFanoutInterleaved(t *testing.T) {
	cfg := newTestConfig()
	cfg.EmitRTPInfo = false
	reg := registry.New(cfg.ReflectorBucketSizePackets, cfg.AllowDuplicateBroadcasts)
	pool := udppool.New("127.0.0.1", 40600, 40700)
	t.Cleanup(pool.Close)

	broadcaster := newHarness(t, cfg, reg, pool)
	res := broadcaster.do(&base.Request{
		Method: base.Announce,
		URL:    mustURL(t, "rtsp://127.0.0.1/fanout.sdp"),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
		Body:   []byte(singleTrackSDP),
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	res = broadcaster.do(&base.Request{
		Method: base.Setup,
		URL:    mustURL(t, "rtsp://127.0.0.1/fanout.sdp/trackID=1"),
		Header: base.Header{
			"CSeq":      base.HeaderValue{"2"},
			"Transport": base.HeaderValue{"RTP/AVP/TCP;unicast;interleaved=0-1;mode=record"},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	res = broadcaster.do(&base.Request{
		Method: base.Record,
		URL:    mustURL(t, "rtsp://127.0.0.1/fanout.sdp"),
		Header: base.Header{"CSeq": base.HeaderValue{"3"}},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	puller := newHarness(t, cfg, reg, pool)
	res = puller.do(&base.Request{
		Method: base.Setup,
		URL:    mustURL(t, "rtsp://127.0.0.1/fanout.sdp/trackID=1"),
		Header: base.Header{
			"CSeq":      base.HeaderValue{"1"},
			"Transport": base.HeaderValue{"RTP/AVP/TCP;unicast;interleaved=0-1"},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	res = puller.do(&base.Request{
		Method: base.Play,
		URL:    mustURL(t, "rtsp://127.0.0.1/fanout.sdp"),
		Header: base.Header{"CSeq": base.HeaderValue{"2"}},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	const numPackets = 20
	for i := 0; i < numPackets; i++ {
		p := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    96,
				SequenceNumber: uint16(1000 + i),
				Timestamp:      uint32(90000 + i*3000),
				SSRC:           0xDEADBEEF,
			},
			Payload: []byte{byte(i)},
		}
		raw, err := p.Marshal()
		require.NoError(t, err)

		frame := &base.InterleavedFrame{Channel: 0, Payload: raw}
		buf, err := frame.Marshal()
		require.NoError(t, err)
		_, err = broadcaster.client.Write(buf)
		require.NoError(t, err)
	}

	var lastSeq uint16
	var gotFirst bool
	for i := 0; i < numPackets; i++ {
		_ = broadcaster.client.SetReadDeadline(time.Time{})
		_ = puller.client.SetReadDeadline(time.Now().Add(5 * time.Second))
		f, err := puller.readInterleavedFrame()
		require.NoError(t, err)
		require.Equal(t, 0, f.Channel)

		var got rtp.Packet
		require.NoError(t, got.Unmarshal(f.Payload))

		if !gotFirst {
			lastSeq = got.SequenceNumber
			gotFirst = true
			continue
		}
		require.Equal(t, lastSeq+1, got.SequenceNumber)
		lastSeq = got.SequenceNumber
	}
}

// TestSessionIdleTimeout: a session that completes OPTIONS and then sends
// no further traffic is closed by the server once the idle timeout lapses,
// observed by the client's read returning EOF.
func TestSessionIdleTimeout(t *testing.T) {
	cfg := newTestConfig()
	cfg.RTSPTimeout = 200 * time.Millisecond
	reg := registry.New(cfg.ReflectorBucketSizePackets, cfg.AllowDuplicateBroadcasts)
	pool := udppool.New("127.0.0.1", 40700, 40800)
	h := newHarness(t, cfg, reg, pool)

	res := h.do(&base.Request{
		Method: base.Options,
		URL:    mustURL(t, "rtsp://127.0.0.1/"),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	_ = h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err := h.client.Read(buf)
	require.Error(t, err)
}

func TestSessionIDIsDecimal(t *testing.T) {
	cfg := newTestConfig()
	reg := registry.New(cfg.ReflectorBucketSizePackets, cfg.AllowDuplicateBroadcasts)
	pool := udppool.New("127.0.0.1", 41000, 41100)
	t.Cleanup(pool.Close)

	h := newHarness(t, cfg, reg, pool)

	res := h.do(&base.Request{
		Method: base.Announce,
		URL:    mustURL(t, "rtsp://127.0.0.1/decimal.sdp"),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
		Body:   []byte(singleTrackSDP),
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	res = h.do(&base.Request{
		Method: base.Setup,
		URL:    mustURL(t, "rtsp://127.0.0.1/decimal.sdp/trackID=1"),
		Header: base.Header{
			"CSeq":      base.HeaderValue{"2"},
			"Transport": base.HeaderValue{"RTP/AVP/TCP;unicast;interleaved=0-1;mode=record"},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	sessionID := strings.SplitN(res.Header["Session"][0], ";", 2)[0]
	_, err := strconv.ParseUint(sessionID, 10, 64)
	require.NoError(t, err)
	require.Equal(t, base.HeaderValue{"no-cache"}, res.Header["Cache-Control"])
}

func TestMismatchedSessionHeaderRejected(t *testing.T) {
	cfg := newTestConfig()
	reg := registry.New(cfg.ReflectorBucketSizePackets, cfg.AllowDuplicateBroadcasts)
	pool := udppool.New("127.0.0.1", 41200, 41300)
	t.Cleanup(pool.Close)

	h := newHarness(t, cfg, reg, pool)

	res := h.do(&base.Request{
		Method: base.Teardown,
		URL:    mustURL(t, "rtsp://127.0.0.1/any.sdp"),
		Header: base.Header{
			"CSeq":    base.HeaderValue{"1"},
			"Session": base.HeaderValue{"12345"},
		},
	})
	require.Equal(t, base.StatusSessionNotFound, res.StatusCode)
}

func TestConnectionCloseHonored(t *testing.T) {
	cfg := newTestConfig()
	reg := registry.New(cfg.ReflectorBucketSizePackets, cfg.AllowDuplicateBroadcasts)
	pool := udppool.New("127.0.0.1", 41400, 41500)
	t.Cleanup(pool.Close)

	h := newHarness(t, cfg, reg, pool)

	res := h.do(&base.Request{
		Method: base.Options,
		URL:    mustURL(t, "rtsp://127.0.0.1/"),
		Header: base.Header{
			"CSeq":       base.HeaderValue{"1"},
			"Connection": base.HeaderValue{"close"},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{"close"}, res.Header["Connection"])

	_ = h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err := h.client.Read(buf)
	require.Error(t, err)
}

func TestPlayWithPastRangeRejected(t *testing.T) {
	cfg := newTestConfig()
	reg := registry.New(cfg.ReflectorBucketSizePackets, cfg.AllowDuplicateBroadcasts)
	pool := udppool.New("127.0.0.1", 41600, 41700)
	t.Cleanup(pool.Close)

	broadcaster := newHarness(t, cfg, reg, pool)
	res := broadcaster.do(&base.Request{
		Method: base.Announce,
		URL:    mustURL(t, "rtsp://127.0.0.1/range.sdp"),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
		Body:   []byte(singleTrackSDP),
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	puller := newHarness(t, cfg, reg, pool)
	res = puller.do(&base.Request{
		Method: base.Setup,
		URL:    mustURL(t, "rtsp://127.0.0.1/range.sdp/trackID=1"),
		Header: base.Header{
			"CSeq":      base.HeaderValue{"1"},
			"Transport": base.HeaderValue{"RTP/AVP/TCP;unicast;interleaved=0-1"},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	res = puller.do(&base.Request{
		Method: base.Play,
		URL:    mustURL(t, "rtsp://127.0.0.1/range.sdp"),
		Header: base.Header{
			"CSeq":  base.HeaderValue{"2"},
			"Range": base.HeaderValue{"npt=10.0-"},
		},
	})
	require.Equal(t, base.StatusInvalidRange, res.StatusCode)
}
