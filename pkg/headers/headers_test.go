package headers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coldcutmedia/rtspreflect/pkg/base"
)

func TestTransportReadWrite(t *testing.T) {
	var h Transport
	err := h.Read(base.HeaderValue{"RTP/AVP;unicast;client_port=4002-4003"})
	require.NoError(t, err)
	require.Equal(t, TransportProtocolUDP, h.Protocol)
	require.NotNil(t, h.ClientPorts)
	require.Equal(t, [2]int{4002, 4003}, *h.ClientPorts)

	enc := h.Write()
	require.Contains(t, enc[0], "client_port=4002-4003")
}

func TestTransportReadTCPInterleaved(t *testing.T) {
	var h Transport
	err := h.Read(base.HeaderValue{"RTP/AVP/TCP;unicast;interleaved=0-1"})
	require.NoError(t, err)
	require.Equal(t, TransportProtocolTCP, h.Protocol)
	require.Equal(t, [2]int{0, 1}, *h.InterleavedIDs)
}

func TestTransportReadRecordMode(t *testing.T) {
	var h Transport
	err := h.Read(base.HeaderValue{"RTP/AVP;unicast;client_port=5000-5001;mode=record"})
	require.NoError(t, err)
	require.NotNil(t, h.Mode)
	require.Equal(t, TransportModeRecord, *h.Mode)
}

func TestTransportMissingProtocol(t *testing.T) {
	var h Transport
	err := h.Read(base.HeaderValue{"unicast"})
	require.Error(t, err)
}

func TestSessionReadWrite(t *testing.T) {
	var h Session
	err := h.Read(base.HeaderValue{"123456789;timeout=60"})
	require.NoError(t, err)
	require.Equal(t, "123456789", h.Session)
	require.NotNil(t, h.Timeout)
	require.Equal(t, uint(60), *h.Timeout)

	require.Equal(t, base.HeaderValue{"123456789;timeout=60"}, h.Write())
}

func TestRangeNow(t *testing.T) {
	var h Range
	err := h.Read(base.HeaderValue{"npt=now-"})
	require.NoError(t, err)
	require.True(t, h.IsLiveNow())
}

func TestRangeExplicitStart(t *testing.T) {
	var h Range
	err := h.Read(base.HeaderValue{"npt=5.0-"})
	require.NoError(t, err)
	require.False(t, h.IsLiveNow())
}

func TestRTPInfoReadWrite(t *testing.T) {
	var h RTPInfo
	err := h.Read(base.HeaderValue{"url=rtsp://a/trackID=1;seq=100;rtptime=200,url=rtsp://a/trackID=2;seq=300;rtptime=400"})
	require.NoError(t, err)
	require.Len(t, h, 2)
	require.Equal(t, uint16(100), *h[0].SequenceNumber)
	require.Equal(t, uint32(400), *h[1].Timestamp)
}
