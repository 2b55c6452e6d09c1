package udppool

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireReturnsEvenOddPair(t *testing.T) {
	pl := New("127.0.0.1", 30000, 30100)
	defer pl.Close()

	p, err := pl.Acquire()
	require.NoError(t, err)
	require.NotNil(t, p)

	rtpPort := p.RTP.LocalAddr().(*net.UDPAddr).Port
	rtcpPort := p.RTCP.LocalAddr().(*net.UDPAddr).Port

	require.Equal(t, 0, rtpPort%2)
	require.Equal(t, rtpPort+1, rtcpPort)
}

func TestReleaseThenAcquireReusesPair(t *testing.T) {
	pl := New("127.0.0.1", 30200, 30300)
	defer pl.Close()

	p1, err := pl.Acquire()
	require.NoError(t, err)
	port1 := p1.port
	p1.Release()

	p2, err := pl.Acquire()
	require.NoError(t, err)
	require.Equal(t, port1, p2.port)
}
