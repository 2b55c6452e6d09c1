package reflector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQualityFullKeepsEverything(t *testing.T) {
	s := NewStream(32, 90000)
	out := NewOutput(s, QualityFull)
	defer out.Close()

	for i := uint16(0); i < 20; i++ {
		s.Push(ChannelRTP, rtpPayload(i, uint32(i)*3000), time.Now())
	}

	got := 0
	for {
		_, ok := out.Next()
		if !ok {
			break
		}
		got++
	}
	require.Equal(t, 20, got)
	require.Equal(t, uint64(0), out.TotalLost())
}

func TestQualityMaxDropsMost(t *testing.T) {
	s := NewStream(64, 90000)
	out := NewOutput(s, QualityMax)
	defer out.Close()

	for i := uint16(0); i < 20; i++ {
		s.Push(ChannelRTP, rtpPayload(i, uint32(i)*3000), time.Now())
	}

	got := 0
	for {
		_, ok := out.Next()
		if !ok {
			break
		}
		got++
	}
	require.Less(t, got, 20)
	require.Greater(t, out.TotalLost(), uint64(0))
}

func TestRTCPNeverThinned(t *testing.T) {
	require.False(t, shouldDrop(QualityMax, 1, Packet{Channel: ChannelRTCP}))
}
