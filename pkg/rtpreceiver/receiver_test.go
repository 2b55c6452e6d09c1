package rtpreceiver

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func TestProcessPacketTracksLoss(t *testing.T) {
	rr := &Receiver{ClockRate: 90000, Period: time.Second}
	require.NoError(t, rr.Start())
	defer rr.Close()

	now := time.Now()
	rr.ProcessPacket(&rtp.Packet{Header: rtp.Header{SequenceNumber: 100, Timestamp: 1000}}, now)
	rr.ProcessPacket(&rtp.Packet{Header: rtp.Header{SequenceNumber: 103, Timestamp: 1300}}, now.Add(10*time.Millisecond))

	stats := rr.Stats()
	require.NotNil(t, stats)
	require.EqualValues(t, 2, stats.TotalLost)
	require.EqualValues(t, 103, stats.LastSequenceNumber)
}

func TestStatsNilBeforeFirstPacket(t *testing.T) {
	rr := &Receiver{ClockRate: 90000, Period: time.Second}
	require.NoError(t, rr.Start())
	defer rr.Close()

	require.Nil(t, rr.Stats())
}
