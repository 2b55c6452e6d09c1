package reflector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyLossFeedbackRaisesAndLowers(t *testing.T) {
	s := NewStream(16, 90000)
	out := NewOutput(s, 0)
	defer out.Close()

	// heavy loss: one level per report, capped at QualityMax
	for i := 0; i < 10; i++ {
		out.ApplyLossFeedback(200)
	}
	require.Equal(t, QualityMax, out.Quality())

	// clean reports recover one level at a time, floored at QualityFull
	for i := 0; i < 10; i++ {
		out.ApplyLossFeedback(0)
	}
	require.Equal(t, QualityFull, out.Quality())
}

func TestApplyLossFeedbackHysteresisBand(t *testing.T) {
	s := NewStream(16, 90000)
	out := NewOutput(s, 3)
	defer out.Close()

	// a report inside the band moves nothing in either direction
	out.ApplyLossFeedback(15)
	require.Equal(t, 3, out.Quality())
}

func TestRaiseQualityClampsAtMax(t *testing.T) {
	s := NewStream(16, 90000)
	out := NewOutput(s, QualityMax)
	defer out.Close()

	out.RaiseQuality()
	require.Equal(t, QualityMax, out.Quality())
}

func TestPushFeedsIngestReceiverStats(t *testing.T) {
	s := NewStream(16, 90000)

	s.Push(ChannelRTP, rtpPayload(10, 3000), time.Now())
	s.Push(ChannelRTP, rtpPayload(11, 6000), time.Now())
	// a gap of two packets
	s.Push(ChannelRTP, rtpPayload(14, 9000), time.Now())

	stats := s.Receiver.Stats()
	require.NotNil(t, stats)
	require.Equal(t, uint64(3), stats.TotalReceived)
	require.Equal(t, uint64(2), stats.TotalLost)
	require.Equal(t, uint16(14), stats.LastSequenceNumber)
}
