package description

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const twoTrackSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=live\r\n" +
	"c=IN IP4 192.168.1.50\r\n" +
	"t=0 0\r\n" +
	"m=audio 0 RTP/AVP 0\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"m=video 0 RTP/AVP 96\r\n" +
	"a=rtpmap:96 H264/90000\r\n"

func TestUnmarshalAssignsTrackIDs(t *testing.T) {
	d, err := Unmarshal([]byte(twoTrackSDP))
	require.NoError(t, err)
	require.Len(t, d.Medias, 2)
	require.Equal(t, 1, d.Medias[0].TrackID)
	require.Equal(t, 2, d.Medias[1].TrackID)
	require.Equal(t, MediaTypeAudio, d.Medias[0].Type)
	require.Equal(t, MediaTypeVideo, d.Medias[1].Type)
}

func TestUnmarshalRejectsNoMediaLines(t *testing.T) {
	_, err := Unmarshal([]byte("v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=live\r\nt=0 0\r\n"))
	require.Error(t, err)
}

func TestMarshalInjectsControlAttributesAndServerAddress(t *testing.T) {
	d, err := Unmarshal([]byte(twoTrackSDP))
	require.NoError(t, err)

	out, err := d.Marshal("203.0.113.10")
	require.NoError(t, err)

	d2, err := Unmarshal(out)
	require.NoError(t, err)
	require.Equal(t, "trackID=1", d2.Medias[0].Control)
	require.Equal(t, "trackID=2", d2.Medias[1].Control)
	require.Contains(t, string(out), "c=IN IP4 203.0.113.10")
}

func TestMarshalIsIdempotent(t *testing.T) {
	d, err := Unmarshal([]byte(twoTrackSDP))
	require.NoError(t, err)

	out1, err := d.Marshal("203.0.113.10")
	require.NoError(t, err)

	d2, err := Unmarshal(out1)
	require.NoError(t, err)

	out2, err := d2.Marshal("203.0.113.10")
	require.NoError(t, err)

	require.Equal(t, out1, out2)
}

func TestFindTrack(t *testing.T) {
	d, err := Unmarshal([]byte(twoTrackSDP))
	require.NoError(t, err)

	require.NotNil(t, d.FindTrack(1))
	require.Nil(t, d.FindTrack(99))
}
