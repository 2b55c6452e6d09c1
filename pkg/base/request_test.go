package base

import (
	"bufio"
	"bytes"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestUnmarshal(t *testing.T) {
	raw := "OPTIONS rtsp://example.com/live.sdp RTSP/1.0\r\n" +
		"CSeq: 1\r\n" +
		"\r\n"

	var req Request
	err := req.Unmarshal(bufio.NewReader(bytes.NewReader([]byte(raw))))
	require.NoError(t, err)

	require.Equal(t, Options, req.Method)
	require.Equal(t, "example.com", req.URL.Host)
	require.Equal(t, HeaderValue{"1"}, req.Header["CSeq"])
}

func TestRequestUnmarshalAsterisk(t *testing.T) {
	raw := "OPTIONS * RTSP/1.0\r\nCSeq: 1\r\n\r\n"

	var req Request
	err := req.Unmarshal(bufio.NewReader(bytes.NewReader([]byte(raw))))
	require.NoError(t, err)
	require.Nil(t, req.URL)
}

func TestRequestUnmarshalWithBody(t *testing.T) {
	body := "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns= \r\nm=audio 0 RTP/AVP 0\r\n"
	raw := "ANNOUNCE rtsp://example.com/live.sdp RTSP/1.0\r\n" +
		"CSeq: 2\r\n" +
		"Content-Type: application/sdp\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"\r\n" + body

	var req Request
	err := req.Unmarshal(bufio.NewReader(bytes.NewReader([]byte(raw))))
	require.NoError(t, err)
	require.Equal(t, []byte(body), req.Body)
}

func TestRequestMarshalRoundTrip(t *testing.T) {
	u, err := ParseURL("rtsp://example.com/live.sdp")
	require.NoError(t, err)

	req := Request{
		Method: Setup,
		URL:    u,
		Header: Header{
			"CSeq":      HeaderValue{"3"},
			"Transport": HeaderValue{"RTP/AVP;unicast;client_port=4000-4001"},
		},
	}

	enc, err := req.Marshal()
	require.NoError(t, err)

	var req2 Request
	err = req2.Unmarshal(bufio.NewReader(bytes.NewReader(enc)))
	require.NoError(t, err)

	require.Equal(t, req.Method, req2.Method)
	require.Equal(t, req.URL.String(), req2.URL.String())
	require.Equal(t, req.Header["CSeq"], req2.Header["CSeq"])
}
