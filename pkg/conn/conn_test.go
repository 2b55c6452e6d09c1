package conn

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coldcutmedia/rtspreflect/pkg/base"
)

type loopback struct {
	bytes.Buffer
}

func TestReadRequestThenInterleavedFrame(t *testing.T) {
	var lb loopback
	lb.WriteString("OPTIONS * RTSP/1.0\r\nCSeq: 1\r\n\r\n")

	f := base.InterleavedFrame{Channel: 0, Payload: []byte{1, 2, 3}}
	enc, err := f.Marshal()
	require.NoError(t, err)
	lb.Write(enc)

	c := New(&lb)

	v, err := c.ReadInterleavedFrameOrRequest()
	require.NoError(t, err)
	req, ok := v.(*base.Request)
	require.True(t, ok)
	require.Equal(t, base.Options, req.Method)

	v, err = c.ReadInterleavedFrameOrRequest()
	require.NoError(t, err)
	frame, ok := v.(*base.InterleavedFrame)
	require.True(t, ok)
	require.Equal(t, f.Payload, frame.Payload)
}

func TestWriteInterleavedFrameCoalesces(t *testing.T) {
	var lb loopback
	c := New(&lb)

	small := &base.InterleavedFrame{Channel: 0, Payload: []byte{1, 2}}
	require.NoError(t, c.WriteInterleavedFrame(small))
	require.Equal(t, 0, lb.Len())

	require.NoError(t, c.Flush())
	require.Greater(t, lb.Len(), 0)
}

func TestWriteLargeInterleavedFrameBypassesCoalescer(t *testing.T) {
	var lb loopback
	c := New(&lb)

	big := &base.InterleavedFrame{Channel: 0, Payload: make([]byte, base.InterleavedFrameCoalesceThreshold+1)}
	require.NoError(t, c.WriteInterleavedFrame(big))
	require.Equal(t, big.MarshalSize(), lb.Len())
}
