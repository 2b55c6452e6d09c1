package base

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterleavedFrameRoundTrip(t *testing.T) {
	f := InterleavedFrame{
		Channel: 2,
		Payload: []byte{1, 2, 3, 4, 5},
	}

	enc, err := f.Marshal()
	require.NoError(t, err)
	require.Equal(t, []byte{0x24, 0x02, 0x00, 0x05, 1, 2, 3, 4, 5}, enc)

	var f2 InterleavedFrame
	err = f2.Unmarshal(bufio.NewReader(bytes.NewReader(enc)))
	require.NoError(t, err)
	require.Equal(t, f, f2)
}

func TestInterleavedFrameInvalidMagicByte(t *testing.T) {
	var f InterleavedFrame
	err := f.Unmarshal(bufio.NewReader(bytes.NewReader([]byte{0x00, 0x00, 0x00, 0x00})))
	require.Error(t, err)
}
