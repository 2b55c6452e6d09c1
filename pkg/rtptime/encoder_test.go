package rtptime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncoderRewrite(t *testing.T) {
	e := NewEncoder(90000, 1000)
	require.Equal(t, uint32(1000), e.Encode(5000, 5000))
	require.Equal(t, uint32(1900), e.Encode(5900, 5000))
}

func TestDecoderUnwrap(t *testing.T) {
	d := NewDecoder(90000)
	require.EqualValues(t, 0, d.Decode(100))
	require.EqualValues(t, 900, d.Decode(1000))

	// wraparound: 0xFFFFFFFE -> 2 is a diff of +4, not a huge negative jump
	d2 := NewDecoder(90000)
	d2.Decode(0xFFFFFFFE)
	require.EqualValues(t, 4, d2.Decode(2))
}
