package bytecounter

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountsReadsAndWrites(t *testing.T) {
	var buf bytes.Buffer
	bc := New(&buf)

	_, err := bc.Write([]byte("hello"))
	require.NoError(t, err)
	require.EqualValues(t, 5, bc.BytesSent())

	p := make([]byte, 5)
	_, err = bc.Read(p)
	require.NoError(t, err)
	require.EqualValues(t, 5, bc.BytesReceived())
}
